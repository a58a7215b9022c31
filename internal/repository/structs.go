package repository

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("not found")

type OrderStatus string

const (
	OrderStatusNew            OrderStatus = "new"
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusInDelivery     OrderStatus = "in_delivery"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransition enforces the forward-only order state machine. Cancellation is
// reachable from any non-terminal state; completed/cancelled orders never move again.
func CanTransition(from, to OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	next := map[OrderStatus]OrderStatus{
		OrderStatusNew:            OrderStatusPendingPayment,
		OrderStatusPendingPayment: OrderStatusPaid,
		OrderStatusPaid:           OrderStatusInDelivery,
		OrderStatusInDelivery:     OrderStatusCompleted,
	}
	return next[from] == to
}

type EventType string

const (
	EventCreated         EventType = "created"
	EventStatusChanged   EventType = "status_changed"
	EventPaymentReceived EventType = "payment_received"
	EventShipped         EventType = "shipped"
	EventDelivered       EventType = "delivered"
	EventCancelled       EventType = "cancelled"
)

type Order struct {
	ID     int64       `db:"id"`
	UserID *int64      `db:"user_id"`
	Status OrderStatus `db:"status"`

	SenderName           string  `db:"sender_name"`
	SenderPhone          string  `db:"sender_phone"`
	SenderAddress        string  `db:"sender_address"`
	SenderCity           string  `db:"sender_city"`
	SenderCompany        *string `db:"sender_company"`
	SenderTIN            *string `db:"sender_tin"`
	SenderContragentType *string `db:"sender_contragent_type"`

	RecipientName         string  `db:"recipient_name"`
	RecipientPhone        string  `db:"recipient_phone"`
	RecipientAddress      string  `db:"recipient_address"`
	RecipientCity         string  `db:"recipient_city"`
	RecipientPointCode    *string `db:"recipient_point_code"`
	RecipientPointAddress *string `db:"recipient_point_address"`

	Weight       float64  `db:"weight"`
	Length       *float64 `db:"length"`
	Width        *float64 `db:"width"`
	Height       *float64 `db:"height"`
	PackagePhoto *string  `db:"package_photo"`

	CompanyID   *int64 `db:"company_id"`
	CompanyName string `db:"company_name"`
	TariffCode  *int   `db:"tariff_code"`
	TariffName  string `db:"tariff_name"`

	BasePrice      float64 `db:"base_price"`
	PackagingPrice float64 `db:"packaging_price"`
	InsurancePrice float64 `db:"insurance_price"`
	Commission     float64 `db:"commission"`
	AcquiringFee   float64 `db:"acquiring_fee"`
	Price          float64 `db:"price"`

	// Set exactly once, by a successful booking. Immutable afterwards.
	ExternalOrderUUID   *string `db:"external_order_uuid"`
	ExternalOrderNumber *string `db:"external_order_number"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type OrderEvent struct {
	ID          int64           `db:"id"`
	OrderID     int64           `db:"order_id"`
	EventType   EventType       `db:"event_type"`
	Description string          `db:"description"`
	Metadata    json.RawMessage `db:"metadata"`
	CreatedAt   time.Time       `db:"created_at"`
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment is one payment attempt. An order may accumulate several attempts but
// at most one of them ever reaches success.
type Payment struct {
	ID              int64         `db:"id"`
	OrderID         int64         `db:"order_id"`
	Amount          float64       `db:"amount"`
	Status          PaymentStatus `db:"status"`
	ExternalID      *string       `db:"external_id"`
	ConfirmationURL *string       `db:"confirmation_url"`
	IdempotenceKey  *string       `db:"idempotence_key"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

const (
	APITypeInternal = "internal"
	APITypeCDEK     = "cdek"
)

type TransportCompany struct {
	ID                int64     `db:"id"`
	Name              string    `db:"name"`
	Code              string    `db:"code"`
	APIType           string    `db:"api_type"`
	APIAccount        *string   `db:"api_account"`
	APISecurePassword *string   `db:"api_secure_password"`
	LogoURL           *string   `db:"logo_url"`
	DefaultTariffCode *int      `db:"default_tariff_code"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
}

// Tariff is a static weight band for carriers without a live API.
type Tariff struct {
	ID               int64     `db:"id"`
	CompanyID        int64     `db:"company_id"`
	Name             string    `db:"name"`
	MinWeight        float64   `db:"min_weight"`
	MaxWeight        float64   `db:"max_weight"`
	BasePrice        float64   `db:"base_price"`
	PricePerKg       float64   `db:"price_per_kg"`
	CourierPickup    bool      `db:"courier_pickup"`
	CourierDelivery  bool      `db:"courier_delivery"`
	CourierSurcharge float64   `db:"courier_surcharge"`
	IsActive         bool      `db:"is_active"`
	CreatedAt        time.Time `db:"created_at"`
}

// AppSettingsKey is the fixed key of the single settings row.
const AppSettingsKey = "default"

type AppSettings struct {
	ID                int64     `db:"id"`
	Key               string    `db:"key"`
	PackagingPrice    float64   `db:"packaging_price"`
	CommissionPercent float64   `db:"commission_percent"`
	AcquiringPercent  float64   `db:"acquiring_percent"`
	InsurancePrice    float64   `db:"insurance_price"`
	ThirdPartyName    *string   `db:"third_party_name"`
	ThirdPartyPhone   *string   `db:"third_party_phone"`
	ThirdPartyAddress *string   `db:"third_party_address"`
	ThirdPartyTIN     *string   `db:"third_party_tin"`
	UpdatedAt         time.Time `db:"updated_at"`
}

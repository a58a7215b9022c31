package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrCityNotFound is an input error: the free-text city could not be resolved
// to a carrier city code. Never retried.
var ErrCityNotFound = errors.New("city not found")

// Rejection means the carrier accepted the request but flagged the order
// invalid. Not retryable; the order must not remain paid locally.
type Rejection struct {
	Errors []string
	Raw    json.RawMessage
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("carrier rejected order: %s", strings.Join(r.Errors, "; "))
}

type QuoteRequest struct {
	FromCity        string
	ToCity          string
	Weight          float64
	Length          *float64
	Width           *float64
	Height          *float64
	TariffCode      *int
	DeclaredValue   float64
	CourierPickup   bool
	CourierDelivery bool
}

type Offer struct {
	CompanyID     int64   `json:"company_id"`
	CompanyName   string  `json:"company_name"`
	CompanyCode   string  `json:"company_code"`
	LogoURL       *string `json:"logo_url,omitempty"`
	Price         float64 `json:"price"`
	TariffCode    *int    `json:"tariff_code,omitempty"`
	TariffName    string  `json:"tariff_name"`
	DeliveryDays  int     `json:"delivery_time,omitempty"`
	InsuranceCost float64 `json:"insurance_cost,omitempty"`
}

type Party struct {
	Name           string
	Company        string
	Phone          string
	TIN            string
	ContragentType string
	Address        string
	City           string
}

// Seller is the legal shipper declared to the carrier; may be a third party
// substituted for the actual sender.
type Seller struct {
	Name    string
	Phone   string
	Address string
	TIN     string
}

type BookRequest struct {
	OrderID    int64
	TariffCode int

	Sender    Party
	Recipient Party
	Seller    *Seller

	Weight float64
	Length *float64
	Width  *float64
	Height *float64

	// DeclaredValue is the item valuation; collect-on-delivery is always zero,
	// the platform has already captured payment.
	DeclaredValue float64

	DeliveryPointCode *string
}

type BookResult struct {
	ExternalUUID string
	// ExternalNumber may be empty when the carrier answered asynchronously;
	// the synchronizer backfills it later.
	ExternalNumber string
	DeliveryPoint  string
	Raw            json.RawMessage
}

type StatusEntry struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	DateTime string `json:"date_time"`
}

type StatusInfo struct {
	TrackingNumber string
	Statuses       []StatusEntry
}

// Backend is one carrier integration strategy. Adding a carrier means adding
// a variant, not editing conditionals.
type Backend interface {
	Quote(ctx context.Context, req QuoteRequest) ([]Offer, error)
	Book(ctx context.Context, req BookRequest) (*BookResult, error)
	FetchStatus(ctx context.Context, externalUUID string) (*StatusInfo, error)
}

// CourierScheduler is implemented by backends that support door pickup.
// Scheduling is best effort: "already scheduled" counts as success.
type CourierScheduler interface {
	ScheduleCourier(ctx context.Context, externalUUID, date, timeFrom, timeTo string) error
}

// LabelProvider is implemented by backends that can produce a printable
// shipping label for a booked order.
type LabelProvider interface {
	LabelURL(ctx context.Context, externalUUID string) (string, error)
}

// ShipmentCanceller is implemented by backends that can withdraw a booked
// shipment before it moves.
type ShipmentCanceller interface {
	CancelShipment(ctx context.Context, externalUUID string) error
}

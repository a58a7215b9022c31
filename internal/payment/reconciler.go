package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/db"
	"gitlab.com/parcelmkt/fulfillment/internal/metrics"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

var (
	// ErrAlreadyPaid means the order already carries a successful payment.
	ErrAlreadyPaid = errors.New("order is already paid")
	// ErrOrderNotPayable means the order state does not admit a payment attempt.
	ErrOrderNotPayable = errors.New("order cannot be paid in its current status")
)

type OrderRepo interface {
	GetByID(ctx context.Context, id int64) (*repository.Order, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error)
	UpdateStatus(ctx context.Context, id int64, status repository.OrderStatus) error
	UpdateStatusTx(ctx context.Context, tx db.Tx, id int64, status repository.OrderStatus) error
}

type PaymentRepo interface {
	Create(ctx context.Context, p *repository.Payment) error
	GetByExternalIDTx(ctx context.Context, tx db.Tx, externalID string) (*repository.Payment, error)
	GetPendingByOrder(ctx context.Context, orderID int64) (*repository.Payment, error)
	GetPendingByOrderTx(ctx context.Context, tx db.Tx, orderID int64) (*repository.Payment, error)
	GetSuccessByOrder(ctx context.Context, orderID int64) (*repository.Payment, error)
	UpdateStatusTx(ctx context.Context, tx db.Tx, id int64, status repository.PaymentStatus) error
}

type EventRepo interface {
	CreateTx(ctx context.Context, tx db.Tx, event *repository.OrderEvent) error
}

// Booker starts shipment booking once a payment lands. Its failures never
// fail the webhook; booking is retryable from the operator endpoint.
type Booker interface {
	Book(ctx context.Context, orderID int64) error
}

type Notifier interface {
	EnqueueTx(ctx context.Context, tx db.Tx, phone, text string, orderID int64) error
}

// UserPhones resolves the phone of the account that placed the order, so the
// notification can target the other party.
type UserPhones interface {
	GetPhoneByID(ctx context.Context, id int64) (string, error)
}

// WebhookEvent is the acquiring gateway callback payload.
type WebhookEvent struct {
	Event  string        `json:"event"`
	Object WebhookObject `json:"object"`
}

type WebhookObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// Reconciler owns the payment lifecycle: creating intents against the
// gateway and folding gateway webhooks back into order state. Webhooks are
// at-least-once; every state change here runs under row locks so a replay
// is a visible no-op.
type Reconciler struct {
	db               db.DB
	orders           OrderRepo
	payments         PaymentRepo
	events           EventRepo
	provider         Provider
	booker           Booker
	notifier         Notifier
	users            UserPhones
	returnURL        string
	confirmationBase string
	logger           *zap.Logger
}

func NewReconciler(database db.DB, orders OrderRepo, payments PaymentRepo, events EventRepo, provider Provider, booker Booker, notifier Notifier, users UserPhones, returnURL, confirmationBase string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:               database,
		orders:           orders,
		payments:         payments,
		events:           events,
		provider:         provider,
		booker:           booker,
		notifier:         notifier,
		users:            users,
		returnURL:        returnURL,
		confirmationBase: confirmationBase,
		logger:           logger,
	}
}

// CreateIntent returns a payment attempt with a confirmation URL for the
// order. An open pending attempt is reused; a second success is impossible.
func (r *Reconciler) CreateIntent(ctx context.Context, orderID int64) (*repository.Payment, error) {
	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case repository.OrderStatusNew, repository.OrderStatusPendingPayment:
	default:
		if _, err := r.payments.GetSuccessByOrder(ctx, orderID); err == nil {
			return nil, ErrAlreadyPaid
		}
		return nil, ErrOrderNotPayable
	}
	if _, err := r.payments.GetSuccessByOrder(ctx, orderID); err == nil {
		return nil, ErrAlreadyPaid
	} else if !errors.Is(err, repository.ErrObjectNotFound) {
		return nil, err
	}

	pending, err := r.payments.GetPendingByOrder(ctx, orderID)
	if err == nil && pending.ConfirmationURL != nil && *pending.ConfirmationURL != "" {
		return pending, nil
	}
	if err != nil && !errors.Is(err, repository.ErrObjectNotFound) {
		return nil, err
	}

	key := uuid.New().String()
	intent, err := r.provider.CreatePayment(ctx, CreateRequest{
		OrderID:        order.ID,
		Amount:         order.Price,
		Description:    fmt.Sprintf("Parcel delivery, order #%d", order.ID),
		ReturnURL:      r.returnURL,
		IdempotenceKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	p := &repository.Payment{
		OrderID:        order.ID,
		Amount:         order.Price,
		Status:         repository.PaymentStatusPending,
		IdempotenceKey: &key,
	}
	if intent.ExternalID != "" {
		p.ExternalID = &intent.ExternalID
	}
	if intent.ConfirmationURL != "" {
		p.ConfirmationURL = &intent.ConfirmationURL
	}
	if err := r.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	if order.Status == repository.OrderStatusNew {
		if err := r.orders.UpdateStatus(ctx, order.ID, repository.OrderStatusPendingPayment); err != nil {
			r.logger.Warn("failed to move order to pending_payment",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return p, nil
}

// HandleWebhook applies one gateway callback. Unknown payments are
// acknowledged and dropped so the gateway stops retrying them.
func (r *Reconciler) HandleWebhook(ctx context.Context, event WebhookEvent) error {
	switch event.Object.Status {
	case StatusSucceeded, StatusCanceled:
	default:
		r.logger.Info("webhook with no terminal status, skipping",
			zap.String("event", event.Event), zap.String("status", event.Object.Status))
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := r.lookupPayment(ctx, tx, event.Object)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			metrics.WebhooksIgnoredTotal.Inc()
			r.logger.Warn("webhook for unknown payment, ignoring",
				zap.String("external_id", event.Object.ID))
			return nil
		}
		return err
	}

	switch event.Object.Status {
	case StatusSucceeded:
		if err := r.applySuccess(ctx, tx, p); err != nil {
			return err
		}
	case StatusCanceled:
		if p.Status == repository.PaymentStatusPending {
			if err := r.payments.UpdateStatusTx(ctx, tx, p.ID, repository.PaymentStatusFailed); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if event.Object.Status == StatusSucceeded && p.Status != repository.PaymentStatusSuccess {
		// Outside the transaction: booking talks to an external carrier and
		// must not hold row locks. A failure here is recorded on the order.
		if err := r.booker.Book(ctx, p.OrderID); err != nil {
			r.logger.Error("shipment booking after payment failed",
				zap.Int64("order_id", p.OrderID), zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) lookupPayment(ctx context.Context, tx db.Tx, obj WebhookObject) (*repository.Payment, error) {
	if obj.ID != "" {
		p, err := r.payments.GetByExternalIDTx(ctx, tx, obj.ID)
		if err == nil || !errors.Is(err, repository.ErrObjectNotFound) {
			return p, err
		}
	}
	// Some gateways omit the id on replays; fall back to the order from
	// webhook metadata.
	if raw, ok := obj.Metadata["order_id"]; ok {
		orderID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, repository.ErrObjectNotFound
		}
		return r.payments.GetPendingByOrderTx(ctx, tx, orderID)
	}
	return nil, repository.ErrObjectNotFound
}

func (r *Reconciler) applySuccess(ctx context.Context, tx db.Tx, p *repository.Payment) error {
	if p.Status == repository.PaymentStatusSuccess {
		r.logger.Info("webhook replay for settled payment, no-op", zap.Int64("payment_id", p.ID))
		return nil
	}

	if err := r.payments.UpdateStatusTx(ctx, tx, p.ID, repository.PaymentStatusSuccess); err != nil {
		return err
	}

	order, err := r.orders.GetByIDTx(ctx, tx, p.OrderID)
	if err != nil {
		return err
	}
	if repository.CanTransition(order.Status, repository.OrderStatusPaid) {
		if err := r.orders.UpdateStatusTx(ctx, tx, order.ID, repository.OrderStatusPaid); err != nil {
			return err
		}
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"payment_id": p.ID,
		"amount":     p.Amount,
	})
	if err := r.events.CreateTx(ctx, tx, &repository.OrderEvent{
		OrderID:     order.ID,
		EventType:   repository.EventPaymentReceived,
		Description: fmt.Sprintf("Payment of %.2f received", p.Amount),
		Metadata:    meta,
	}); err != nil {
		return err
	}

	text := fmt.Sprintf("Parcel #%d is paid and handed over for shipping. Track it at %s",
		order.ID, r.confirmationURL(order.ID))
	if err := r.notifier.EnqueueTx(ctx, tx, r.notificationTarget(ctx, order), text, order.ID); err != nil {
		// Notification loss is acceptable, payment state is not.
		r.logger.Warn("failed to enqueue payment notification",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	metrics.PaymentsSucceededTotal.Inc()
	return nil
}

// notificationTarget picks the party that did not place the order: when the
// initiating account's phone matches the sender, the recipient is told, and
// vice versa. The recipient is the fallback when the initiator is anonymous
// or cannot be matched to either side.
func (r *Reconciler) notificationTarget(ctx context.Context, order *repository.Order) string {
	if order.UserID == nil {
		return order.RecipientPhone
	}
	initiator, err := r.users.GetPhoneByID(ctx, *order.UserID)
	if err != nil || initiator == "" {
		return order.RecipientPhone
	}
	if initiator == order.RecipientPhone {
		return order.SenderPhone
	}
	return order.RecipientPhone
}

func (r *Reconciler) confirmationURL(orderID int64) string {
	return fmt.Sprintf("%s/%d", strings.TrimRight(r.confirmationBase, "/"), orderID)
}

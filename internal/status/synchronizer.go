package status

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/metrics"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

// Carrier order-state codes that terminate tracking.
const (
	carrierStatusDelivered = "DELIVERED"
	carrierStatusInvalid   = "INVALID"
	carrierStatusCancelled = "CANCELLED"
)

type OrderRepo interface {
	GetByID(ctx context.Context, id int64) (*repository.Order, error)
	UpdateStatus(ctx context.Context, id int64, status repository.OrderStatus) error
	SetExternalIDs(ctx context.Context, id int64, externalUUID, externalNumber *string) error
	ListSyncable(ctx context.Context) ([]*repository.Order, error)
}

type EventRepo interface {
	Create(ctx context.Context, event *repository.OrderEvent) error
}

type CompanyRepo interface {
	GetByID(ctx context.Context, id int64) (*repository.TransportCompany, error)
}

type BackendFactory interface {
	ForCompany(company *repository.TransportCompany) (carrier.Backend, error)
}

// Synchronizer pulls tracking state from the carrier and folds it into local
// order status. The carrier is the source of truth for delivery progress, so
// mapping ignores the single-step transition rule; only terminal local
// states are immutable.
type Synchronizer struct {
	orders    OrderRepo
	events    EventRepo
	companies CompanyRepo
	backends  BackendFactory
	logger    *zap.Logger
}

func NewSynchronizer(orders OrderRepo, events EventRepo, companies CompanyRepo, backends BackendFactory, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		orders:    orders,
		events:    events,
		companies: companies,
		backends:  backends,
		logger:    logger,
	}
}

// Resync is the operator entry point: one order, by id.
func (s *Synchronizer) Resync(ctx context.Context, orderID int64) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	return s.SyncOrder(ctx, order)
}

// SyncOrder fetches the carrier status history for one booked order and
// applies the latest entry. Re-running it against unchanged carrier state is
// a no-op.
func (s *Synchronizer) SyncOrder(ctx context.Context, order *repository.Order) error {
	if order.ExternalOrderUUID == nil {
		return fmt.Errorf("order %d has no external shipment", order.ID)
	}
	if order.Status.IsTerminal() {
		return nil
	}
	if order.CompanyID == nil {
		return fmt.Errorf("order %d has no carrier assigned", order.ID)
	}

	company, err := s.companies.GetByID(ctx, *order.CompanyID)
	if err != nil {
		return err
	}
	backend, err := s.backends.ForCompany(company)
	if err != nil {
		return err
	}

	info, err := backend.FetchStatus(ctx, *order.ExternalOrderUUID)
	if err != nil {
		return fmt.Errorf("fetch carrier status: %w", err)
	}

	s.backfillTrackingNumber(ctx, order, info)

	if len(info.Statuses) == 0 {
		return nil
	}
	latest := info.Statuses[len(info.Statuses)-1]
	mapped := mapCarrierStatus(latest.Code)
	prior := order.Status
	if mapped == prior {
		return nil
	}

	if err := s.orders.UpdateStatus(ctx, order.ID, mapped); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	metrics.StatusTransitionsTotal.WithLabelValues(string(mapped)).Inc()
	s.logger.Info("order status synced",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(prior)),
		zap.String("to", string(mapped)),
		zap.String("carrier_code", latest.Code))

	s.appendTransitionEvent(ctx, order.ID, prior, latest, mapped, info.Statuses)
	return nil
}

func (s *Synchronizer) backfillTrackingNumber(ctx context.Context, order *repository.Order, info *carrier.StatusInfo) {
	if info.TrackingNumber == "" {
		return
	}
	if order.ExternalOrderNumber != nil && *order.ExternalOrderNumber != "" {
		return
	}
	if err := s.orders.SetExternalIDs(ctx, order.ID, nil, &info.TrackingNumber); err != nil {
		s.logger.Warn("failed to backfill tracking number",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (s *Synchronizer) appendTransitionEvent(ctx context.Context, orderID int64, prior repository.OrderStatus, latest carrier.StatusEntry, mapped repository.OrderStatus, history []carrier.StatusEntry) {
	eventType := repository.EventStatusChanged
	description := fmt.Sprintf("Carrier status %s (%s)", latest.Code, latest.Name)
	switch mapped {
	case repository.OrderStatusCompleted:
		eventType = repository.EventDelivered
		description = "Parcel delivered"
	case repository.OrderStatusCancelled:
		eventType = repository.EventCancelled
		description = fmt.Sprintf("Shipment cancelled by carrier: %s (%s)", latest.Code, latest.Name)
	}

	meta, err := json.Marshal(map[string]interface{}{
		"carrier_code": latest.Code,
		"old_status":   string(prior),
		"new_status":   string(mapped),
		"history":      history,
	})
	if err != nil {
		meta = []byte("{}")
	}
	if err := s.events.Create(ctx, &repository.OrderEvent{
		OrderID:     orderID,
		EventType:   eventType,
		Description: description,
		Metadata:    meta,
	}); err != nil {
		s.logger.Error("failed to append status event",
			zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// SyncAll walks every order with a live shipment. One order's failure does
// not stop the sweep.
func (s *Synchronizer) SyncAll(ctx context.Context) error {
	orders, err := s.orders.ListSyncable(ctx)
	if err != nil {
		return fmt.Errorf("list syncable orders: %w", err)
	}
	var failed int
	for _, order := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.SyncOrder(ctx, order); err != nil {
			failed++
			s.logger.Warn("order sync failed", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d orders failed to sync", failed, len(orders))
	}
	return nil
}

func mapCarrierStatus(code string) repository.OrderStatus {
	switch code {
	case carrierStatusDelivered:
		return repository.OrderStatusCompleted
	case carrierStatusInvalid, carrierStatusCancelled:
		return repository.OrderStatusCancelled
	default:
		return repository.OrderStatusInDelivery
	}
}

package shipment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/carrier/cdek"
	"gitlab.com/parcelmkt/fulfillment/internal/metrics"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

const (
	trackingPollAttempts = 5

	courierTimeFrom = "10:00"
	courierTimeTo   = "18:00"
)

type OrderRepo interface {
	GetByID(ctx context.Context, id int64) (*repository.Order, error)
	UpdateStatus(ctx context.Context, id int64, status repository.OrderStatus) error
	SetExternalIDs(ctx context.Context, id int64, externalUUID, externalNumber *string) error
	SetTariff(ctx context.Context, id int64, tariffCode int, tariffName string) error
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

type Settings interface {
	Get(ctx context.Context) (*repository.AppSettings, error)
}

// SleepFunc is the timer abstraction for the tracking-number poll; tests
// inject an instant one.
type SleepFunc func(ctx context.Context, d time.Duration) error

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator turns a paid order into a carrier shipment. Every failure is
// recorded as an OrderEvent and leaves the order in a safe prior state; the
// payment has been captured already and must never be rolled back by a
// carrier hiccup.
type Orchestrator struct {
	orders    OrderRepo
	events    EventRepo
	companies CompanyRepo
	backends  BackendFactory
	settings  Settings
	sleep     SleepFunc
	logger    *zap.Logger
}

func NewOrchestrator(orders OrderRepo, events EventRepo, companies CompanyRepo, backends BackendFactory, settings Settings, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		orders:    orders,
		events:    events,
		companies: companies,
		backends:  backends,
		settings:  settings,
		sleep:     ctxSleep,
		logger:    logger,
	}
}

// WithSleep replaces the poll timer. Test hook.
func (o *Orchestrator) WithSleep(sleep SleepFunc) *Orchestrator {
	o.sleep = sleep
	return o
}

// Book creates the external shipment for a paid order. Idempotent: an order
// that already carries external identifiers is a no-op.
func (o *Orchestrator) Book(ctx context.Context, orderID int64) error {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if order.ExternalOrderUUID != nil || order.ExternalOrderNumber != nil {
		o.logger.Info("shipment already booked, skipping", zap.Int64("order_id", order.ID))
		return nil
	}
	if order.Status != repository.OrderStatusPaid {
		return fmt.Errorf("order %d is not paid (status %s)", order.ID, order.Status)
	}

	if order.CompanyID == nil {
		o.logger.Info("order has no carrier assigned, nothing to book", zap.Int64("order_id", order.ID))
		return nil
	}
	company, err := o.companies.GetByID(ctx, *order.CompanyID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			o.logger.Warn("carrier not found, nothing to book",
				zap.Int64("order_id", order.ID), zap.Int64p("company_id", order.CompanyID))
			return nil
		}
		return err
	}
	if company.APIType == repository.APITypeInternal {
		o.logger.Info("carrier has no booking API, nothing to book",
			zap.Int64("order_id", order.ID), zap.String("carrier", company.Code))
		return nil
	}

	backend, err := o.backends.ForCompany(company)
	if err != nil {
		o.recordFailure(ctx, order.ID, "backend", err)
		return err
	}

	if err := o.book(ctx, order, backend); err != nil {
		var rejection *carrier.Rejection
		if errors.As(err, &rejection) {
			// The carrier took the order but flagged it invalid; the order
			// must not remain paid locally.
			o.cancelRejected(ctx, order.ID, rejection)
			return err
		}
		o.recordFailure(ctx, order.ID, failureStage(err), err)
		return err
	}
	return nil
}

// Cancel withdraws an order on operator request. A booked shipment is
// cancelled at the carrier first; a carrier refusal aborts the local
// cancellation so the two sides never diverge.
func (o *Orchestrator) Cancel(ctx context.Context, orderID int64) error {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("order %d is already %s", order.ID, order.Status)
	}

	meta := map[string]interface{}{}
	if order.ExternalOrderUUID != nil && order.CompanyID != nil {
		company, err := o.companies.GetByID(ctx, *order.CompanyID)
		if err != nil {
			return err
		}
		backend, err := o.backends.ForCompany(company)
		if err != nil {
			return err
		}
		if canceller, ok := backend.(carrier.ShipmentCanceller); ok {
			if err := canceller.CancelShipment(ctx, *order.ExternalOrderUUID); err != nil {
				return fmt.Errorf("cancel carrier shipment: %w", err)
			}
			meta["external_uuid"] = *order.ExternalOrderUUID
			meta["carrier_cancelled"] = true
		}
	}

	if err := o.orders.UpdateStatus(ctx, order.ID, repository.OrderStatusCancelled); err != nil {
		return err
	}
	o.appendEvent(ctx, order.ID, repository.EventCancelled, "Order cancelled by operator", meta)
	o.logger.Info("order cancelled", zap.Int64("order_id", order.ID))
	return nil
}

func (o *Orchestrator) book(ctx context.Context, order *repository.Order, backend carrier.Backend) error {
	tariffCode, err := o.resolveTariff(ctx, order, backend)
	if err != nil {
		return err
	}

	req, err := o.buildBookRequest(ctx, order, tariffCode)
	if err != nil {
		return err
	}

	res, err := backend.Book(ctx, req)
	if err != nil {
		return err
	}

	externalUUID := res.ExternalUUID
	var externalNumber *string
	if res.ExternalNumber != "" {
		externalNumber = &res.ExternalNumber
	}
	if err := o.orders.SetExternalIDs(ctx, order.ID, &externalUUID, externalNumber); err != nil {
		return fmt.Errorf("persist external ids: %w", err)
	}
	metrics.ShipmentsBookedTotal.Inc()
	o.logger.Info("shipment booked",
		zap.Int64("order_id", order.ID), zap.String("external_uuid", externalUUID))

	if externalNumber == nil {
		// Async carrier answer: the tracking number is assigned later.
		// Exhausting the poll budget is non-fatal, the synchronizer
		// backfills it.
		o.pollTrackingNumber(ctx, order.ID, externalUUID, backend)
	}

	o.finishBooking(ctx, order, backend, res)
	return nil
}

// resolveTariff returns a usable tariff code, re-quoting when the customer's
// pick is absent or incompatible with the requested pickup point.
func (o *Orchestrator) resolveTariff(ctx context.Context, order *repository.Order, backend carrier.Backend) (int, error) {
	wantsPVZ := order.RecipientPointCode != nil && *order.RecipientPointCode != ""

	if order.TariffCode != nil {
		if !wantsPVZ || cdek.PVZTariffCodes[*order.TariffCode] {
			return *order.TariffCode, nil
		}
		o.logger.Warn("selected tariff does not support pickup points, re-quoting",
			zap.Int64("order_id", order.ID), zap.Int("tariff_code", *order.TariffCode))
	}

	offers, err := backend.Quote(ctx, carrier.QuoteRequest{
		FromCity: order.SenderCity,
		ToCity:   order.RecipientCity,
		Weight:   order.Weight,
		Length:   order.Length,
		Width:    order.Width,
		Height:   order.Height,
	})
	if err != nil {
		return 0, fmt.Errorf("re-quote tariffs: %w", err)
	}
	if len(offers) == 0 {
		return 0, fmt.Errorf("no tariffs available for route %s -> %s", order.SenderCity, order.RecipientCity)
	}

	chosen := offers[0]
	if wantsPVZ {
		for _, offer := range offers {
			if offer.TariffCode != nil && cdek.PVZTariffCodes[*offer.TariffCode] {
				chosen = offer
				break
			}
		}
	}
	if chosen.TariffCode == nil {
		return 0, fmt.Errorf("carrier offer carries no tariff code")
	}

	if err := o.orders.SetTariff(ctx, order.ID, *chosen.TariffCode, chosen.TariffName); err != nil {
		o.logger.Warn("failed to pin re-quoted tariff", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return *chosen.TariffCode, nil
}

func (o *Orchestrator) buildBookRequest(ctx context.Context, order *repository.Order, tariffCode int) (carrier.BookRequest, error) {
	req := carrier.BookRequest{
		OrderID:    order.ID,
		TariffCode: tariffCode,
		Sender: carrier.Party{
			Name:           order.SenderName,
			Company:        strDeref(order.SenderCompany),
			Phone:          order.SenderPhone,
			TIN:            strDeref(order.SenderTIN),
			ContragentType: strDeref(order.SenderContragentType),
			Address:        order.SenderAddress,
			City:           order.SenderCity,
		},
		Recipient: carrier.Party{
			Name:    order.RecipientName,
			Phone:   order.RecipientPhone,
			Address: order.RecipientAddress,
			City:    order.RecipientCity,
		},
		Weight: order.Weight,
		Length: order.Length,
		Width:  order.Width,
		Height: order.Height,
		// Item valuation is the paid price; collect-on-delivery is always
		// zero, the platform has captured payment already.
		DeclaredValue:     order.Price,
		DeliveryPointCode: order.RecipientPointCode,
	}

	seller, err := o.resolveSeller(ctx, order)
	if err != nil {
		return carrier.BookRequest{}, err
	}
	req.Seller = seller
	return req, nil
}

// resolveSeller substitutes the third-party declarant from AppSettings for
// the legal shipper when one is configured; otherwise the sender's own
// company identity is declared, when present.
func (o *Orchestrator) resolveSeller(ctx context.Context, order *repository.Order) (*carrier.Seller, error) {
	appSettings, err := o.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	thirdPartyName := strDeref(appSettings.ThirdPartyName)
	thirdPartyTIN := strDeref(appSettings.ThirdPartyTIN)
	if thirdPartyName != "" || thirdPartyTIN != "" {
		name := thirdPartyName
		if name == "" {
			name = order.SenderName
		}
		return &carrier.Seller{
			Name:    name,
			TIN:     thirdPartyTIN,
			Phone:   strDeref(appSettings.ThirdPartyPhone),
			Address: strDeref(appSettings.ThirdPartyAddress),
		}, nil
	}

	senderCompany := strDeref(order.SenderCompany)
	senderTIN := strDeref(order.SenderTIN)
	if senderCompany == "" && senderTIN == "" {
		return nil, nil
	}
	name := senderCompany
	if name == "" {
		name = order.SenderName
	}
	address := order.SenderAddress
	if address == "" {
		address = order.SenderCity
	}
	return &carrier.Seller{
		Name:    name,
		TIN:     senderTIN,
		Phone:   order.SenderPhone,
		Address: address,
	}, nil
}

func (o *Orchestrator) pollTrackingNumber(ctx context.Context, orderID int64, externalUUID string, backend carrier.Backend) {
	for attempt := 1; attempt <= trackingPollAttempts; attempt++ {
		if err := o.sleep(ctx, time.Duration(2*attempt)*time.Second); err != nil {
			return
		}
		info, err := backend.FetchStatus(ctx, externalUUID)
		if err != nil {
			o.logger.Warn("tracking number poll failed",
				zap.Int64("order_id", orderID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if info.TrackingNumber != "" {
			if err := o.orders.SetExternalIDs(ctx, orderID, nil, &info.TrackingNumber); err != nil {
				o.logger.Error("failed to persist tracking number",
					zap.Int64("order_id", orderID), zap.Error(err))
			}
			return
		}
	}
	o.logger.Warn("tracking number not assigned after poll budget, left pending",
		zap.Int64("order_id", orderID), zap.String("external_uuid", externalUUID))
}

// finishBooking records the shipped event. For door pickup the courier is
// scheduled for the next day; a courier failure is a soft error surfaced in
// event metadata, never a rollback trigger. The shipment exists either way.
func (o *Orchestrator) finishBooking(ctx context.Context, order *repository.Order, backend carrier.Backend, res *carrier.BookResult) {
	meta := map[string]interface{}{
		"external_uuid": res.ExternalUUID,
	}

	if res.DeliveryPoint != "" {
		meta["delivery_point"] = res.DeliveryPoint
		o.appendEvent(ctx, order.ID, repository.EventShipped,
			fmt.Sprintf("Shipment booked. UUID: %s. Pickup point: %s", res.ExternalUUID, res.DeliveryPoint), meta)
		return
	}

	courierDate := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	meta["courier_date"] = courierDate

	scheduler, ok := backend.(carrier.CourierScheduler)
	if !ok {
		meta["courier_called"] = false
		o.appendEvent(ctx, order.ID, repository.EventShipped,
			fmt.Sprintf("Shipment booked. UUID: %s. Carrier does not schedule couriers", res.ExternalUUID), meta)
		return
	}

	if err := scheduler.ScheduleCourier(ctx, res.ExternalUUID, courierDate, courierTimeFrom, courierTimeTo); err != nil {
		meta["courier_called"] = false
		meta["courier_error"] = err.Error()
		o.appendEvent(ctx, order.ID, repository.EventShipped,
			fmt.Sprintf("Shipment booked. UUID: %s. Courier call failed", res.ExternalUUID), meta)
		return
	}

	meta["courier_called"] = true
	o.appendEvent(ctx, order.ID, repository.EventShipped,
		fmt.Sprintf("Shipment booked. UUID: %s. Courier scheduled %s %s-%s",
			res.ExternalUUID, courierDate, courierTimeFrom, courierTimeTo), meta)
}

func (o *Orchestrator) cancelRejected(ctx context.Context, orderID int64, rejection *carrier.Rejection) {
	metrics.BookingFailuresTotal.WithLabelValues("rejected").Inc()
	if err := o.orders.UpdateStatus(ctx, orderID, repository.OrderStatusCancelled); err != nil {
		o.logger.Error("failed to cancel rejected order", zap.Int64("order_id", orderID), zap.Error(err))
	}
	o.appendEvent(ctx, orderID, repository.EventCancelled,
		"Carrier rejected the shipment: "+rejection.Error(),
		map[string]interface{}{
			"errors":           rejection.Errors,
			"carrier_response": json.RawMessage(rejection.Raw),
		})
}

func (o *Orchestrator) recordFailure(ctx context.Context, orderID int64, stage string, err error) {
	metrics.BookingFailuresTotal.WithLabelValues(stage).Inc()
	o.logger.Error("shipment booking failed",
		zap.Int64("order_id", orderID), zap.String("stage", stage), zap.Error(err))
	o.appendEvent(ctx, orderID, repository.EventCreated,
		"Shipment booking failed: "+err.Error(),
		map[string]interface{}{"error": err.Error(), "stage": stage})
}

func (o *Orchestrator) appendEvent(ctx context.Context, orderID int64, eventType repository.EventType, description string, meta map[string]interface{}) {
	payload, err := json.Marshal(meta)
	if err != nil {
		payload = []byte("{}")
	}
	event := &repository.OrderEvent{
		OrderID:     orderID,
		EventType:   eventType,
		Description: description,
		Metadata:    payload,
	}
	if err := o.events.Create(ctx, event); err != nil {
		o.logger.Error("failed to append order event",
			zap.Int64("order_id", orderID), zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func failureStage(err error) string {
	if errors.Is(err, carrier.ErrCityNotFound) {
		return "city_resolution"
	}
	return "booking"
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

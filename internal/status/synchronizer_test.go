package status_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
	"gitlab.com/parcelmkt/fulfillment/internal/status"
)

type fakeOrders struct {
	orders      map[int64]*repository.Order
	statusCalls int
}

func (f *fakeOrders) GetByID(ctx context.Context, id int64) (*repository.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return o, nil
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, id int64, s repository.OrderStatus) error {
	f.statusCalls++
	f.orders[id].Status = s
	return nil
}

func (f *fakeOrders) SetExternalIDs(ctx context.Context, id int64, externalUUID, externalNumber *string) error {
	o := f.orders[id]
	if o.ExternalOrderNumber == nil && externalNumber != nil {
		o.ExternalOrderNumber = externalNumber
	}
	return nil
}

func (f *fakeOrders) ListSyncable(ctx context.Context) ([]*repository.Order, error) {
	var out []*repository.Order
	for _, o := range f.orders {
		if o.ExternalOrderUUID != nil && !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeEvents struct {
	events []*repository.OrderEvent
}

func (f *fakeEvents) Create(ctx context.Context, event *repository.OrderEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeCompanies struct{}

func (f *fakeCompanies) GetByID(ctx context.Context, id int64) (*repository.TransportCompany, error) {
	return &repository.TransportCompany{ID: id, Code: "cdek", APIType: repository.APITypeCDEK}, nil
}

type fakeBackend struct {
	info *carrier.StatusInfo
	err  error
}

func (f *fakeBackend) Quote(ctx context.Context, req carrier.QuoteRequest) ([]carrier.Offer, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) Book(ctx context.Context, req carrier.BookRequest) (*carrier.BookResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) FetchStatus(ctx context.Context, externalUUID string) (*carrier.StatusInfo, error) {
	return f.info, f.err
}

type fakeFactory struct {
	backend carrier.Backend
}

func (f *fakeFactory) ForCompany(company *repository.TransportCompany) (carrier.Backend, error) {
	return f.backend, nil
}

func bookedOrder(s repository.OrderStatus) *repository.Order {
	companyID := int64(1)
	uuid := "uuid-1"
	return &repository.Order{
		ID:                10,
		Status:            s,
		CompanyID:         &companyID,
		ExternalOrderUUID: &uuid,
	}
}

func newSynchronizer(orders *fakeOrders, events *fakeEvents, backend carrier.Backend) *status.Synchronizer {
	return status.NewSynchronizer(orders, events, &fakeCompanies{}, &fakeFactory{backend: backend}, zap.NewNop())
}

func TestSynchronizer_SyncOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("moves paid order into delivery", func(t *testing.T) {
		order := bookedOrder(repository.OrderStatusPaid)
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}
		events := &fakeEvents{}
		backend := &fakeBackend{info: &carrier.StatusInfo{
			Statuses: []carrier.StatusEntry{
				{Code: "ACCEPTED", Name: "Принят"},
				{Code: "RECEIVED_AT_SHIPMENT_WAREHOUSE", Name: "Принят на склад"},
			},
		}}

		err := newSynchronizer(orders, events, backend).SyncOrder(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, repository.OrderStatusInDelivery, order.Status)
		require.Len(t, events.events, 1)
		assert.Equal(t, repository.EventStatusChanged, events.events[0].EventType)
	})

	t.Run("delivered maps to completed", func(t *testing.T) {
		order := bookedOrder(repository.OrderStatusInDelivery)
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}
		events := &fakeEvents{}
		backend := &fakeBackend{info: &carrier.StatusInfo{
			Statuses: []carrier.StatusEntry{
				{Code: "ACCEPTED"},
				{Code: "DELIVERED", Name: "Вручен"},
			},
		}}

		err := newSynchronizer(orders, events, backend).SyncOrder(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, repository.OrderStatusCompleted, order.Status)
		require.Len(t, events.events, 1)
		assert.Equal(t, repository.EventDelivered, events.events[0].EventType)
	})

	t.Run("invalid maps to cancelled", func(t *testing.T) {
		order := bookedOrder(repository.OrderStatusPaid)
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}
		events := &fakeEvents{}
		backend := &fakeBackend{info: &carrier.StatusInfo{
			Statuses: []carrier.StatusEntry{{Code: "INVALID", Name: "Некорректный заказ"}},
		}}

		err := newSynchronizer(orders, events, backend).SyncOrder(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, repository.OrderStatusCancelled, order.Status)
		require.Len(t, events.events, 1)
		assert.Equal(t, repository.EventCancelled, events.events[0].EventType)
	})

	t.Run("carrier cancellation maps to cancelled", func(t *testing.T) {
		order := bookedOrder(repository.OrderStatusInDelivery)
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}
		events := &fakeEvents{}
		backend := &fakeBackend{info: &carrier.StatusInfo{
			Statuses: []carrier.StatusEntry{
				{Code: "ACCEPTED"},
				{Code: "CANCELLED", Name: "Отменен"},
			},
		}}

		err := newSynchronizer(orders, events, backend).SyncOrder(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, repository.OrderStatusCancelled, order.Status)
		require.Len(t, events.events, 1)
		assert.Equal(t, repository.EventCancelled, events.events[0].EventType)
	})

	t.Run("event metadata carries both statuses", func(t *testing.T) {
		order := bookedOrder(repository.OrderStatusPaid)
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}
		events := &fakeEvents{}
		backend := &fakeBackend{info: &carrier.StatusInfo{
			Statuses: []carrier.StatusEntry{{Code: "ACCEPTED", Name: "Принят"}},
		}}

		err := newSynchronizer(orders, events, backend).SyncOrder(ctx, order)
		require.NoError(t, err)
		require.Len(t, events.events, 1)

		var meta map[string]interface{}
		require.NoError(t, json.Unmarshal(events.events[0].Metadata, &meta))
		assert.Equal(t, "paid", meta["old_status"])
		assert.Equal(t, "in_delivery", meta["new_status"])
		assert.Equal(t, "ACCEPTED", meta["carrier_code"])
	})

	t.Run("unchanged status writes nothing", func(t *testing.T) {
		order := bookedOrder(repository.OrderStatusInDelivery)
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}
		events := &fakeEvents{}
		backend := &fakeBackend{info: &carrier.StatusInfo{
			Statuses: []carrier.StatusEntry{{Code: "RECEIVED_AT_SHIPMENT_WAREHOUSE"}},
		}}

		err := newSynchronizer(orders, events, backend).SyncOrder(ctx, order)
		require.NoError(t, err)
		assert.Zero(t, orders.statusCalls)
		assert.Empty(t, events.events)
	})

	t.Run("backfills tracking number", func(t *testing.T) {
		order := bookedOrder(repository.OrderStatusInDelivery)
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}
		backend := &fakeBackend{info: &carrier.StatusInfo{
			TrackingNumber: "1106207527",
			Statuses:       []carrier.StatusEntry{{Code: "RECEIVED_AT_SHIPMENT_WAREHOUSE"}},
		}}

		err := newSynchronizer(orders, &fakeEvents{}, backend).SyncOrder(ctx, order)
		require.NoError(t, err)
		require.NotNil(t, order.ExternalOrderNumber)
		assert.Equal(t, "1106207527", *order.ExternalOrderNumber)
	})

	t.Run("terminal order untouched", func(t *testing.T) {
		order := bookedOrder(repository.OrderStatusCompleted)
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}
		backend := &fakeBackend{err: errors.New("should not be called")}

		err := newSynchronizer(orders, &fakeEvents{}, backend).SyncOrder(ctx, order)
		assert.NoError(t, err)
	})

	t.Run("unbooked order is an error", func(t *testing.T) {
		order := &repository.Order{ID: 10, Status: repository.OrderStatusPaid}
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: order}}

		err := newSynchronizer(orders, &fakeEvents{}, &fakeBackend{}).SyncOrder(ctx, order)
		assert.Error(t, err)
	})
}

func TestSynchronizer_SyncAll(t *testing.T) {
	ctx := context.Background()

	t.Run("one failure does not stop the sweep", func(t *testing.T) {
		good := bookedOrder(repository.OrderStatusPaid)
		bad := bookedOrder(repository.OrderStatusPaid)
		bad.ID = 11
		orders := &fakeOrders{orders: map[int64]*repository.Order{10: good, 11: bad}}
		events := &fakeEvents{}

		// Both orders share the backend; make it fail only on first call.
		calls := 0
		backend := &callbackBackend{fetch: func(string) (*carrier.StatusInfo, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("api down")
			}
			return &carrier.StatusInfo{Statuses: []carrier.StatusEntry{{Code: "ACCEPTED"}}}, nil
		}}

		err := newSynchronizer(orders, events, backend).SyncAll(ctx)
		assert.Error(t, err)
		assert.Equal(t, 2, calls)
	})
}

type callbackBackend struct {
	fetch func(string) (*carrier.StatusInfo, error)
}

func (c *callbackBackend) Quote(ctx context.Context, req carrier.QuoteRequest) ([]carrier.Offer, error) {
	return nil, errors.New("not implemented")
}

func (c *callbackBackend) Book(ctx context.Context, req carrier.BookRequest) (*carrier.BookResult, error) {
	return nil, errors.New("not implemented")
}

func (c *callbackBackend) FetchStatus(ctx context.Context, externalUUID string) (*carrier.StatusInfo, error) {
	return c.fetch(externalUUID)
}

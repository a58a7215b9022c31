package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/payment"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
	"gitlab.com/parcelmkt/fulfillment/internal/tariff"
)

type fakeQuoter struct {
	offers []tariff.Offer
	err    error
}

func (f *fakeQuoter) Quote(ctx context.Context, req tariff.Request) ([]tariff.Offer, error) {
	return f.offers, f.err
}

type fakeOrders struct {
	orders map[int64]*repository.Order
	nextID int64
}

func (f *fakeOrders) Create(ctx context.Context, order *repository.Order) error {
	f.nextID++
	order.ID = f.nextID
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrders) GetByID(ctx context.Context, id int64) (*repository.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return o, nil
}

func (f *fakeOrders) GetByUserID(ctx context.Context, userID int64, limit int) ([]*repository.Order, error) {
	var out []*repository.Order
	for _, o := range f.orders {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, o)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
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

func (f *fakeEvents) ListByOrder(ctx context.Context, orderID int64) ([]*repository.OrderEvent, error) {
	return f.events, nil
}

type fakeCompanies struct {
	company *repository.TransportCompany
}

func (f *fakeCompanies) GetByID(ctx context.Context, id int64) (*repository.TransportCompany, error) {
	if f.company == nil {
		return nil, repository.ErrObjectNotFound
	}
	return f.company, nil
}

type fakePayments struct {
	payment     *repository.Payment
	intentErr   error
	webhookErr  error
	webhookSeen []payment.WebhookEvent
}

func (f *fakePayments) CreateIntent(ctx context.Context, orderID int64) (*repository.Payment, error) {
	return f.payment, f.intentErr
}

func (f *fakePayments) HandleWebhook(ctx context.Context, event payment.WebhookEvent) error {
	f.webhookSeen = append(f.webhookSeen, event)
	return f.webhookErr
}

type fakeBooker struct {
	err   error
	calls []int64
}

func (f *fakeBooker) Book(ctx context.Context, orderID int64) error {
	f.calls = append(f.calls, orderID)
	return f.err
}

func (f *fakeBooker) Cancel(ctx context.Context, orderID int64) error {
	f.calls = append(f.calls, orderID)
	return f.err
}

type fakeSyncer struct {
	err error
}

func (f *fakeSyncer) Resync(ctx context.Context, orderID int64) error {
	return f.err
}

type fakeFactory struct{}

func (f *fakeFactory) ForCompany(company *repository.TransportCompany) (carrier.Backend, error) {
	return nil, errors.New("no backend")
}

type fakeUsers struct {
	username, password string
}

func (f *fakeUsers) ValidateUser(ctx context.Context, username, password string) (bool, error) {
	return username == f.username && password == f.password, nil
}

type serverFixture struct {
	quoter    *fakeQuoter
	orders    *fakeOrders
	events    *fakeEvents
	companies *fakeCompanies
	payments  *fakePayments
	booker    *fakeBooker
	syncer    *fakeSyncer
	handler   http.Handler
}

func newServerFixture() *serverFixture {
	f := &serverFixture{
		quoter:    &fakeQuoter{},
		orders:    &fakeOrders{orders: map[int64]*repository.Order{}},
		events:    &fakeEvents{},
		companies: &fakeCompanies{company: &repository.TransportCompany{ID: 1, Name: "CDEK", Code: "cdek", APIType: repository.APITypeCDEK}},
		payments:  &fakePayments{},
		booker:    &fakeBooker{},
		syncer:    &fakeSyncer{},
	}
	srv := New(
		f.quoter, f.orders, f.events, f.companies, f.payments, f.booker, f.syncer,
		&fakeFactory{}, &fakeUsers{username: "operator", password: "secret"}, zap.NewNop(),
	)
	f.handler = srv.setupRoutes()
	return f
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reader).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuote(t *testing.T) {
	t.Run("returns ranked offers", func(t *testing.T) {
		f := newServerFixture()
		code := 136
		f.quoter.offers = []tariff.Offer{{
			Offer: carrier.Offer{CompanyID: 1, Price: 440, TariffCode: &code},
			Total: 539.99,
		}}

		rec := doJSON(t, f.handler, http.MethodPost, "/quote", map[string]interface{}{
			"weight": 1.0, "from_city": "Москва", "to_city": "Казань",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Offers []tariff.Offer `json:"offers"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Offers, 1)
		assert.Equal(t, 539.99, resp.Offers[0].Total)
	})

	t.Run("rejects non-positive weight", func(t *testing.T) {
		f := newServerFixture()
		rec := doJSON(t, f.handler, http.MethodPost, "/quote", map[string]interface{}{"weight": 0})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func validOrderBody() map[string]interface{} {
	return map[string]interface{}{
		"sender": map[string]interface{}{
			"name": "Ivan Petrov", "phone": "+79990001122", "city": "Москва",
		},
		"recipient": map[string]interface{}{
			"name": "Anna Sidorova", "phone": "+79990003344", "city": "Казань",
		},
		"weight":     2.0,
		"company_id": 1,
	}
}

func TestHandleCreateOrder(t *testing.T) {
	t.Run("creates order with server-side pricing", func(t *testing.T) {
		f := newServerFixture()
		code := 136
		f.quoter.offers = []tariff.Offer{{
			Offer:          carrier.Offer{CompanyID: 1, Price: 440, TariffCode: &code, TariffName: "Склад-склад"},
			PackagingPrice: 50,
			Commission:     49,
			Total:          554.67,
		}}

		rec := doJSON(t, f.handler, http.MethodPost, "/orders", validOrderBody())
		require.Equal(t, http.StatusCreated, rec.Code)

		var order repository.Order
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
		assert.Equal(t, repository.OrderStatusNew, order.Status)
		assert.Equal(t, 554.67, order.Price)
		assert.Equal(t, 440.0, order.BasePrice)

		require.Len(t, f.events.events, 1)
		assert.Equal(t, repository.EventCreated, f.events.events[0].EventType)
	})

	t.Run("no offers means unprocessable", func(t *testing.T) {
		f := newServerFixture()
		rec := doJSON(t, f.handler, http.MethodPost, "/orders", validOrderBody())
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		f := newServerFixture()
		body := validOrderBody()
		delete(body, "company_id")
		rec := doJSON(t, f.handler, http.MethodPost, "/orders", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGetOrder(t *testing.T) {
	f := newServerFixture()
	f.orders.orders[7] = &repository.Order{ID: 7, Status: repository.OrderStatusPaid}

	rec := doJSON(t, f.handler, http.MethodGet, "/orders/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, f.handler, http.MethodGet, "/orders/404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, f.handler, http.MethodGet, "/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListUserOrders(t *testing.T) {
	f := newServerFixture()
	userID := int64(3)
	f.orders.orders[7] = &repository.Order{ID: 7, UserID: &userID, Status: repository.OrderStatusPaid}
	f.orders.orders[8] = &repository.Order{ID: 8, Status: repository.OrderStatusNew}

	rec := doJSON(t, f.handler, http.MethodGet, "/users/3/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Orders []*repository.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, int64(7), resp.Orders[0].ID)

	rec = doJSON(t, f.handler, http.MethodGet, "/users/99/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Orders)
}

func TestHandleCreatePayment(t *testing.T) {
	t.Run("returns confirmation url", func(t *testing.T) {
		f := newServerFixture()
		url := "https://gateway/confirm/pay-1"
		f.payments.payment = &repository.Payment{
			ID: 1, OrderID: 5, Status: repository.PaymentStatusPending, ConfirmationURL: &url,
		}

		rec := doJSON(t, f.handler, http.MethodPost, "/payments", map[string]interface{}{"order_id": 5})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, url, resp["confirmation_url"])
	})

	t.Run("already paid yields conflict", func(t *testing.T) {
		f := newServerFixture()
		f.payments.intentErr = payment.ErrAlreadyPaid

		rec := doJSON(t, f.handler, http.MethodPost, "/payments", map[string]interface{}{"order_id": 5})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandlePaymentWebhook(t *testing.T) {
	t.Run("acknowledges processed webhook", func(t *testing.T) {
		f := newServerFixture()

		rec := doJSON(t, f.handler, http.MethodPost, "/payments/webhook", map[string]interface{}{
			"event": "payment.succeeded",
			"object": map[string]interface{}{
				"id": "pay-1", "status": "succeeded",
				"metadata": map[string]string{"order_id": "5"},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.payments.webhookSeen, 1)
		assert.Equal(t, "pay-1", f.payments.webhookSeen[0].Object.ID)
	})

	t.Run("processing failure is a server error", func(t *testing.T) {
		f := newServerFixture()
		f.payments.webhookErr = errors.New("tx failed")

		rec := doJSON(t, f.handler, http.MethodPost, "/payments/webhook", map[string]interface{}{
			"event": "payment.succeeded",
			"object": map[string]interface{}{"id": "pay-1", "status": "succeeded"},
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	f := newServerFixture()
	f.orders.orders[7] = &repository.Order{ID: 7, Status: repository.OrderStatusPaid}

	t.Run("unauthenticated", func(t *testing.T) {
		rec := doJSON(t, f.handler, http.MethodPost, "/admin/orders/7/book", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/orders/7/book", nil)
		req.SetBasicAuth("operator", "wrong")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("authorized booking", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/orders/7/book", nil)
		req.SetBasicAuth("operator", "secret")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []int64{7}, f.booker.calls)
	})
}

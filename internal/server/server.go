package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/payment"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
	"gitlab.com/parcelmkt/fulfillment/internal/tariff"
)

type Quoter interface {
	Quote(ctx context.Context, req tariff.Request) ([]tariff.Offer, error)
}

type OrderStore interface {
	Create(ctx context.Context, order *repository.Order) error
	GetByID(ctx context.Context, id int64) (*repository.Order, error)
	GetByUserID(ctx context.Context, userID int64, limit int) ([]*repository.Order, error)
}

type EventStore interface {
	Create(ctx context.Context, event *repository.OrderEvent) error
	ListByOrder(ctx context.Context, orderID int64) ([]*repository.OrderEvent, error)
}

type CompanyStore interface {
	GetByID(ctx context.Context, id int64) (*repository.TransportCompany, error)
}

type Payments interface {
	CreateIntent(ctx context.Context, orderID int64) (*repository.Payment, error)
	HandleWebhook(ctx context.Context, event payment.WebhookEvent) error
}

type Booker interface {
	Book(ctx context.Context, orderID int64) error
	Cancel(ctx context.Context, orderID int64) error
}

type Syncer interface {
	Resync(ctx context.Context, orderID int64) error
}

type BackendFactory interface {
	ForCompany(company *repository.TransportCompany) (carrier.Backend, error)
}

type UserRepo interface {
	ValidateUser(ctx context.Context, username, password string) (bool, error)
}

type Server struct {
	quoter    Quoter
	orders    OrderStore
	events    EventStore
	companies CompanyStore
	payments  Payments
	booker    Booker
	syncer    Syncer
	backends  BackendFactory
	userRepo  UserRepo
	logger    *zap.Logger

	server *http.Server
}

func New(quoter Quoter, orders OrderStore, events EventStore, companies CompanyStore, payments Payments, booker Booker, syncer Syncer, backends BackendFactory, userRepo UserRepo, logger *zap.Logger) *Server {
	return &Server{
		quoter:    quoter,
		orders:    orders,
		events:    events,
		companies: companies,
		payments:  payments,
		booker:    booker,
		syncer:    syncer,
		backends:  backends,
		userRepo:  userRepo,
		logger:    logger,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.logger.Info("HTTP server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /quote", s.handleQuote)
	mux.HandleFunc("POST /orders", s.handleCreateOrder)
	mux.HandleFunc("GET /orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /users/{id}/orders", s.handleListUserOrders)
	mux.HandleFunc("GET /orders/{id}/events", s.handleOrderEvents)
	mux.HandleFunc("GET /orders/{id}/label", s.handleOrderLabel)

	mux.HandleFunc("POST /payments", s.handleCreatePayment)
	mux.HandleFunc("POST /payments/webhook", s.handlePaymentWebhook)

	mux.Handle("POST /admin/orders/{id}/book", s.basicAuthMiddleware(http.HandlerFunc(s.handleAdminBook)))
	mux.Handle("POST /admin/orders/{id}/resync", s.basicAuthMiddleware(http.HandlerFunc(s.handleAdminResync)))
	mux.Handle("POST /admin/orders/{id}/cancel", s.basicAuthMiddleware(http.HandlerFunc(s.handleAdminCancel)))

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		valid, err := s.userRepo.ValidateUser(r.Context(), username, password)
		if err != nil || !valid {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

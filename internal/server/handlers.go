package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
	"gitlab.com/parcelmkt/fulfillment/internal/payment"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
	"gitlab.com/parcelmkt/fulfillment/internal/tariff"
)

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req tariff.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Weight <= 0 {
		respondError(w, http.StatusBadRequest, "Weight must be positive")
		return
	}

	offers, err := s.quoter.Quote(r.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			respondError(w, http.StatusNotFound, "Carrier not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"offers": offers})
}

type partyRequest struct {
	Name           string  `json:"name"`
	Phone          string  `json:"phone"`
	Address        string  `json:"address"`
	City           string  `json:"city"`
	Company        *string `json:"company,omitempty"`
	TIN            *string `json:"tin,omitempty"`
	ContragentType *string `json:"contragent_type,omitempty"`
}

type createOrderRequest struct {
	UserID *int64 `json:"user_id,omitempty"`

	Sender    partyRequest `json:"sender"`
	Recipient partyRequest `json:"recipient"`

	RecipientPointCode    *string `json:"recipient_point_code,omitempty"`
	RecipientPointAddress *string `json:"recipient_point_address,omitempty"`

	Weight       float64  `json:"weight"`
	Length       *float64 `json:"length,omitempty"`
	Width        *float64 `json:"width,omitempty"`
	Height       *float64 `json:"height,omitempty"`
	PackagePhoto *string  `json:"package_photo,omitempty"`

	CompanyID     int64   `json:"company_id"`
	TariffCode    *int    `json:"tariff_code,omitempty"`
	DeclaredValue float64 `json:"declared_value,omitempty"`
}

func (req *createOrderRequest) validate() error {
	if req.Weight <= 0 {
		return errors.New("weight must be positive")
	}
	if req.CompanyID == 0 {
		return errors.New("company_id is required")
	}
	if req.Sender.Name == "" || req.Sender.Phone == "" {
		return errors.New("sender name and phone are required")
	}
	if req.Recipient.Name == "" || req.Recipient.Phone == "" {
		return errors.New("recipient name and phone are required")
	}
	return nil
}

// handleCreateOrder prices the order server side; client-supplied prices are
// never trusted.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	company, err := s.companies.GetByID(r.Context(), req.CompanyID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			respondError(w, http.StatusBadRequest, "Unknown carrier")
			return
		}
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}

	offers, err := s.quoter.Quote(r.Context(), tariff.Request{
		Weight:        req.Weight,
		Length:        req.Length,
		Width:         req.Width,
		Height:        req.Height,
		CompanyID:     &req.CompanyID,
		FromCity:      req.Sender.City,
		ToCity:        req.Recipient.City,
		DeclaredValue: req.DeclaredValue,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	offer, ok := pickOffer(offers, req.TariffCode)
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "No delivery offers for the requested parameters")
		return
	}

	now := time.Now().UTC()
	order := &repository.Order{
		UserID: req.UserID,
		Status: repository.OrderStatusNew,

		SenderName:           req.Sender.Name,
		SenderPhone:          req.Sender.Phone,
		SenderAddress:        req.Sender.Address,
		SenderCity:           req.Sender.City,
		SenderCompany:        req.Sender.Company,
		SenderTIN:            req.Sender.TIN,
		SenderContragentType: req.Sender.ContragentType,

		RecipientName:         req.Recipient.Name,
		RecipientPhone:        req.Recipient.Phone,
		RecipientAddress:      req.Recipient.Address,
		RecipientCity:         req.Recipient.City,
		RecipientPointCode:    req.RecipientPointCode,
		RecipientPointAddress: req.RecipientPointAddress,

		Weight:       req.Weight,
		Length:       req.Length,
		Width:        req.Width,
		Height:       req.Height,
		PackagePhoto: req.PackagePhoto,

		CompanyID:   &company.ID,
		CompanyName: company.Name,
		TariffCode:  offer.TariffCode,
		TariffName:  offer.TariffName,

		BasePrice:      offer.Price,
		PackagingPrice: offer.PackagingPrice,
		InsurancePrice: offer.InsuranceCost,
		Commission:     offer.Commission,
		AcquiringFee:   offer.AcquiringFee,
		Price:          offer.Total,

		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Create(r.Context(), order); err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"carrier": company.Code,
		"total":   order.Price,
	})
	if err := s.events.Create(r.Context(), &repository.OrderEvent{
		OrderID:     order.ID,
		EventType:   repository.EventCreated,
		Description: fmt.Sprintf("Order created, total %.2f", order.Price),
		Metadata:    meta,
	}); err != nil {
		s.logger.Warn("failed to record creation event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	respondJSON(w, http.StatusCreated, order)
}

func pickOffer(offers []tariff.Offer, tariffCode *int) (tariff.Offer, bool) {
	if len(offers) == 0 {
		return tariff.Offer{}, false
	}
	if tariffCode == nil {
		return offers[0], true
	}
	for _, o := range offers {
		if o.TariffCode != nil && *o.TariffCode == *tariffCode {
			return o, true
		}
	}
	// The requested tariff vanished between quote and order; cheapest wins.
	return offers[0], true
}

func (s *Server) orderFromPath(w http.ResponseWriter, r *http.Request) (*repository.Order, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return nil, false
	}
	order, err := s.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			respondError(w, http.StatusNotFound, "Order not found")
			return nil, false
		}
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return nil, false
	}
	return order, true
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.orderFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	orders, err := s.orders.GetByUserID(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	if orders == nil {
		orders = []*repository.Order{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	order, ok := s.orderFromPath(w, r)
	if !ok {
		return
	}
	events, err := s.events.ListByOrder(r.Context(), order.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleOrderLabel(w http.ResponseWriter, r *http.Request) {
	order, ok := s.orderFromPath(w, r)
	if !ok {
		return
	}
	if order.ExternalOrderUUID == nil || order.CompanyID == nil {
		respondError(w, http.StatusConflict, "Order has no booked shipment")
		return
	}

	company, err := s.companies.GetByID(r.Context(), *order.CompanyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	backend, err := s.backends.ForCompany(company)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	provider, ok := backend.(carrier.LabelProvider)
	if !ok {
		respondError(w, http.StatusConflict, "Carrier does not provide labels")
		return
	}

	url, err := provider.LabelURL(r.Context(), *order.ExternalOrderUUID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "Error: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"label_url": url})
}

type createPaymentRequest struct {
	OrderID int64 `json:"order_id"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := s.payments.CreateIntent(r.Context(), req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrObjectNotFound):
			respondError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, payment.ErrAlreadyPaid):
			respondError(w, http.StatusConflict, "Order is already paid")
		case errors.Is(err, payment.ErrOrderNotPayable):
			respondError(w, http.StatusConflict, "Order cannot be paid in its current status")
		default:
			respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		}
		return
	}

	resp := map[string]interface{}{
		"payment_id": p.ID,
		"status":     p.Status,
	}
	if p.ConfirmationURL != nil {
		resp["confirmation_url"] = *p.ConfirmationURL
	}
	respondJSON(w, http.StatusCreated, resp)
}

// handlePaymentWebhook always acknowledges recognized payloads so the
// gateway stops retrying; processing errors are the only 5xx.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var event payment.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid webhook body")
		return
	}

	if err := s.payments.HandleWebhook(r.Context(), event); err != nil {
		s.logger.Error("webhook processing failed",
			zap.String("external_id", event.Object.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminBook(w http.ResponseWriter, r *http.Request) {
	order, ok := s.orderFromPath(w, r)
	if !ok {
		return
	}
	if err := s.booker.Book(r.Context(), order.ID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Booking failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "booked"})
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	order, ok := s.orderFromPath(w, r)
	if !ok {
		return
	}
	if err := s.booker.Cancel(r.Context(), order.ID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Cancellation failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleAdminResync(w http.ResponseWriter, r *http.Request) {
	order, ok := s.orderFromPath(w, r)
	if !ok {
		return
	}
	if err := s.syncer.Resync(r.Context(), order.ID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Sync failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	// Provider-side payment states.
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

type CreateRequest struct {
	OrderID        int64
	Amount         float64
	Description    string
	ReturnURL      string
	IdempotenceKey string
}

type Intent struct {
	ExternalID      string
	Status          string
	ConfirmationURL string
}

// Provider is the acquiring gateway. CreatePayment must be idempotent under
// the supplied key: replaying it returns the original intent.
type Provider interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*Intent, error)
	GetPayment(ctx context.Context, externalID string) (*Intent, error)
}

type amountBody struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationBody struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type paymentBody struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       amountBody        `json:"amount"`
	Confirmation *confirmationBody `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type createPaymentBody struct {
	Amount       amountBody        `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation confirmationBody  `json:"confirmation"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

// HTTPProvider talks to a YooKassa-compatible acquiring API over basic auth.
type HTTPProvider struct {
	apiURL    string
	shopID    string
	secretKey string
	client    *http.Client
}

func NewHTTPProvider(apiURL, shopID, secretKey string) *HTTPProvider {
	return &HTTPProvider{
		apiURL:    apiURL,
		shopID:    shopID,
		secretKey: secretKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
	}
}

func (p *HTTPProvider) CreatePayment(ctx context.Context, req CreateRequest) (*Intent, error) {
	body := createPaymentBody{
		Amount:  amountBody{Value: strconv.FormatFloat(req.Amount, 'f', 2, 64), Currency: "RUB"},
		Capture: true,
		Confirmation: confirmationBody{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Description: req.Description,
		Metadata:    map[string]string{"order_id": strconv.FormatInt(req.OrderID, 10)},
	}

	var resp paymentBody
	if err := p.do(ctx, http.MethodPost, "/payments", req.IdempotenceKey, body, &resp); err != nil {
		return nil, err
	}
	return intentFromBody(&resp), nil
}

func (p *HTTPProvider) GetPayment(ctx context.Context, externalID string) (*Intent, error) {
	var resp paymentBody
	if err := p.do(ctx, http.MethodGet, "/payments/"+externalID, "", nil, &resp); err != nil {
		return nil, err
	}
	return intentFromBody(&resp), nil
}

func intentFromBody(b *paymentBody) *Intent {
	intent := &Intent{ExternalID: b.ID, Status: b.Status}
	if b.Confirmation != nil {
		intent.ConfirmationURL = b.Confirmation.ConfirmationURL
	}
	return intent
}

func (p *HTTPProvider) do(ctx context.Context, method, path, idempotenceKey string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.apiURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.shopID, p.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("acquiring request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read acquiring response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("acquiring API status %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode acquiring response: %w", err)
	}
	return nil
}

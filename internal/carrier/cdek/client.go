package cdek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier"
)

const (
	testAPIURL = "https://api.edu.cdek.ru/v2"
	prodAPIURL = "https://api.cdek.ru/v2"

	// Refresh the token a bit before the server-declared expiry to dodge
	// clock-skew races.
	tokenSafetyMargin = 60 * time.Second
)

// Client talks to the CDEK REST API. It owns the token lifecycle; callers
// never see auth. The only shared mutable state is the cached token and the
// city-code cache.
type Client struct {
	account        string
	securePassword string
	baseURL        string
	httpClient     *http.Client
	logger         *zap.Logger

	tokenMu      sync.Mutex
	token        string
	tokenExpires time.Time

	cities *cityCache
}

func NewClient(account, securePassword string, testMode bool, logger *zap.Logger) *Client {
	baseURL := prodAPIURL
	if testMode {
		baseURL = testAPIURL
	}
	return &Client{
		account:        account,
		securePassword: securePassword,
		baseURL:        baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		logger: logger,
		cities: newCityCache(),
	}
}

// WithBaseURL points the client at a different API host. Test hook.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpires) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.account},
		"client_secret": {c.securePassword},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cdek token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode, Detail: errorDetail(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode cdek token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("cdek token response has no access_token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	c.token = tr.AccessToken
	c.tokenExpires = time.Now().Add(time.Duration(expiresIn)*time.Second - tokenSafetyMargin)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

// do performs one logical API call. A 401 or 500 invalidates the cached token
// and the request is retried exactly once with a fresh one; a second failure
// surfaces as APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		status, body, err := c.roundTrip(ctx, method, path, query, in)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized || status == http.StatusInternalServerError {
			lastErr = &APIError{Status: status, Detail: errorDetail(body)}
			c.invalidateToken()
			c.logger.Warn("cdek request failed, retrying with fresh token",
				zap.String("path", path), zap.Int("status", status))
			continue
		}
		if status < 200 || status > 299 {
			return &APIError{Status: status, Detail: errorDetail(body)}
		}
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode cdek response for %s: %w", path, err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, in interface{}) (int, []byte, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	var bodyReader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("cdek %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read cdek response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func errorDetail(body []byte) string {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.ErrorDescription != "" {
			return e.ErrorDescription
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return string(body)
}

// ResolveCity maps a free-text city name onto the CDEK city code. An unknown
// city is a terminal input error, not retried.
func (c *Client) ResolveCity(ctx context.Context, city string) (int, error) {
	name := strings.TrimSpace(city)
	if name == "" {
		return 0, fmt.Errorf("%w: empty city name", carrier.ErrCityNotFound)
	}
	if code, ok := c.cities.Get(name); ok {
		return code, nil
	}

	var entries []cityEntry
	query := url.Values{"city": {name}, "size": {"1"}}
	if err := c.do(ctx, http.MethodGet, "/location/cities", query, nil, &entries); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: %q", carrier.ErrCityNotFound, name)
	}

	c.cities.Set(name, entries[0].Code)
	return entries[0].Code, nil
}

// TariffList quotes all available tariffs for the route, sorted ascending by
// price on the caller's side.
func (c *Client) TariffList(ctx context.Context, fromCode, toCode int, dims packageDims) ([]tariffListEntry, error) {
	req := tariffListRequest{
		FromLocation: location{Code: fromCode},
		ToLocation:   location{Code: toCode},
		Packages:     []packageDims{dims},
	}
	var resp tariffListResponse
	if err := c.do(ctx, http.MethodPost, "/calculator/tarifflist", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.TariffCodes, nil
}

// TariffWithInsurance is the second quote phase: the API only reports the
// insurance cost on a tariff-specific request with a services array attached.
func (c *Client) TariffWithInsurance(ctx context.Context, tariffCode, fromCode, toCode int, dims packageDims, declaredValue float64) (*tariffResponse, error) {
	req := tariffRequest{
		TariffCode:   tariffCode,
		FromLocation: location{Code: fromCode},
		ToLocation:   location{Code: toCode},
		Packages:     []packageDims{dims},
	}
	if declaredValue > 0 {
		req.Services = []service{{
			Code:      "INSURANCE",
			Parameter: strconv.FormatFloat(declaredValue, 'f', 2, 64),
		}}
	}
	var resp tariffResponse
	if err := c.do(ctx, http.MethodPost, "/calculator/tariff", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateOrder(ctx context.Context, req orderRequest) (*orderResponse, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetOrder(ctx context.Context, orderUUID string) (*orderResponse, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderUUID, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteOrder(ctx context.Context, orderUUID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+orderUUID, nil, nil, nil)
}

func (c *Client) DeliveryPoints(ctx context.Context, cityCode, size int) ([]DeliveryPoint, error) {
	query := url.Values{
		"city_code": {strconv.Itoa(cityCode)},
		"size":      {strconv.Itoa(size)},
	}
	var points []DeliveryPoint
	if err := c.do(ctx, http.MethodGet, "/deliverypoints", query, nil, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// CallCourier schedules a door pickup. A courier already scheduled for the
// same shipment counts as success.
func (c *Client) CallCourier(ctx context.Context, orderUUID, date, timeFrom, timeTo string) error {
	req := intakeRequest{
		OrderUUID:      orderUUID,
		IntakeDate:     date,
		IntakeTimeFrom: timeFrom,
		IntakeTimeTo:   timeTo,
	}
	var resp orderResponse
	err := c.do(ctx, http.MethodPost, "/intakes", nil, req, &resp)
	if err != nil {
		if alreadyScheduled(err) {
			c.logger.Info("courier already scheduled", zap.String("order_uuid", orderUUID))
			return nil
		}
		return err
	}
	for _, r := range resp.Requests {
		if r.State == "INVALID" {
			for _, e := range r.Errors {
				if strings.Contains(e.Code, "intake_exist") || strings.Contains(strings.ToLower(e.Message), "already") {
					c.logger.Info("courier already scheduled", zap.String("order_uuid", orderUUID))
					return nil
				}
			}
			return fmt.Errorf("courier intake rejected: %s", joinErrors(r.Errors))
		}
	}
	return nil
}

// OrderLabelURL requests the printable label and returns a link to the
// rendered document.
func (c *Client) OrderLabelURL(ctx context.Context, orderUUID string) (string, error) {
	var created printResponse
	req := printRequest{Orders: []printOrder{{OrderUUID: orderUUID}}}
	if err := c.do(ctx, http.MethodPost, "/print/orders", nil, req, &created); err != nil {
		return "", err
	}
	if created.Entity.UUID == "" {
		return "", fmt.Errorf("cdek did not return a print form uuid")
	}

	var form printResponse
	if err := c.do(ctx, http.MethodGet, "/print/orders/"+created.Entity.UUID, nil, nil, &form); err != nil {
		return "", err
	}
	if form.Entity.URL == "" {
		return "", fmt.Errorf("label for order %s is not ready yet", orderUUID)
	}
	return form.Entity.URL, nil
}

func alreadyScheduled(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	detail := strings.ToLower(apiErr.Detail)
	return strings.Contains(detail, "already") || strings.Contains(detail, "intake_exist")
}

func joinErrors(errs []apiErrorEntry) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}

package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Default REST configuration values.
const (
	DefaultRESTEndpoint = "https://api.binance.com"
	DefaultRESTTimeout  = 15 * time.Second
	DefaultRecvWindow   = 5000 // ms
)

// APIError is a venue-level REST error: a non-2xx status, usually with a
// machine-readable code in the body ({"code":-2010,"msg":"..."}).
type APIError struct {
	Status     int // HTTP status
	Code       int // venue error code, 0 when body was not parseable
	Message    string
	RetryAfter time.Duration // from Retry-After, zero when absent
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api %d (code %d): %s", e.Status, e.Code, e.Message)
}

// RESTClient is a signed HTTP client for the trading REST API. Requests are
// authenticated with an API key header and an HMAC-SHA256 signature over the
// query string. The client never retries; retry policy belongs to callers.
type RESTClient struct {
	endpoint   string
	apiKey     string
	secretKey  string
	recvWindow int64
	client     *http.Client
	now        func() time.Time
}

// RESTOption configures RESTClient.
type RESTOption func(*RESTClient)

// WithRESTEndpoint overrides the API base URL (testnet, mocks).
func WithRESTEndpoint(endpoint string) RESTOption {
	return func(c *RESTClient) {
		c.endpoint = endpoint
	}
}

// WithRESTTimeout sets the HTTP client timeout.
func WithRESTTimeout(d time.Duration) RESTOption {
	return func(c *RESTClient) {
		c.client.Timeout = d
	}
}

// WithRecvWindow sets the request validity window in milliseconds.
func WithRecvWindow(ms int64) RESTOption {
	return func(c *RESTClient) {
		c.recvWindow = ms
	}
}

// WithRESTHTTPClient sets a custom http.Client.
func WithRESTHTTPClient(client *http.Client) RESTOption {
	return func(c *RESTClient) {
		c.client = client
	}
}

// WithClock overrides the timestamp source, used by tests.
func WithClock(now func() time.Time) RESTOption {
	return func(c *RESTClient) {
		c.now = now
	}
}

// NewRESTClient creates a signed REST client. Credentials come from the
// caller's environment; they are never logged.
func NewRESTClient(apiKey, secretKey string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		endpoint:   DefaultRESTEndpoint,
		apiKey:     apiKey,
		secretKey:  secretKey,
		recvWindow: DefaultRecvWindow,
		client:     &http.Client{Timeout: DefaultRESTTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OrderParams describes one new order request.
type OrderParams struct {
	Symbol        string
	Side          string // "BUY" | "SELL"
	Type          string // "MARKET" | "LIMIT"
	Quantity      string // base quantity, decimal string
	Price         string // required for LIMIT
	TimeInForce   string // defaults to GTC for LIMIT
	ClientOrderID string // optional idempotency key
}

// OrderResponse is the venue's view of a placed or cancelled order.
type OrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
}

// AccountInfo holds account balances.
type AccountInfo struct {
	Balances []AssetBalance `json:"balances"`
}

// AssetBalance is one asset's free/locked split.
type AssetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// NewOrder places an order.
func (c *RESTClient) NewOrder(ctx context.Context, p OrderParams) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", p.Symbol)
	params.Set("side", p.Side)
	params.Set("type", p.Type)
	params.Set("quantity", p.Quantity)
	if p.Type == "LIMIT" {
		params.Set("price", p.Price)
		tif := p.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	}
	if p.ClientOrderID != "" {
		params.Set("newClientOrderId", p.ClientOrderID)
	}

	var resp OrderResponse
	if err := c.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return nil, fmt.Errorf("new order: %w", err)
	}
	return &resp, nil
}

// CancelOrder cancels an order by client order id.
func (c *RESTClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var resp OrderResponse
	if err := c.signedCall(ctx, http.MethodDelete, "/api/v3/order", params, &resp); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	return &resp, nil
}

// Account fetches account balances.
func (c *RESTClient) Account(ctx context.Context) (*AccountInfo, error) {
	var resp AccountInfo
	if err := c.signedCall(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &resp); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return &resp, nil
}

// signedCall performs one authenticated request and decodes the response.
func (c *RESTClient) signedCall(ctx context.Context, method, path string, params url.Values, result interface{}) error {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))

	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp, body)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// sign computes the HMAC-SHA256 signature over the query string.
func (c *RESTClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// apiError builds an APIError from a non-2xx response.
func (c *RESTClient) apiError(resp *http.Response, body []byte) error {
	apiErr := &APIError{
		Status:  resp.StatusCode,
		Message: http.StatusText(resp.StatusCode),
	}

	var venue struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &venue); err == nil && venue.Msg != "" {
		apiErr.Code = venue.Code
		apiErr.Message = venue.Msg
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

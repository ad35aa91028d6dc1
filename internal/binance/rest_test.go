package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.UnixMilli(1700000000000)
}

func TestRESTClient_SignsRequests(t *testing.T) {
	const secret = "test-secret"

	var gotQuery, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":100,"clientOrderId":"c1","status":"FILLED"}`))
	}))
	defer server.Close()

	client := NewRESTClient("test-key", secret,
		WithRESTEndpoint(server.URL), WithClock(fixedClock))

	_, err := client.NewOrder(context.Background(), OrderParams{
		Symbol:   "BTCUSDT",
		Side:     "BUY",
		Type:     "MARKET",
		Quantity: "0.5",
	})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("api key header = %q, want test-key", gotKey)
	}

	// Signature must be the HMAC of everything before &signature=.
	idx := strings.Index(gotQuery, "&signature=")
	if idx < 0 {
		t.Fatalf("query missing signature: %s", gotQuery)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gotQuery[:idx]))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := gotQuery[idx+len("&signature="):]; got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
}

func TestRESTClient_VenueError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	}))
	defer server.Close()

	client := NewRESTClient("k", "s", WithRESTEndpoint(server.URL))

	_, err := client.NewOrder(context.Background(), OrderParams{
		Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET", Quantity: "1",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Code != -2010 {
		t.Errorf("Code = %d, want -2010", apiErr.Code)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", apiErr.Status)
	}
}

func TestRESTClient_RateLimitRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
	}))
	defer server.Close()

	client := NewRESTClient("k", "s", WithRESTEndpoint(server.URL))

	_, err := client.Account(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", apiErr.Status)
	}
	if apiErr.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v, want 12s", apiErr.RetryAfter)
	}
}

func TestRESTClient_LimitOrderDefaultsGTC(t *testing.T) {
	var gotTIF string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTIF = r.URL.Query().Get("timeInForce")
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":1,"status":"NEW"}`))
	}))
	defer server.Close()

	client := NewRESTClient("k", "s", WithRESTEndpoint(server.URL))

	_, err := client.NewOrder(context.Background(), OrderParams{
		Symbol: "BTCUSDT", Side: "SELL", Type: "LIMIT", Quantity: "1", Price: "60000",
	})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if gotTIF != "GTC" {
		t.Errorf("timeInForce = %q, want GTC", gotTIF)
	}
}

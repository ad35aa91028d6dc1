// Package execution routes live orders to a venue behind a closed
// capability interface. The simulation engine calls Gateway and nothing
// else; venue authentication and transport live in the implementations.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order sides and types accepted by PlaceOrder.
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// OrderRequest describes one order.
type OrderRequest struct {
	Symbol        string
	Side          string // OrderSideBuy | OrderSideSell
	Type          string // OrderTypeMarket | OrderTypeLimit
	Quantity      decimal.Decimal
	Price         decimal.Decimal // limit orders only
	ClientOrderID string          // optional idempotency key
}

// OrderAck is the venue's acknowledgement of a filled or accepted order.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal // zero when the venue did not report one
	TransactTime  int64           // Unix ms
}

// Balance is one asset's free/locked split.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Position is a venue-side holding. Spot venues report none; the engine
// owns simulated positions either way.
type Position struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

// Gateway is the closed capability interface between the engine and a
// venue. Implementations never retry; retry policy belongs to callers via
// Retry.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	Balances(ctx context.Context) ([]Balance, error)
	Positions(ctx context.Context) ([]Position, error)
}

// ErrorKind is the closed set of execution failure classes.
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindRejectedByVenue   ErrorKind = "rejected_by_venue"
	KindDisconnected      ErrorKind = "disconnected"
	KindUnknown           ErrorKind = "unknown"
)

// Error is a classified execution failure. Only rate_limited and
// disconnected are retryable; the rest are terminal for that order.
type Error struct {
	Kind       ErrorKind
	Reason     string
	RetryAfter time.Duration // rate_limited only, zero when the venue gave none
	Err        error         // underlying cause
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("execution %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the order.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindDisconnected
}

package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// PaperGateway fills orders in-process at a caller-supplied mark price.
// Balances are quote-denominated; a BUY consumes quote cash and a SELL
// requires a sufficient holding.
type PaperGateway struct {
	mark func(symbol string) decimal.Decimal

	mu       sync.Mutex
	cash     decimal.Decimal
	holdings map[string]*Position
	nextID   int64
	now      func() int64 // Unix ms, test seam
}

// NewPaperGateway creates a gateway with starting quote cash. mark returns
// the current price per symbol; a zero mark price rejects the order.
func NewPaperGateway(cash decimal.Decimal, mark func(symbol string) decimal.Decimal) *PaperGateway {
	return &PaperGateway{
		mark:     mark,
		cash:     cash,
		holdings: make(map[string]*Position),
		now:      func() int64 { return 0 },
	}
}

// SetClock overrides the fill timestamp source.
func (g *PaperGateway) SetClock(now func() int64) { g.now = now }

// PlaceOrder fills immediately. Market orders fill at the mark price,
// limit orders at their limit price.
func (g *PaperGateway) PlaceOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return OrderAck{}, &Error{Kind: KindRejectedByVenue, Reason: "non-positive quantity"}
	}

	price := req.Price
	if req.Type != OrderTypeLimit {
		price = g.mark(req.Symbol)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return OrderAck{}, &Error{Kind: KindRejectedByVenue, Reason: "no mark price for " + req.Symbol}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cost := req.Quantity.Mul(price)
	switch req.Side {
	case OrderSideBuy:
		if cost.GreaterThan(g.cash) {
			return OrderAck{}, &Error{
				Kind:   KindInsufficientFunds,
				Reason: fmt.Sprintf("cost %s exceeds cash %s", cost, g.cash),
			}
		}
		g.cash = g.cash.Sub(cost)
		h := g.holdings[req.Symbol]
		if h == nil {
			g.holdings[req.Symbol] = &Position{Symbol: req.Symbol, Quantity: req.Quantity, EntryPrice: price}
		} else {
			total := h.Quantity.Add(req.Quantity)
			h.EntryPrice = h.EntryPrice.Mul(h.Quantity).Add(cost).Div(total)
			h.Quantity = total
		}
	case OrderSideSell:
		h := g.holdings[req.Symbol]
		if h == nil || h.Quantity.LessThan(req.Quantity) {
			return OrderAck{}, &Error{
				Kind:   KindInsufficientFunds,
				Reason: "holding smaller than sell quantity",
			}
		}
		g.cash = g.cash.Add(cost)
		h.Quantity = h.Quantity.Sub(req.Quantity)
		if h.Quantity.IsZero() {
			delete(g.holdings, req.Symbol)
		}
	default:
		return OrderAck{}, &Error{Kind: KindRejectedByVenue, Reason: "unknown side " + req.Side}
	}

	g.nextID++
	return OrderAck{
		OrderID:       fmt.Sprintf("paper-%d", g.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		ExecutedQty:   req.Quantity,
		AvgPrice:      price,
		TransactTime:  g.now(),
	}, nil
}

// CancelOrder is a no-op; paper fills are immediate.
func (g *PaperGateway) CancelOrder(context.Context, string, string) error { return nil }

// Balances reports the remaining quote cash.
func (g *PaperGateway) Balances(context.Context) ([]Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return []Balance{{Asset: "USDT", Free: g.cash}}, nil
}

// Positions reports current holdings.
func (g *PaperGateway) Positions(context.Context) ([]Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Position, 0, len(g.holdings))
	for _, h := range g.holdings {
		out = append(out, *h)
	}
	return out, nil
}

var _ Gateway = (*PaperGateway)(nil)

package execution

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"

	"trading-lab/internal/binance"
	"trading-lab/internal/observability"
)

// BinanceGateway routes orders to the Binance spot REST API.
type BinanceGateway struct {
	client *binance.RESTClient
}

// NewBinanceGateway wraps a signed REST client.
func NewBinanceGateway(client *binance.RESTClient) *BinanceGateway {
	return &BinanceGateway{client: client}
}

// PlaceOrder submits the order and classifies any failure.
func (g *BinanceGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	params := binance.OrderParams{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity.String(),
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == OrderTypeLimit {
		params.Price = req.Price.String()
	}

	resp, err := g.client.NewOrder(ctx, params)
	if err != nil {
		mapped := mapVenueError(err)
		var xe *Error
		if errors.As(mapped, &xe) {
			observability.RecordGatewayError(string(xe.Kind))
		}
		return OrderAck{}, mapped
	}

	observability.RecordOrderPlaced("binance", req.Side)
	return OrderAck{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          resp.Side,
		ExecutedQty:   parseDecimal(resp.ExecutedQty),
		AvgPrice:      parseDecimal(resp.Price),
		TransactTime:  resp.TransactTime,
	}, nil
}

// CancelOrder cancels by client order id.
func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if _, err := g.client.CancelOrder(ctx, symbol, clientOrderID); err != nil {
		return mapVenueError(err)
	}
	return nil
}

// Balances fetches spot account balances.
func (g *BinanceGateway) Balances(ctx context.Context) ([]Balance, error) {
	acct, err := g.client.Account(ctx)
	if err != nil {
		return nil, mapVenueError(err)
	}
	out := make([]Balance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		out = append(out, Balance{
			Asset:  b.Asset,
			Free:   parseDecimal(b.Free),
			Locked: parseDecimal(b.Locked),
		})
	}
	return out, nil
}

// Positions returns none; spot venues keep no position concept and the
// engine owns simulated positions.
func (g *BinanceGateway) Positions(context.Context) ([]Position, error) {
	return nil, nil
}

// mapVenueError classifies a REST failure into the closed error set.
// 429/418 carry the venue's Retry-After; -2010/-2018/-2019 are balance
// codes; remaining 4xx are venue rejections; transport failures read as
// disconnected.
func mapVenueError(err error) error {
	var apiErr *binance.APIError
	if !errors.As(err, &apiErr) {
		return &Error{Kind: KindDisconnected, Reason: err.Error(), Err: err}
	}

	switch {
	case apiErr.Status == 429 || apiErr.Status == 418:
		return &Error{Kind: KindRateLimited, Reason: apiErr.Message, RetryAfter: apiErr.RetryAfter, Err: err}
	case apiErr.Code == -2010 || apiErr.Code == -2018 || apiErr.Code == -2019:
		return &Error{Kind: KindInsufficientFunds, Reason: apiErr.Message, Err: err}
	case apiErr.Status >= 400 && apiErr.Status < 500:
		return &Error{Kind: KindRejectedByVenue, Reason: apiErr.Message, Err: err}
	default:
		return &Error{Kind: KindUnknown, Reason: apiErr.Message, Err: err}
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ Gateway = (*BinanceGateway)(nil)

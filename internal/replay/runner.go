// Package replay re-runs session configs over recorded market event
// sequences and verifies that the simulation is deterministic: identical
// input, config, and strategy state must reproduce the identical trade
// log and final capital.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
	"trading-lab/internal/session"
	"trading-lab/internal/storage"
	"trading-lab/internal/strategy"
)

// ErrNoEvents is returned when the requested range holds no recorded
// events.
var ErrNoEvents = errors.New("no recorded events in range")

// Outcome is the result of one re-run: the complete trade log and the
// flat final capital after the end-of-data close.
type Outcome struct {
	SessionID    string
	Events       int
	Trades       []domain.ClosedTrade
	FinalCapital decimal.Decimal
}

// LoadEvents pulls the recorded sequence for one stream from the archive,
// in recorded order.
func LoadEvents(ctx context.Context, archive storage.EventArchive, symbol string, kind domain.EventKind, from, to int64) ([]domain.MarketEvent, error) {
	recorded, err := archive.Replay(ctx, symbol, kind, from, to)
	if err != nil {
		return nil, fmt.Errorf("load recorded events: %w", err)
	}
	if len(recorded) == 0 {
		return nil, ErrNoEvents
	}
	events := make([]domain.MarketEvent, len(recorded))
	for i, ev := range recorded {
		events[i] = *ev
	}
	return events, nil
}

// Rerun drives the config over the event sequence through the same account
// machinery the live engine uses. Any position still open after the final
// event is closed there with exit reason end_of_data so outcomes compare
// flat against flat.
//
// The session id pins the deterministic trade ids; reruns that should
// compare equal must pass the same one.
func Rerun(ctx context.Context, sessionID string, cfg domain.SessionConfig, events []domain.MarketEvent, provider strategy.Provider) (*Outcome, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	if provider == nil {
		provider = strategy.Neutral{}
	}
	acct, err := session.NewAccount(sessionID, cfg)
	if err != nil {
		return nil, err
	}

	processed := 0
	var trades []domain.ClosedTrade
	var lastTs int64
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("replay cancelled: %w", err)
		}
		if ev.Symbol != cfg.Symbol || !ev.Price.IsPositive() {
			continue
		}
		sig := provider.Evaluate(ctx, ev)
		change, err := acct.ApplyEvent(ev, sig)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		trades = append(trades, change.Closed...)
		processed++
		lastTs = ev.Timestamp
	}
	if processed == 0 {
		return nil, ErrNoEvents
	}

	closed, err := acct.CloseAll(lastTs, domain.ExitEndOfData)
	if err != nil {
		return nil, fmt.Errorf("close at end of data: %w", err)
	}
	trades = append(trades, closed...)

	return &Outcome{
		SessionID:    sessionID,
		Events:       processed,
		Trades:       trades,
		FinalCapital: acct.CurrentCapital(),
	}, nil
}

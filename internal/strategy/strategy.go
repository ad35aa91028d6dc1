// Package strategy defines the signal boundary of the simulation engine.
// Providers turn market events into BUY/SELL intents; everything from
// sizing to exits stays in the engine.
package strategy

import (
	"context"

	"trading-lab/internal/domain"
)

// Signal is a trade intent for one symbol.
type Signal string

const (
	SignalBuy     Signal = "BUY"
	SignalSell    Signal = "SELL"
	SignalNeutral Signal = "NEUTRAL"
)

// Provider produces a signal per market event. Implementations may keep
// internal state but must be a pure function of the event sequence, so a
// replayed stream yields the same signals.
type Provider interface {
	// Evaluate returns the signal for one event. SignalNeutral means no
	// intent.
	Evaluate(ctx context.Context, ev domain.MarketEvent) Signal

	// ID returns the provider identifier (includes parameters).
	ID() string
}

// Func adapts a plain function into a Provider.
type Func struct {
	Name string
	Fn   func(domain.MarketEvent) Signal
}

func (f Func) Evaluate(_ context.Context, ev domain.MarketEvent) Signal {
	if f.Fn == nil {
		return SignalNeutral
	}
	return f.Fn(ev)
}

func (f Func) ID() string {
	if f.Name == "" {
		return "FUNC"
	}
	return f.Name
}

// Neutral never signals. Sessions using it trade only through risk exits.
type Neutral struct{}

func (Neutral) Evaluate(context.Context, domain.MarketEvent) Signal { return SignalNeutral }

func (Neutral) ID() string { return "NEUTRAL" }

var (
	_ Provider = Func{}
	_ Provider = Neutral{}
)

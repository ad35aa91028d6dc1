package domain

import "github.com/shopspring/decimal"

// SessionStatus is the lifecycle state of a trading session.
// Transitions: created -> active <-> paused -> stopped (terminal).
type SessionStatus string

const (
	StatusCreated SessionStatus = "created"
	StatusActive  SessionStatus = "active"
	StatusPaused  SessionStatus = "paused"
	StatusStopped SessionStatus = "stopped"
)

// SessionMode selects where fills happen. Paper sessions fill in-process at
// observed prices; live sessions route orders through an execution gateway.
type SessionMode string

const (
	ModePaper SessionMode = "paper"
	ModeLive  SessionMode = "live"
)

// RiskConfig bounds a session's exposure. Percent fields are expressed as
// 0-100; a zero decimal means the trigger is disabled.
type RiskConfig struct {
	StopLossPct      decimal.Decimal // exit when price moves this % against entry
	TakeProfitPct    decimal.Decimal // exit when price moves this % in favor
	MaxPositionPct   decimal.Decimal // max % of current capital per position, default 100
	MaxOpenPositions int             // concurrent position cap, default 1
	MaxHoldTimeMs    int64           // force exit after this hold time, 0 = unlimited
}

// FeeConfig is the commission model. Entry and exit rates may differ; both
// default to 0.001 (10 bps). Fees are rounded half-up to PriceIncrement.
type FeeConfig struct {
	EntryRate      decimal.Decimal
	ExitRate       decimal.Decimal
	PriceIncrement decimal.Decimal // minimum price increment, default 0.01
}

// DefaultCommissionRate is applied to both entry and exit when a session
// config leaves the fee rates unset.
var DefaultCommissionRate = decimal.NewFromFloat(0.001)

// DefaultPriceIncrement is the fee rounding quantum when unset.
var DefaultPriceIncrement = decimal.NewFromFloat(0.01)

// SessionConfig is the immutable configuration a session is created with.
type SessionConfig struct {
	Name             string          // display name
	Symbol           string          // instrument, e.g. "BTCUSDT"
	StrategyRef      string          // opaque handle to the signal provider
	Mode             SessionMode     // paper | live, default paper
	InitialCapital   decimal.Decimal // starting cash, must be > 0
	Risk             RiskConfig
	Fees             FeeConfig
	EquityIntervalMs int64 // equity sampling cadence, default 60_000
	MarkOnFunding    bool  // use funding mark price for equity sampling
}

// SessionSnapshot is the immutable state record pushed to the session store
// after every transition. Corresponds to the sessions table in PostgreSQL;
// closed trades and the equity curve live in their own stores keyed by ID.
type SessionSnapshot struct {
	ID          string
	Name        string
	Symbol      string
	StrategyRef string
	Mode        SessionMode
	Status      SessionStatus

	InitialCapital decimal.Decimal
	CurrentCapital decimal.Decimal // cash not allocated to open positions
	RealizedPnl    decimal.Decimal // sum over closed trades
	TotalFees      decimal.Decimal

	Risk RiskConfig
	Fees FeeConfig

	OpenPositions []Position

	TotalTrades   int
	WinningTrades int
	LosingTrades  int

	LastPrice   decimal.Decimal // last processed event price, zero before first event
	CreatedAt   int64           // Unix ms
	StartedAt   int64           // Unix ms, zero until first activation
	StoppedAt   int64           // Unix ms, zero until terminal
	LastEventAt int64           // Unix ms of last processed event, staleness source
}

// Equity is cash plus open positions marked at the given price. With no
// open positions it equals CurrentCapital.
func (s SessionSnapshot) Equity(markPrice decimal.Decimal) decimal.Decimal {
	eq := s.CurrentCapital
	for _, p := range s.OpenPositions {
		eq = eq.Add(p.MarkValue(markPrice))
	}
	return eq
}

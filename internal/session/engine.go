package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/domain"
	"trading-lab/internal/execution"
	"trading-lab/internal/observability"
	"trading-lab/internal/storage"
	"trading-lab/internal/strategy"
	"trading-lab/internal/stream"
)

// DefaultStalenessInterval is how often the engine refreshes per-session
// staleness gauges.
const DefaultStalenessInterval = 10 * time.Second

const defaultEventBuffer = 256

// Resolver maps a session's opaque strategy reference to a signal
// provider. Each session gets its own provider instance so scripted
// state never leaks between sessions.
type Resolver func(ref string) (strategy.Provider, error)

// Options configures an Engine.
type Options struct {
	// Hub supplies market events. Required.
	Hub *stream.Hub
	// Sessions holds the durable session records. Required.
	Sessions storage.SessionStore
	// Trades receives the append-only closed-trade log. Optional.
	Trades storage.TradeStore
	// Equity receives equity-curve samples. Optional.
	Equity storage.EquityStore
	// Resolver maps strategy refs to providers. Nil resolves every ref
	// to the neutral provider (sessions trade only through risk exits).
	Resolver Resolver
	// Gateway mirrors fills of live-mode sessions to a venue. Optional.
	Gateway execution.Gateway
	// SubscriptionBuffer overrides the hub's per-subscriber buffer.
	SubscriptionBuffer int
	// EventBuffer sizes the session event channel. Defaults to 256.
	EventBuffer int
	// StalenessInterval overrides the staleness gauge refresh cadence.
	StalenessInterval time.Duration
	// Logger defaults to logrus.StandardLogger().
	Logger *logrus.Logger
	// Now overrides the wall clock, used by tests and replays.
	Now func() time.Time
}

// Engine owns the set of live session state machines. Each session runs as
// its own task processing events strictly in order; the engine serializes
// lifecycle commands into those tasks and exposes immutable snapshots
// through the session store.
type Engine struct {
	hub      *stream.Hub
	sessions storage.SessionStore
	trades   storage.TradeStore
	equity   storage.EquityStore
	resolver Resolver
	gateway  execution.Gateway
	subBuf   int
	log      *logrus.Entry
	now      func() time.Time

	events chan domain.SessionEvent

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	runners map[string]*runner
	closed  bool

	wg sync.WaitGroup
}

// NewEngine creates an engine and starts its staleness loop.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Hub == nil {
		return nil, errors.New("session engine requires a stream hub")
	}
	if opts.Sessions == nil {
		return nil, errors.New("session engine requires a session store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = func(string) (strategy.Provider, error) { return strategy.Neutral{}, nil }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}
	staleEvery := opts.StalenessInterval
	if staleEvery <= 0 {
		staleEvery = DefaultStalenessInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		hub:      opts.Hub,
		sessions: opts.Sessions,
		trades:   opts.Trades,
		equity:   opts.Equity,
		resolver: resolver,
		gateway:  opts.Gateway,
		subBuf:   opts.SubscriptionBuffer,
		log:      logger.WithField("component", "session_engine"),
		now:      now,
		events:   make(chan domain.SessionEvent, buf),
		ctx:      ctx,
		cancel:   cancel,
		runners:  make(map[string]*runner),
	}
	e.wg.Add(1)
	go e.stalenessLoop(staleEvery)
	return e, nil
}

// Create validates the config, subscribes the new session to its symbol's
// trade stream, and starts its task in the active state. Validation
// failures are returned synchronously and wrap ErrInvalidConfig.
//
// A failing feed subscription does not fail creation: the session stays
// active with no fills and a growing staleness gauge.
func (e *Engine) Create(ctx context.Context, cfg domain.SessionConfig) (*domain.SessionSnapshot, error) {
	if cfg.Mode == "" {
		cfg.Mode = domain.ModePaper
	}
	id := uuid.NewString()
	acct, err := NewAccount(id, cfg)
	if err != nil {
		return nil, err
	}
	provider, err := e.resolver(cfg.StrategyRef)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve strategy %q: %v", ErrInvalidConfig, cfg.StrategyRef, err)
	}

	r := newRunner(id, cfg, acct, provider, e)
	r.createdAt = e.now().UnixMilli()
	r.startedAt = r.createdAt
	r.status.Store(domain.StatusActive)

	key := domain.StreamKey{Symbol: cfg.Symbol, Kind: domain.KindTrade}
	sub, err := e.hub.Subscribe(ctx, key, e.subBuf)
	if err != nil {
		e.log.WithError(err).WithField("key", key.String()).
			Warn("feed subscription failed, session starts without events")
	} else {
		r.attach(sub)
	}

	snap := r.snapshot()
	if err := e.sessions.Create(ctx, snap); err != nil {
		if r.subOK {
			e.hub.Unsubscribe(sub.ID)
		}
		return nil, fmt.Errorf("persist session: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		if r.subOK {
			e.hub.Unsubscribe(sub.ID)
		}
		return nil, errors.New("session engine closed")
	}
	e.runners[id] = r
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r.loop(e.ctx)
		e.updateGauges()
	}()
	e.updateGauges()
	e.log.WithFields(logrus.Fields{
		"session_id": id,
		"symbol":     cfg.Symbol,
		"mode":       string(cfg.Mode),
	}).Info("session created")
	return snap, nil
}

// Pause suspends trading for the session. Events arriving while paused are
// discarded. Pausing a paused session is a no-op.
func (e *Engine) Pause(id string) error { return e.command(id, cmdPause) }

// Resume re-enables trading for a paused session. Resuming an active
// session is a no-op.
func (e *Engine) Resume(id string) error { return e.command(id, cmdResume) }

// Stop force-closes any open position at the last known price, releases
// the feed subscription, and makes the session terminal. Idempotent: a
// second Stop is a no-op, not an error.
func (e *Engine) Stop(id string) error { return e.command(id, cmdStop) }

func (e *Engine) command(id string, kind commandKind) error {
	e.mu.Lock()
	r, ok := e.runners[id]
	e.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	reply := make(chan error, 1)
	select {
	case r.cmds <- command{kind: kind, reply: reply}:
		err := <-reply
		e.updateGauges()
		return err
	case <-r.done:
		// Runner already terminal. Stop stays idempotent; anything else
		// is a transition out of stopped.
		if kind == cmdStop {
			return nil
		}
		return ErrTerminal
	}
}

// Delete removes a stopped session's record. Running sessions are refused
// with storage.ErrInvalidInput.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	r, ok := e.runners[id]
	if ok && r.currentStatus() != domain.StatusStopped {
		e.mu.Unlock()
		return storage.ErrInvalidInput
	}
	delete(e.runners, id)
	e.mu.Unlock()

	if err := e.sessions.Delete(ctx, id); err != nil {
		return err
	}
	observability.DropSessionStaleness(id)
	e.updateGauges()
	return nil
}

// Get returns the latest stored snapshot for the session.
func (e *Engine) Get(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	snap, err := e.sessions.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return snap, err
}

// List returns stored snapshots for all sessions.
func (e *Engine) List(ctx context.Context) ([]*domain.SessionSnapshot, error) {
	return e.sessions.List(ctx)
}

// Events returns the engine's session event stream. Slow consumers lose
// the oldest buffered event, never block a session task.
func (e *Engine) Events() <-chan domain.SessionEvent {
	return e.events
}

// Close stops every session gracefully and shuts the engine down. Sessions
// finish their in-flight event before stopping, so no capital mutation is
// ever torn. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	ids := make([]string, 0, len(e.runners))
	for id := range e.runners {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.Stop(id); err != nil && !errors.Is(err, ErrNotFound) {
			e.log.WithError(err).WithField("session_id", id).Warn("stop during shutdown")
		}
	}
	e.cancel()
	e.wg.Wait()
	close(e.events)
	e.log.Info("session engine closed")
	return nil
}

// persistSnapshot pushes one immutable snapshot to the session store.
// Store failures are logged, never propagated into the session task.
func (e *Engine) persistSnapshot(ctx context.Context, snap *domain.SessionSnapshot) {
	if err := e.sessions.UpdateSnapshot(ctx, snap); err != nil {
		e.log.WithError(err).WithField("session_id", snap.ID).Error("persist session snapshot")
	}
}

// emit delivers a session event without blocking, evicting the oldest
// buffered event when the consumer lags.
func (e *Engine) emit(ev domain.SessionEvent) {
	select {
	case e.events <- ev:
		return
	default:
	}
	select {
	case <-e.events:
	default:
	}
	select {
	case e.events <- ev:
	default:
	}
}

// stalenessLoop refreshes the per-session staleness gauges. A session with
// a dead feed stays visibly active; this gauge is how the stall shows.
func (e *Engine) stalenessLoop(every time.Duration) {
	defer e.wg.Done()
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			nowMs := e.now().UnixMilli()
			e.mu.Lock()
			for id, r := range e.runners {
				if r.currentStatus() != domain.StatusActive {
					continue
				}
				last := r.lastEventAt.Load()
				if last == 0 {
					last = r.startedAt
				}
				observability.UpdateSessionStaleness(id, float64(nowMs-last)/1000.0)
			}
			e.mu.Unlock()
		case <-e.ctx.Done():
			return
		}
	}
}

// updateGauges refreshes the per-status session count gauges.
func (e *Engine) updateGauges() {
	counts := make(map[string]int)
	e.mu.Lock()
	for _, r := range e.runners {
		counts[string(r.currentStatus())]++
	}
	e.mu.Unlock()
	observability.UpdateSessionCounts(counts)
}

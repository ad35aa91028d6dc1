// Package stream fans market events out from shared feed adapters to
// subscribers. One adapter exists per (symbol, kind) key regardless of
// subscriber count; slow subscribers lose their oldest buffered events
// rather than stalling the fan-out.
package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/domain"
	"trading-lab/internal/feed"
	"trading-lab/internal/observability"
)

const defaultBuffer = 256

var (
	// ErrClosed is returned when the hub is used after Close.
	ErrClosed = errors.New("stream hub closed")
	// ErrInvalidKey is returned for stream keys with an unknown kind or
	// empty symbol.
	ErrInvalidKey = errors.New("invalid stream key")
)

// Options configures a Hub.
type Options struct {
	// Factory creates adapters on first subscription to a key. Required.
	Factory feed.Factory
	// DefaultBuffer is the subscriber channel capacity used when
	// Subscribe is called with buffer <= 0. Defaults to 256.
	DefaultBuffer int
	// Logger defaults to logrus.StandardLogger().
	Logger *logrus.Logger
}

// Hub multiplexes feed adapters across subscribers.
type Hub struct {
	factory feed.Factory
	defBuf  int
	log     *logrus.Entry

	mu      sync.Mutex
	entries map[domain.StreamKey]*streamEntry
	subs    map[string]*subscriber
	closed  bool
}

// streamEntry owns one adapter and the subscribers sharing it.
type streamEntry struct {
	key     domain.StreamKey
	adapter feed.Adapter
	err     error // creation failure, set before ready closes

	ready chan struct{} // closed once adapter creation settles
	done  chan struct{} // closed when the pump exits

	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	id      string
	entry   *streamEntry
	buffer  int
	ch      chan domain.MarketEvent
	dropped atomic.Uint64
	closed  bool // guarded by entry.mu
}

// Subscription is a live attachment to one stream key. Events arrives in
// timestamp order per key; Dropped counts events evicted because the
// subscriber fell behind.
type Subscription struct {
	ID     string
	Key    domain.StreamKey
	Events <-chan domain.MarketEvent

	sub *subscriber
}

// Dropped returns how many events this subscription has lost to
// drop-oldest eviction.
func (s Subscription) Dropped() uint64 {
	return s.sub.dropped.Load()
}

// SubscriptionStat describes one subscription for Stats.
type SubscriptionStat struct {
	ID      string
	Key     domain.StreamKey
	Buffer  int
	Dropped uint64
}

// Stats is a point-in-time snapshot of hub state.
type Stats struct {
	Adapters      int
	Subscriptions []SubscriptionStat
}

// NewHub creates a Hub. Opts.Factory must be set.
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	defBuf := opts.DefaultBuffer
	if defBuf <= 0 {
		defBuf = defaultBuffer
	}
	return &Hub{
		factory: opts.Factory,
		defBuf:  defBuf,
		log:     logger.WithField("component", "stream_hub"),
		entries: make(map[domain.StreamKey]*streamEntry),
		subs:    make(map[string]*subscriber),
	}
}

// Subscribe attaches to the stream for key, creating the feed adapter if
// this is the first subscription for that key. Later subscribers to the
// same key share the adapter and each receive every event. buffer <= 0
// uses the hub default.
//
// The first subscriber pays the adapter connection latency; concurrent
// subscribers to the same key block until that creation settles and share
// its outcome.
func (h *Hub) Subscribe(ctx context.Context, key domain.StreamKey, buffer int) (Subscription, error) {
	if key.Symbol == "" || !domain.ValidKind(key.Kind) {
		return Subscription{}, ErrInvalidKey
	}
	if buffer <= 0 {
		buffer = h.defBuf
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Subscription{}, ErrClosed
	}
	e, ok := h.entries[key]
	creator := false
	if !ok {
		e = &streamEntry{
			key:   key,
			ready: make(chan struct{}),
			done:  make(chan struct{}),
			subs:  make(map[string]*subscriber),
		}
		h.entries[key] = e
		creator = true
	}
	s := &subscriber{
		id:     uuid.NewString(),
		entry:  e,
		buffer: buffer,
		ch:     make(chan domain.MarketEvent, buffer),
	}
	e.mu.Lock()
	e.subs[s.id] = s
	e.mu.Unlock()
	h.subs[s.id] = s
	h.updateGauges()
	h.mu.Unlock()

	if creator {
		adapter, err := h.factory(ctx, key)
		if err != nil {
			e.err = err
			close(e.ready)
			h.teardownEntry(e)
			close(e.done)
			return Subscription{}, err
		}
		e.adapter = adapter
		close(e.ready)
		h.log.WithField("key", key.String()).Info("adapter started")
		go h.pump(e)
	} else {
		select {
		case <-e.ready:
		case <-ctx.Done():
			h.detach(s)
			return Subscription{}, ctx.Err()
		}
		if e.err != nil {
			h.detach(s)
			return Subscription{}, e.err
		}
	}

	h.log.WithFields(logrus.Fields{
		"key":             key.String(),
		"subscription_id": s.id,
		"buffer":          buffer,
	}).Debug("subscriber attached")
	return Subscription{ID: s.id, Key: key, Events: s.ch, sub: s}, nil
}

// Unsubscribe detaches a subscription and closes its channel. When the
// last subscription for a key leaves, the key's adapter is closed too.
// Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	e := s.entry
	e.mu.Lock()
	if _, member := e.subs[id]; member {
		delete(e.subs, id)
		s.close()
	}
	last := len(e.subs) == 0
	e.mu.Unlock()
	if last && h.entries[e.key] == e {
		delete(h.entries, e.key)
	}
	h.updateGauges()
	h.mu.Unlock()

	if last {
		<-e.ready
		if e.adapter != nil {
			_ = e.adapter.Close()
			h.log.WithField("key", e.key.String()).Info("adapter stopped, no subscribers left")
		}
	}
}

// Stats reports adapter count and per-subscription drop counters, sorted
// by subscription id.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{
		Adapters:      len(h.entries),
		Subscriptions: make([]SubscriptionStat, 0, len(h.subs)),
	}
	for _, s := range h.subs {
		st.Subscriptions = append(st.Subscriptions, SubscriptionStat{
			ID:      s.id,
			Key:     s.entry.key,
			Buffer:  s.buffer,
			Dropped: s.dropped.Load(),
		})
	}
	sort.Slice(st.Subscriptions, func(i, j int) bool {
		return st.Subscriptions[i].ID < st.Subscriptions[j].ID
	})
	return st
}

// Close shuts down every adapter and closes every subscriber channel.
// Idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	entries := make([]*streamEntry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.adapter != nil {
			_ = e.adapter.Close()
		}
		<-e.done
	}
	h.log.Info("hub closed")
	return nil
}

// pump reads the adapter until its event channel closes, fanning each
// event out to the entry's subscribers. Delivery never blocks: a full
// subscriber buffer loses its oldest event instead.
func (h *Hub) pump(e *streamEntry) {
	defer close(e.done)
	for ev := range e.adapter.Events() {
		e.mu.Lock()
		for _, s := range e.subs {
			s.deliver(ev)
		}
		e.mu.Unlock()
	}
	h.teardownEntry(e)
}

// teardownEntry detaches an entry and all its remaining subscribers after
// the adapter terminated or failed to start.
func (h *Hub) teardownEntry(e *streamEntry) {
	h.mu.Lock()
	if h.entries[e.key] == e {
		delete(h.entries, e.key)
	}
	e.mu.Lock()
	for id, s := range e.subs {
		delete(e.subs, id)
		delete(h.subs, id)
		s.close()
	}
	e.mu.Unlock()
	h.updateGauges()
	h.mu.Unlock()
}

// detach removes one subscriber after a failed subscribe. Safe to call
// when teardownEntry already removed it.
func (h *Hub) detach(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s.id)
	e := s.entry
	e.mu.Lock()
	if _, member := e.subs[s.id]; member {
		delete(e.subs, s.id)
		s.close()
	}
	e.mu.Unlock()
	h.updateGauges()
	h.mu.Unlock()
}

// updateGauges refreshes hub size metrics. Callers hold h.mu.
func (h *Hub) updateGauges() {
	observability.UpdateHubSizes(len(h.subs), len(h.entries))
}

// deliver hands one event to the subscriber without blocking. A full
// buffer evicts the oldest event first; the dropped counter records the
// loss.
func (s *subscriber) deliver(ev domain.MarketEvent) {
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
		observability.RecordEventDropped("slow_subscriber")
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// close closes the subscriber channel once. Callers hold entry.mu.
func (s *subscriber) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

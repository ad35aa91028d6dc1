package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
	"trading-lab/internal/feed"
)

// stubAdapter is a manually driven feed.Adapter for hub tests.
type stubAdapter struct {
	events     chan domain.MarketEvent
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{events: make(chan domain.MarketEvent)}
}

func (s *stubAdapter) Connect(ctx context.Context) error { return nil }

func (s *stubAdapter) Events() <-chan domain.MarketEvent { return s.events }

func (s *stubAdapter) Emit(ev domain.MarketEvent) { s.events <- ev }
func (s *stubAdapter) Close() error {
	s.closeCalls.Add(1)
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

// stubFactory records adapter creations per key.
type stubFactory struct {
	mu      sync.Mutex
	calls   int
	err     error
	delay   time.Duration
	created map[domain.StreamKey]*stubAdapter
}

func newStubFactory() *stubFactory {
	return &stubFactory{created: make(map[domain.StreamKey]*stubAdapter)}
}

func (f *stubFactory) factory(ctx context.Context, key domain.StreamKey) (feed.Adapter, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	a := newStubAdapter()
	f.mu.Lock()
	f.created[key] = a
	f.mu.Unlock()
	return a, nil
}

func (f *stubFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *stubFactory) adapter(key domain.StreamKey) *stubAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[key]
}

func tradeEvent(ts int64, price string) domain.MarketEvent {
	return domain.MarketEvent{
		Symbol:    "BTCUSDT",
		Kind:      domain.KindTrade,
		Timestamp: ts,
		Price:     decimal.RequireFromString(price),
		Quantity:  decimal.RequireFromString("1"),
		Side:      domain.SideBuy,
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHub_SubscribeSharesOneAdapter(t *testing.T) {
	f := newStubFactory()
	f.delay = 20 * time.Millisecond // widen the creation window
	hub := NewHub(Options{Factory: f.factory})
	defer hub.Close()

	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}

	const n = 100
	subs := make([]Subscription, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := hub.Subscribe(context.Background(), key, 8)
			if err != nil {
				t.Errorf("Subscribe: %v", err)
				return
			}
			subs[i] = sub
		}(i)
	}
	wg.Wait()

	if got := f.callCount(); got != 1 {
		t.Fatalf("factory calls = %d, want 1", got)
	}

	f.adapter(key).Emit(tradeEvent(1000, "100"))
	for i, sub := range subs {
		select {
		case ev := <-sub.Events:
			if ev.Timestamp != 1000 {
				t.Errorf("sub %d: timestamp = %d, want 1000", i, ev.Timestamp)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("sub %d: timeout waiting for event", i)
		}
	}
}

func TestHub_DropOldestOnFullBuffer(t *testing.T) {
	f := newStubFactory()
	hub := NewHub(Options{Factory: f.factory})
	defer hub.Close()

	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}
	sub, err := hub.Subscribe(context.Background(), key, 2)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	adapter := f.adapter(key)
	for ts := int64(1); ts <= 5; ts++ {
		adapter.Emit(tradeEvent(ts, "100"))
	}

	waitUntil(t, func() bool { return sub.Dropped() == 3 }, "dropped counter never reached 3")

	// oldest three evicted, buffer holds the two newest
	for _, want := range []int64{4, 5} {
		select {
		case ev := <-sub.Events:
			if ev.Timestamp != want {
				t.Errorf("timestamp = %d, want %d", ev.Timestamp, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", want)
		}
	}
}

func TestHub_SlowSubscriberDoesNotStallOthers(t *testing.T) {
	f := newStubFactory()
	hub := NewHub(Options{Factory: f.factory})
	defer hub.Close()

	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}
	slow, err := hub.Subscribe(context.Background(), key, 1)
	if err != nil {
		t.Fatalf("Subscribe slow: %v", err)
	}
	fast, err := hub.Subscribe(context.Background(), key, 16)
	if err != nil {
		t.Fatalf("Subscribe fast: %v", err)
	}

	adapter := f.adapter(key)
	for ts := int64(1); ts <= 10; ts++ {
		adapter.Emit(tradeEvent(ts, "100"))
	}

	// fast consumer sees every event despite the stalled slow one
	for want := int64(1); want <= 10; want++ {
		select {
		case ev := <-fast.Events:
			if ev.Timestamp != want {
				t.Fatalf("fast: timestamp = %d, want %d", ev.Timestamp, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("fast: timeout at event %d", want)
		}
	}
	waitUntil(t, func() bool { return slow.Dropped() == 9 }, "slow dropped counter never reached 9")
	if fast.Dropped() != 0 {
		t.Errorf("fast dropped = %d, want 0", fast.Dropped())
	}
}

func TestHub_UnsubscribeClosesAdapterWhenLast(t *testing.T) {
	f := newStubFactory()
	hub := NewHub(Options{Factory: f.factory})
	defer hub.Close()

	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}
	first, _ := hub.Subscribe(context.Background(), key, 4)
	second, _ := hub.Subscribe(context.Background(), key, 4)

	hub.Unsubscribe(first.ID)
	if got := f.adapter(key).closeCalls.Load(); got != 0 {
		t.Fatalf("adapter closed with a subscriber still attached")
	}
	if _, ok := <-first.Events; ok {
		t.Error("unsubscribed channel should be closed")
	}

	hub.Unsubscribe(second.ID)
	waitUntil(t, func() bool { return f.adapter(key).closeCalls.Load() > 0 }, "adapter never closed")
	waitUntil(t, func() bool { return hub.Stats().Adapters == 0 }, "entry never removed")

	// same id again is a no-op
	hub.Unsubscribe(second.ID)
	hub.Unsubscribe("unknown")
}

func TestHub_SubscribeAfterLastUnsubscribeRecreates(t *testing.T) {
	f := newStubFactory()
	hub := NewHub(Options{Factory: f.factory})
	defer hub.Close()

	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}
	sub, _ := hub.Subscribe(context.Background(), key, 4)
	hub.Unsubscribe(sub.ID)
	waitUntil(t, func() bool { return hub.Stats().Adapters == 0 }, "entry never removed")

	if _, err := hub.Subscribe(context.Background(), key, 4); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if got := f.callCount(); got != 2 {
		t.Errorf("factory calls = %d, want 2", got)
	}
}

func TestHub_FactoryErrorPropagates(t *testing.T) {
	f := newStubFactory()
	f.err = errors.New("dial failed")
	hub := NewHub(Options{Factory: f.factory})
	defer hub.Close()

	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}
	if _, err := hub.Subscribe(context.Background(), key, 4); err == nil {
		t.Fatal("expected factory error")
	}

	st := hub.Stats()
	if st.Adapters != 0 || len(st.Subscriptions) != 0 {
		t.Errorf("failed subscribe leaked state: %+v", st)
	}

	// key stays usable once the factory recovers
	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	if _, err := hub.Subscribe(context.Background(), key, 4); err != nil {
		t.Fatalf("Subscribe after recovery: %v", err)
	}
}

func TestHub_InvalidKey(t *testing.T) {
	hub := NewHub(Options{Factory: newStubFactory().factory})
	defer hub.Close()

	cases := []domain.StreamKey{
		{Symbol: "", Kind: domain.KindTrade},
		{Symbol: "BTCUSDT", Kind: domain.EventKind("candles")},
	}
	for _, key := range cases {
		if _, err := hub.Subscribe(context.Background(), key, 4); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Subscribe(%v) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestHub_AdapterTerminationDetachesSubscribers(t *testing.T) {
	f := newStubFactory()
	hub := NewHub(Options{Factory: f.factory})
	defer hub.Close()

	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}
	sub, err := hub.Subscribe(context.Background(), key, 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	f.adapter(key).Close() // upstream dies

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	waitUntil(t, func() bool { return hub.Stats().Adapters == 0 }, "dead entry never removed")
}

func TestHub_CloseShutsDownEverything(t *testing.T) {
	f := newStubFactory()
	hub := NewHub(Options{Factory: f.factory})

	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}
	sub, err := hub.Subscribe(context.Background(), key, 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := hub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := hub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatal("expected closed channel after hub close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if f.adapter(key).closeCalls.Load() == 0 {
		t.Error("adapter not closed")
	}
	if _, err := hub.Subscribe(context.Background(), key, 4); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
}

func TestHub_StatsReportsBuffersAndDrops(t *testing.T) {
	f := newStubFactory()
	hub := NewHub(Options{Factory: f.factory, DefaultBuffer: 32})
	defer hub.Close()

	key := domain.StreamKey{Symbol: "ETHUSDT", Kind: domain.KindAggregatedTrade}
	sub, err := hub.Subscribe(context.Background(), key, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	st := hub.Stats()
	if st.Adapters != 1 || len(st.Subscriptions) != 1 {
		t.Fatalf("stats = %+v, want 1 adapter, 1 subscription", st)
	}
	got := st.Subscriptions[0]
	if got.ID != sub.ID || got.Key != key || got.Buffer != 32 || got.Dropped != 0 {
		t.Errorf("subscription stat = %+v", got)
	}
}

package idhash

import (
	"testing"
)

func TestTradeID(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		symbol    string
		seq       int
		entryTime int64
	}{
		{
			name:      "first trade",
			sessionID: "6a1f6f0e-6f0a-4a7e-9a64-0d6a38b1a001",
			symbol:    "BTCUSDT",
			seq:       0,
			entryTime: 1704067234567,
		},
		{
			name:      "later trade same session",
			sessionID: "6a1f6f0e-6f0a-4a7e-9a64-0d6a38b1a001",
			symbol:    "BTCUSDT",
			seq:       7,
			entryTime: 1704070000000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TradeID(tt.sessionID, tt.symbol, tt.seq, tt.entryTime)

			if len(got) != 64 {
				t.Errorf("TradeID() length = %d, want 64", len(got))
			}

			// Same inputs must produce the same id.
			got2 := TradeID(tt.sessionID, tt.symbol, tt.seq, tt.entryTime)
			if got != got2 {
				t.Errorf("TradeID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestTradeIDUniqueness(t *testing.T) {
	base := TradeID("session-a", "BTCUSDT", 0, 1704067234567)

	variants := []string{
		TradeID("session-b", "BTCUSDT", 0, 1704067234567),
		TradeID("session-a", "ETHUSDT", 0, 1704067234567),
		TradeID("session-a", "BTCUSDT", 1, 1704067234567),
		TradeID("session-a", "BTCUSDT", 0, 1704067234568),
	}

	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base id %s", i, base)
		}
	}
}

func TestPositionIDDiffersFromTradeID(t *testing.T) {
	trade := TradeID("session-a", "BTCUSDT", 0, 1704067234567)
	pos := PositionID("session-a", "BTCUSDT", "long", 0, 1704067234567)

	if trade == pos {
		t.Errorf("position id must not collide with trade id: %s", trade)
	}
	if len(pos) != 64 {
		t.Errorf("PositionID() length = %d, want 64", len(pos))
	}
}

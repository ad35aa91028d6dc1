package feed

import "testing"

func TestGuardAdmitsFirstEvent(t *testing.T) {
	var g Guard
	if !g.Admit(1000, 5) {
		t.Fatal("first event must be admitted")
	}
}

func TestGuardOrdering(t *testing.T) {
	tests := []struct {
		name  string
		ts    int64
		seq   int64
		admit bool
	}{
		{"later timestamp", 2000, 0, true},
		{"same timestamp later seq", 1000, 6, true},
		{"same timestamp same seq", 1000, 5, false},
		{"same timestamp earlier seq", 1000, 4, false},
		{"earlier timestamp", 999, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Guard
			g.Admit(1000, 5)
			if got := g.Admit(tt.ts, tt.seq); got != tt.admit {
				t.Errorf("Admit(%d, %d) = %v, want %v", tt.ts, tt.seq, got, tt.admit)
			}
		})
	}
}

func TestGuardDoesNotAdvanceOnReject(t *testing.T) {
	var g Guard
	g.Admit(1000, 5)

	// A rejected regression must not move the high-water mark backwards.
	if g.Admit(500, 1) {
		t.Fatal("regression admitted")
	}
	if g.Admit(600, 1) {
		t.Fatal("event older than high-water mark admitted after a reject")
	}
	if !g.Admit(1001, 0) {
		t.Fatal("event past the high-water mark rejected")
	}
}

func TestGuardSeqlessKindsDedupOnTimestamp(t *testing.T) {
	var g Guard
	g.Admit(1000, 0)

	// Redelivery after a reconnect repeats the same timestamp.
	if g.Admit(1000, 0) {
		t.Fatal("duplicate timestamp admitted")
	}
	if !g.Admit(1001, 0) {
		t.Fatal("next timestamp rejected")
	}
}

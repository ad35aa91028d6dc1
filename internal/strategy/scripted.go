package strategy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"trading-lab/internal/domain"
)

// Step schedules one signal at a point in stream time.
type Step struct {
	At     int64 // Unix ms; fires at the first event with Timestamp >= At
	Signal Signal
}

// Scripted replays a fixed signal schedule against the event stream. It
// drives replay verification and tests: the same event sequence always
// produces the same signal sequence.
//
// A step fires at the first event whose timestamp reaches it; when several
// steps become due on one event the last of them wins and the earlier ones
// are skipped.
type Scripted struct {
	name  string
	steps []Step
	idx   int
}

// NewScripted creates a provider from steps, sorting them by time.
func NewScripted(name string, steps []Step) *Scripted {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	if name == "" {
		name = "SCRIPTED"
	}
	return &Scripted{name: name, steps: sorted}
}

func (s *Scripted) Evaluate(_ context.Context, ev domain.MarketEvent) Signal {
	out := SignalNeutral
	for s.idx < len(s.steps) && s.steps[s.idx].At <= ev.Timestamp {
		out = s.steps[s.idx].Signal
		s.idx++
	}
	return out
}

func (s *Scripted) ID() string {
	return fmt.Sprintf("%s_%d_steps", s.name, len(s.steps))
}

// Remaining reports how many steps have not fired yet.
func (s *Scripted) Remaining() int {
	return len(s.steps) - s.idx
}

var _ Provider = (*Scripted)(nil)

// ParseScript reads a signal schedule, one `timestamp_ms,signal` pair per
// line. Blank lines and lines starting with '#' are skipped.
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Split(text, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("script line %d: want timestamp,signal, got %q", line, text)
		}
		at, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("script line %d: bad timestamp: %w", line, err)
		}
		sig := Signal(strings.ToUpper(strings.TrimSpace(parts[1])))
		switch sig {
		case SignalBuy, SignalSell, SignalNeutral:
		default:
			return nil, fmt.Errorf("script line %d: unknown signal %q", line, parts[1])
		}
		steps = append(steps, Step{At: at, Signal: sig})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}

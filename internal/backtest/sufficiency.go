package backtest

import (
	"errors"
	"fmt"
	"sort"

	"trading-lab/internal/domain"
)

// ErrInsufficientData is returned when the bar input cannot support a
// meaningful backtest.
var ErrInsufficientData = errors.New("insufficient data for backtest")

// Sufficiency defaults.
const (
	DefaultMinBars      = 30
	DefaultMaxGapFactor = 3.0
)

// Requirements are the data sufficiency thresholds checked before a run.
type Requirements struct {
	// MinBars is the minimum bar count. Defaults to 30.
	MinBars int
	// MaxGapFactor bounds gaps between consecutive bars as a multiple of
	// the median interval. Defaults to 3.
	MaxGapFactor float64
}

// CheckSufficiency validates the bar sequence: enough bars, strictly
// increasing open times, and no gap wider than MaxGapFactor times the
// median interval. All failures wrap ErrInsufficientData.
func CheckSufficiency(bars []domain.Bar, req Requirements) error {
	minBars := req.MinBars
	if minBars <= 0 {
		minBars = DefaultMinBars
	}
	gapFactor := req.MaxGapFactor
	if gapFactor <= 0 {
		gapFactor = DefaultMaxGapFactor
	}

	if len(bars) < minBars {
		return fmt.Errorf("%w: %d bars, need at least %d", ErrInsufficientData, len(bars), minBars)
	}

	gaps := make([]int64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		d := bars[i].OpenTime - bars[i-1].OpenTime
		if d <= 0 {
			return fmt.Errorf("%w: bar %d open time %d does not advance past %d",
				ErrInsufficientData, i, bars[i].OpenTime, bars[i-1].OpenTime)
		}
		gaps = append(gaps, d)
	}

	median := medianInt64(gaps)
	limit := int64(float64(median) * gapFactor)
	for i, d := range gaps {
		if d > limit {
			return fmt.Errorf("%w: gap of %dms before bar %d exceeds %.1fx median interval %dms",
				ErrInsufficientData, d, i+1, gapFactor, median)
		}
	}
	return nil
}

func medianInt64(v []int64) int64 {
	sorted := make([]int64, len(v))
	copy(sorted, v)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

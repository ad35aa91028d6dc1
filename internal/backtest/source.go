package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
)

// ReadBarsCSV parses a bar series from CSV. Expected columns:
//
//	open_time_ms,open,high,low,close,volume[,close_time_ms]
//
// A header row is detected by a non-numeric first field and skipped. When
// the close_time column is missing it is derived from the spacing of the
// first two bars.
func ReadBarsCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []domain.Bar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bars csv: %w", err)
		}
		line++
		if len(record) == 0 || strings.HasPrefix(record[0], "#") {
			continue
		}
		if line == 1 {
			if _, err := strconv.ParseInt(record[0], 10, 64); err != nil {
				continue // header row
			}
		}
		bar, err := parseBar(record, symbol)
		if err != nil {
			return nil, fmt.Errorf("bars csv line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	fillCloseTimes(bars)
	return bars, nil
}

// LoadBarsFile reads a CSV bar file from disk.
func LoadBarsFile(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars file: %w", err)
	}
	defer f.Close()
	return ReadBarsCSV(f, symbol)
}

func parseBar(record []string, symbol string) (domain.Bar, error) {
	if len(record) < 6 {
		return domain.Bar{}, fmt.Errorf("want at least 6 columns, got %d", len(record))
	}
	openTime, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("bad open time %q: %w", record[0], err)
	}
	prices := make([]decimal.Decimal, 5)
	for i, name := range []string{"open", "high", "low", "close", "volume"} {
		d, err := decimal.NewFromString(strings.TrimSpace(record[i+1]))
		if err != nil {
			return domain.Bar{}, fmt.Errorf("bad %s %q: %w", name, record[i+1], err)
		}
		prices[i] = d
	}
	bar := domain.Bar{
		Symbol:   symbol,
		OpenTime: openTime,
		Open:     prices[0],
		High:     prices[1],
		Low:      prices[2],
		Close:    prices[3],
		Volume:   prices[4],
	}
	if len(record) >= 7 {
		closeTime, err := strconv.ParseInt(record[6], 10, 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("bad close time %q: %w", record[6], err)
		}
		bar.CloseTime = closeTime
	}
	return bar, nil
}

// fillCloseTimes derives missing close times from the bar spacing.
func fillCloseTimes(bars []domain.Bar) {
	interval := int64(60_000)
	if len(bars) >= 2 && bars[1].OpenTime > bars[0].OpenTime {
		interval = bars[1].OpenTime - bars[0].OpenTime
	}
	for i := range bars {
		if bars[i].CloseTime == 0 {
			bars[i].CloseTime = bars[i].OpenTime + interval
		}
	}
}

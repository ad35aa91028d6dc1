package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// ResultStore implements storage.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *Pool
}

// NewResultStore creates a new ResultStore.
func NewResultStore(pool *Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ResultStore = (*ResultStore)(nil)

const resultColumns = `
	run_id, name, symbol, strategy_ref, created_at,
	first_bar_time, last_bar_time, bar_count,
	initial_capital, final_equity, total_return_pct, fees_paid,
	total_trades, wins, losses, win_rate,
	profit_factor, sharpe_ratio, max_drawdown_pct, volatility_pct
`

// Put persists a result. Returns ErrDuplicateKey if run_id exists.
func (s *ResultStore) Put(ctx context.Context, r *domain.BacktestResult) error {
	query := `
		INSERT INTO backtest_results (` + resultColumns + `) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20
		)
	`

	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.Name, r.Symbol, r.StrategyRef, r.CreatedAt,
		r.FirstBarTime, r.LastBarTime, r.BarCount,
		r.InitialCapital.String(), r.FinalEquity.String(), r.TotalReturnPct.String(), r.FeesPaid.String(),
		r.TotalTrades, r.Wins, r.Losses, r.WinRate,
		r.ProfitFactor, r.SharpeRatio, r.MaxDrawdownPct, r.VolatilityPct,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backtest result: %w", err)
	}
	return nil
}

// Get retrieves a result by run id. Returns ErrNotFound if not exists.
func (s *ResultStore) Get(ctx context.Context, runID string) (*domain.BacktestResult, error) {
	query := `SELECT ` + resultColumns + ` FROM backtest_results WHERE run_id = $1`

	row := s.pool.QueryRow(ctx, query, runID)
	r, err := scanResult(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backtest result by run id: %w", err)
	}
	return r, nil
}

// List retrieves all results ordered by created_at ASC, run_id ASC.
func (s *ResultStore) List(ctx context.Context) ([]*domain.BacktestResult, error) {
	query := `SELECT ` + resultColumns + ` FROM backtest_results ORDER BY created_at ASC, run_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list backtest results: %w", err)
	}
	defer rows.Close()

	var results []*domain.BacktestResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backtest result row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backtest result rows: %w", err)
	}

	return results, nil
}

// scanResult scans a single row into a BacktestResult.
func scanResult(row pgx.Row) (*domain.BacktestResult, error) {
	var r domain.BacktestResult
	var initialCap, finalEquity, totalReturn, feesPaid string

	err := row.Scan(
		&r.RunID, &r.Name, &r.Symbol, &r.StrategyRef, &r.CreatedAt,
		&r.FirstBarTime, &r.LastBarTime, &r.BarCount,
		&initialCap, &finalEquity, &totalReturn, &feesPaid,
		&r.TotalTrades, &r.Wins, &r.Losses, &r.WinRate,
		&r.ProfitFactor, &r.SharpeRatio, &r.MaxDrawdownPct, &r.VolatilityPct,
	)
	if err != nil {
		return nil, err
	}

	if r.InitialCapital, err = parseDec(initialCap); err != nil {
		return nil, err
	}
	if r.FinalEquity, err = parseDec(finalEquity); err != nil {
		return nil, err
	}
	if r.TotalReturnPct, err = parseDec(totalReturn); err != nil {
		return nil, err
	}
	if r.FeesPaid, err = parseDec(feesPaid); err != nil {
		return nil, err
	}

	return &r, nil
}

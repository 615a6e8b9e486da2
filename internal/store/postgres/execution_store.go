package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
// Money columns are NUMERIC and travel as text so no precision is lost.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, condition_id, market_id, question, token_yes, token_no, neg_risk,
	requested_shares::text, price_yes::text, price_no::text, limit_yes::text, limit_no::text,
	spread::text, expected_profit::text, outcome, open_side, open_size::text, states,
	yes_fill, no_fill, unwind_token_id, unwind_size::text, unwind_attempts, unwind_order_id,
	settlement, settlement_tx, started_at, completed_at`

// Save inserts rec, or replaces the stored row with the same id.
func (s *ExecutionStore) Save(ctx context.Context, rec domain.ExecutionRecord) error {
	args, err := executionArgs(rec)
	if err != nil {
		return fmt.Errorf("postgres: save execution %s: %w", rec.ID, err)
	}

	const query = `
		INSERT INTO executions (id, condition_id, market_id, question, token_yes, token_no, neg_risk,
			requested_shares, price_yes, price_no, limit_yes, limit_no, spread, expected_profit,
			outcome, open_side, open_size, final_state, states, yes_fill, no_fill,
			unwind_token_id, unwind_size, unwind_attempts, unwind_order_id,
			settlement, settlement_tx, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13::numeric, $14::numeric,
			$15, $16, $17::numeric, $18, $19, $20, $21,
			$22, $23::numeric, $24, $25,
			$26, $27, $28, $29)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			open_side = EXCLUDED.open_side,
			open_size = EXCLUDED.open_size,
			final_state = EXCLUDED.final_state,
			states = EXCLUDED.states,
			yes_fill = EXCLUDED.yes_fill,
			no_fill = EXCLUDED.no_fill,
			unwind_token_id = EXCLUDED.unwind_token_id,
			unwind_size = EXCLUDED.unwind_size,
			unwind_attempts = EXCLUDED.unwind_attempts,
			unwind_order_id = EXCLUDED.unwind_order_id,
			settlement = EXCLUDED.settlement,
			settlement_tx = EXCLUDED.settlement_tx,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: save execution %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateSettlement records the merge outcome for an execution.
func (s *ExecutionStore) UpdateSettlement(ctx context.Context, id string, status domain.SettlementStatus, txHash string) error {
	const query = `
		UPDATE executions SET settlement = $2, settlement_tx = $3, updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), txHash)
	if err != nil {
		return fmt.Errorf("postgres: update settlement %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one execution, or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns the latest executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, `SELECT `+executionColumns+` FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
}

// ListOpenRisk returns executions whose unwind was exhausted: positions that
// still carry directional exposure.
func (s *ExecutionStore) ListOpenRisk(ctx context.Context) ([]domain.ExecutionRecord, error) {
	return s.list(ctx, `SELECT `+executionColumns+` FROM executions WHERE final_state = $1 ORDER BY started_at`,
		string(domain.StateUnwindFailedFatal))
}

func (s *ExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return out, nil
}

// executionArgs flattens rec into the INSERT parameter order.
func executionArgs(rec domain.ExecutionRecord) ([]any, error) {
	yesFill, err := json.Marshal(rec.YesFill)
	if err != nil {
		return nil, fmt.Errorf("marshal yes fill: %w", err)
	}
	noFill, err := json.Marshal(rec.NoFill)
	if err != nil {
		return nil, fmt.Errorf("marshal no fill: %w", err)
	}
	states := make([]string, len(rec.States))
	for i, st := range rec.States {
		states[i] = string(st)
	}
	settlement := rec.Settlement
	if settlement == "" {
		settlement = domain.SettlementNone
	}
	var completed *time.Time
	if !rec.CompletedAt.IsZero() {
		completed = &rec.CompletedAt
	}

	return []any{
		rec.ID, rec.ConditionID, rec.MarketID, rec.Question, rec.TokenYes, rec.TokenNo, rec.NegRisk,
		rec.RequestedShares.String(), rec.PriceYes.String(), rec.PriceNo.String(),
		rec.LimitYes.String(), rec.LimitNo.String(), rec.Spread.String(), rec.ExpectedProfit.String(),
		string(rec.Result.Outcome), string(rec.Result.Side), rec.Result.FilledSize.String(),
		string(rec.FinalState()), states, yesFill, noFill,
		rec.UnwindTokenID, rec.UnwindSize.String(), rec.UnwindAttempts, rec.UnwindOrderID,
		string(settlement), rec.SettlementTx, rec.StartedAt, completed,
	}, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var (
		rec                                     domain.ExecutionRecord
		requested, priceYes, priceNo            string
		limitYes, limitNo, spread, profit       string
		outcome, openSide, openSize, unwindSize string
		settlement                              string
		states                                  []string
		yesFill, noFill                         []byte
		completed                               *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.ConditionID, &rec.MarketID, &rec.Question, &rec.TokenYes, &rec.TokenNo, &rec.NegRisk,
		&requested, &priceYes, &priceNo, &limitYes, &limitNo,
		&spread, &profit, &outcome, &openSide, &openSize, &states,
		&yesFill, &noFill, &rec.UnwindTokenID, &unwindSize, &rec.UnwindAttempts, &rec.UnwindOrderID,
		&settlement, &rec.SettlementTx, &rec.StartedAt, &completed,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}

	dec := decimalColumns{}
	rec.RequestedShares = dec.parse("requested_shares", requested)
	rec.PriceYes = dec.parse("price_yes", priceYes)
	rec.PriceNo = dec.parse("price_no", priceNo)
	rec.LimitYes = dec.parse("limit_yes", limitYes)
	rec.LimitNo = dec.parse("limit_no", limitNo)
	rec.Spread = dec.parse("spread", spread)
	rec.ExpectedProfit = dec.parse("expected_profit", profit)
	rec.UnwindSize = dec.parse("unwind_size", unwindSize)
	rec.Result = domain.ExecutionResult{
		Outcome:    domain.ExecutionOutcome(outcome),
		Side:       domain.Leg(openSide),
		FilledSize: dec.parse("open_size", openSize),
	}
	if dec.err != nil {
		return domain.ExecutionRecord{}, dec.err
	}

	rec.States = make([]domain.ExecState, len(states))
	for i, st := range states {
		rec.States[i] = domain.ExecState(st)
	}
	if err := json.Unmarshal(yesFill, &rec.YesFill); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("unmarshal yes fill: %w", err)
	}
	if err := json.Unmarshal(noFill, &rec.NoFill); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("unmarshal no fill: %w", err)
	}
	rec.Settlement = domain.SettlementStatus(settlement)
	if completed != nil {
		rec.CompletedAt = *completed
	}
	return rec, nil
}

// decimalColumns parses NUMERIC text columns, keeping the first failure.
type decimalColumns struct {
	err error
}

func (d *decimalColumns) parse(column, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("column %s: %w", column, err)
	}
	return v
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = errors.New("record not found")

const tradeColumns = `
	t.id, t.contract_id, t.instrument, t.contract_type, t.stake, t.entry_price, t.payout,
	t.exit_price, t.pnl, t.status, t.outcome, t.exit_reason, t.opened_at, t.closed_at,
	COALESCE((SELECT GROUP_CONCAT(strategy_id) FROM trade_strategies s WHERE s.trade_id = t.id), '')`

func scanTrade(rows *sql.Rows) (Trade, error) {
	var (
		t          Trade
		exitPrice  sql.NullFloat64
		pnl        sql.NullFloat64
		outcome    sql.NullString
		exitReason sql.NullString
		closedAt   sql.NullTime
		ids        string
	)
	if err := rows.Scan(&t.ID, &t.ContractID, &t.Instrument, &t.ContractType, &t.Stake, &t.EntryPrice, &t.Payout,
		&exitPrice, &pnl, &t.Status, &outcome, &exitReason, &t.OpenedAt, &closedAt, &ids); err != nil {
		return t, fmt.Errorf("scan trade: %w", err)
	}
	t.ExitPrice = exitPrice.Float64
	t.PnL = pnl.Float64
	t.Outcome = outcome.String
	t.ExitReason = exitReason.String
	if closedAt.Valid {
		ts := closedAt.Time
		t.ClosedAt = &ts
	}
	t.StrategyIDs = splitIDs(ids)
	return t, nil
}

// ListTrades returns the most recent ledger rows, newest first.
func (d *Database) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades t ORDER BY t.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// GetTrade returns one ledger row or ErrNotFound.
func (d *Database) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades t WHERE t.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	t, err := scanTrade(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecentOutcomes returns up to n outcomes of closed trades authored by strategyID, newest first.
func (d *Database) RecentOutcomes(ctx context.Context, strategyID string, n int) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT t.outcome
		FROM trades t JOIN trade_strategies s ON s.trade_id = t.id
		WHERE s.strategy_id = ? AND t.closed_at IS NOT NULL AND t.outcome IS NOT NULL
		ORDER BY t.closed_at DESC, t.id DESC
		LIMIT ?
	`, strategyID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent outcomes: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// Performance returns the counters of every strategy that has settled at least once.
func (d *Database) Performance(ctx context.Context) (map[string]StrategyPerformance, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT strategy_id, wins, losses, draws, updated_at FROM strategy_performance`)
	if err != nil {
		return nil, fmt.Errorf("query performance: %w", err)
	}
	defer rows.Close()

	res := make(map[string]StrategyPerformance)
	for rows.Next() {
		var p StrategyPerformance
		if err := rows.Scan(&p.StrategyID, &p.Wins, &p.Losses, &p.Draws, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		res[p.StrategyID] = p
	}
	return res, rows.Err()
}

// ListPositions returns the persisted open set.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT contract_id, instrument, contract_type, buy_price, payout, strategy_ids,
		       resale_unavailable, COALESCE(entry_rsi, 0), entry_engulfing, COALESCE(ledger_id, 0), adopted, opened_at
		FROM positions ORDER BY opened_at, contract_id`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var (
			p   Position
			ids string
		)
		if err := rows.Scan(&p.ContractID, &p.Instrument, &p.ContractType, &p.BuyPrice, &p.Payout, &ids,
			&p.ResaleUnavailable, &p.EntryRSI, &p.EntryEngulfing, &p.LedgerID, &p.Adopted, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.StrategyIDs = splitIDs(ids)
		res = append(res, p)
	}
	return res, rows.Err()
}

// ListStrategyInstances returns every configured strategy row.
func (d *Database) ListStrategyInstances(ctx context.Context) ([]StrategyInstance, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, strategy_type, parameters, confidence, is_active, created_at, updated_at
		FROM strategy_instances ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query strategy instances: %w", err)
	}
	defer rows.Close()

	var res []StrategyInstance
	for rows.Next() {
		var s StrategyInstance
		if err := rows.Scan(&s.ID, &s.Name, &s.StrategyType, &s.Parameters, &s.Confidence, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy instance: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListConfidenceLog returns the most recent audit rows, newest first.
func (d *Database) ListConfidenceLog(ctx context.Context, limit int) ([]ConfidenceChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, strategy_id, old_confidence, new_confidence, old_active, new_active, COALESCE(win_rate, 0), reason, created_at
		FROM confidence_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query confidence log: %w", err)
	}
	defer rows.Close()

	var res []ConfidenceChange
	for rows.Next() {
		var c ConfidenceChange
		if err := rows.Scan(&c.ID, &c.StrategyID, &c.OldConfidence, &c.NewConfidence, &c.OldActive, &c.NewActive,
			&c.WinRate, &c.Reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan confidence log: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListEvents returns the most recent journal rows, newest first. An empty topic matches all.
func (d *Database) ListEvents(ctx context.Context, topic string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, topic, payload, created_at FROM events
		WHERE (? = '' OR topic = ?)
		ORDER BY created_at DESC LIMIT ?`, topic, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// StrategyWindow aggregates the trades one strategy closed inside a reporting window.
type StrategyWindow struct {
	StrategyID string  `json:"strategy_id"`
	Trades     int     `json:"trades"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Draws      int     `json:"draws"`
	PnL        float64 `json:"pnl"`
}

// StrategyWindows aggregates closed trades per strategy since the given time.
func (d *Database) StrategyWindows(ctx context.Context, since time.Time) ([]StrategyWindow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT s.strategy_id,
		       COUNT(*),
		       SUM(CASE WHEN t.outcome = 'win' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN t.outcome = 'loss' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN t.outcome = 'draw' THEN 1 ELSE 0 END),
		       COALESCE(SUM(t.pnl), 0)
		FROM trades t JOIN trade_strategies s ON s.trade_id = t.id
		WHERE t.closed_at IS NOT NULL AND t.closed_at >= ?
		GROUP BY s.strategy_id
		ORDER BY s.strategy_id`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query strategy windows: %w", err)
	}
	defer rows.Close()

	var res []StrategyWindow
	for rows.Next() {
		var w StrategyWindow
		if err := rows.Scan(&w.StrategyID, &w.Trades, &w.Wins, &w.Losses, &w.Draws, &w.PnL); err != nil {
			return nil, fmt.Errorf("scan strategy window: %w", err)
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Settlement outcomes.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeDraw = "draw"
)

// Trade is one ledger row: created at buy, completed at settlement.
type Trade struct {
	ID           int64      `json:"id"`
	ContractID   int64      `json:"contract_id"`
	Instrument   string     `json:"instrument"`
	ContractType string     `json:"contract_type"`
	StrategyIDs  []string   `json:"strategy_ids"`
	Stake        float64    `json:"stake"`
	EntryPrice   float64    `json:"entry_price"`
	Payout       float64    `json:"payout"`
	ExitPrice    float64    `json:"exit_price"`
	PnL          float64    `json:"pnl"`
	Status       string     `json:"status"`
	Outcome      string     `json:"outcome,omitempty"`
	ExitReason   string     `json:"exit_reason,omitempty"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// Settlement completes a ledger row.
type Settlement struct {
	ExitPrice  float64
	PnL        float64
	Status     string
	Outcome    string
	ExitReason string
	ClosedAt   time.Time
}

// StrategyPerformance holds cumulative settlement counters for one strategy.
type StrategyPerformance struct {
	StrategyID string    `json:"strategy_id"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	Draws      int       `json:"draws"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Total counts every settled trade.
func (p StrategyPerformance) Total() int { return p.Wins + p.Losses + p.Draws }

// WinRate is wins over total in percent; 0 when nothing has settled.
func (p StrategyPerformance) WinRate() float64 {
	if p.Total() == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.Total()) * 100
}

// ConfidenceChange is one confidence_log row.
type ConfidenceChange struct {
	ID            int64     `json:"id"`
	StrategyID    string    `json:"strategy_id"`
	OldConfidence float64   `json:"old_confidence"`
	NewConfidence float64   `json:"new_confidence"`
	OldActive     bool      `json:"old_active"`
	NewActive     bool      `json:"new_active"`
	WinRate       float64   `json:"win_rate"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// Position is the persisted form of an open contract.
type Position struct {
	ContractID        int64
	Instrument        string
	ContractType      string
	BuyPrice          float64
	Payout            float64
	StrategyIDs       []string
	ResaleUnavailable bool
	EntryRSI          float64
	EntryEngulfing    int
	LedgerID          int64
	Adopted           bool
	OpenedAt          time.Time
}

// StrategyInstance represents a configured strategy row.
type StrategyInstance struct {
	ID           string
	Name         string
	StrategyType string
	Parameters   string
	Confidence   sql.NullFloat64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Event is one journal row.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateTrade inserts an open ledger row and its strategy links, returning the row id.
func (d *Database) CreateTrade(ctx context.Context, t Trade) (int64, error) {
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now()
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO trades (contract_id, instrument, contract_type, stake, entry_price, payout, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, 'open', ?)
	`, t.ContractID, t.Instrument, t.ContractType, t.Stake, t.EntryPrice, t.Payout, t.OpenedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("trade id: %w", err)
	}
	for _, sid := range t.StrategyIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO trade_strategies (trade_id, strategy_id) VALUES (?, ?)`, id, sid); err != nil {
			return 0, fmt.Errorf("link strategy %s: %w", sid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit trade: %w", err)
	}
	return id, nil
}

// CloseTrade records the settlement of a ledger row.
func (d *Database) CloseTrade(ctx context.Context, id int64, s Settlement) error {
	if s.ClosedAt.IsZero() {
		s.ClosedAt = time.Now()
	}
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET exit_price = ?, pnl = ?, status = ?, outcome = ?, exit_reason = ?, closed_at = ?
		WHERE id = ?
	`, s.ExitPrice, s.PnL, s.Status, s.Outcome, s.ExitReason, s.ClosedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("update trade %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update trade %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecordOutcome increments the counter matching outcome for every strategy id.
func (d *Database) RecordOutcome(ctx context.Context, strategyIDs []string, outcome string) error {
	var column string
	switch outcome {
	case OutcomeWin:
		column = "wins"
	case OutcomeLoss:
		column = "losses"
	case OutcomeDraw:
		column = "draws"
	default:
		return fmt.Errorf("unknown outcome %q", outcome)
	}
	stmt := fmt.Sprintf(`
		INSERT INTO strategy_performance (strategy_id, %[1]s, updated_at) VALUES (?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_id) DO UPDATE SET %[1]s = %[1]s + 1, updated_at = CURRENT_TIMESTAMP
	`, column)
	for _, sid := range strategyIDs {
		if _, err := d.DB.ExecContext(ctx, stmt, sid); err != nil {
			return fmt.Errorf("record %s for %s: %w", outcome, sid, err)
		}
	}
	return nil
}

// LogConfidenceChange appends an audit row.
func (d *Database) LogConfidenceChange(ctx context.Context, c ConfidenceChange) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO confidence_log (strategy_id, old_confidence, new_confidence, old_active, new_active, win_rate, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.StrategyID, c.OldConfidence, c.NewConfidence, c.OldActive, c.NewActive, c.WinRate, c.Reason, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert confidence log: %w", err)
	}
	return nil
}

// ReplacePositions swaps the persisted open set for positions in one transaction.
func (d *Database) ReplacePositions(ctx context.Context, positions []Position) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (
			contract_id, instrument, contract_type, buy_price, payout, strategy_ids,
			resale_unavailable, entry_rsi, entry_engulfing, ledger_id, adopted, opened_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("prepare position insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		var ledger any
		if p.LedgerID > 0 {
			ledger = p.LedgerID
		}
		if _, err := stmt.ExecContext(ctx,
			p.ContractID, p.Instrument, p.ContractType, p.BuyPrice, p.Payout, strings.Join(p.StrategyIDs, ","),
			p.ResaleUnavailable, p.EntryRSI, p.EntryEngulfing, ledger, p.Adopted, p.OpenedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert position %d: %w", p.ContractID, err)
		}
	}
	return tx.Commit()
}

// UpdateStrategyState persists confidence and the active flag for a strategy instance.
func (d *Database) UpdateStrategyState(ctx context.Context, id string, confidence float64, active bool) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE strategy_instances
		SET confidence = ?, is_active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, confidence, active, id)
	if err != nil {
		return fmt.Errorf("update strategy %s: %w", id, err)
	}
	return nil
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// InsertEvents appends journal rows in one transaction. Duplicate ids are ignored.
func (d *Database) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO events (id, topic, payload, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Topic, e.Payload, e.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

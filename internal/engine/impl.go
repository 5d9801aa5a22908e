package engine

import (
	"context"
	"fmt"
	"time"

	"trading-loop/internal/monitor"
	"trading-loop/internal/report"
	"trading-loop/internal/strategy"
	"trading-loop/internal/tuner"
	"trading-loop/pkg/db"
)

// Impl implements the Service interface by composing the bot and the ledger.
type Impl struct {
	bot   *Bot
	db    *db.Database
	tuner *tuner.Tuner

	// System metadata
	meta SystemStatus
}

// NewImpl creates a new engine implementation. tn may be nil, in which case operator
// toggles are applied without an audit row.
func NewImpl(bot *Bot, database *db.Database, tn *tuner.Tuner, meta SystemStatus) *Impl {
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now().UTC()
	}
	return &Impl{bot: bot, db: database, tuner: tn, meta: meta}
}

// --- Lifecycle ---

func (e *Impl) Start(ctx context.Context) error { return e.bot.Start(ctx) }

func (e *Impl) Stop() error { return e.bot.Stop() }

func (e *Impl) EmergencyStop(ctx context.Context) (*monitor.Report, error) {
	return e.bot.EmergencyStop(ctx)
}

func (e *Impl) Status() Status { return e.bot.Status() }

// --- Strategies ---

func (e *Impl) ListStrategies(ctx context.Context) ([]StrategyInfo, error) {
	perf, err := e.db.Performance(ctx)
	if err != nil {
		return nil, err
	}
	entries := e.bot.Registry.Entries()
	out := make([]StrategyInfo, 0, len(entries))
	for _, en := range entries {
		out = append(out, strategyInfo(en, perf[en.ID]))
	}
	return out, nil
}

// SetStrategyActive toggles a strategy from the control surface. Activating a strategy the
// tuner had zeroed restores the recovery confidence.
func (e *Impl) SetStrategyActive(ctx context.Context, id string, active bool) (*StrategyInfo, error) {
	cur, ok := e.bot.Registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", strategy.ErrUnknownStrategy, id)
	}
	confidence := cur.Confidence
	if active && confidence == 0 {
		confidence = tuner.RecoveryConfidence
	}

	if e.tuner != nil {
		if _, err := e.tuner.Apply(ctx, e.bot.Registry, id, confidence, active, 0, tuner.ReasonOperatorSet); err != nil {
			return nil, err
		}
	} else {
		if _, err := e.bot.Registry.SetState(id, confidence, active); err != nil {
			return nil, err
		}
		if err := e.db.UpdateStrategyState(ctx, id, confidence, active); err != nil {
			return nil, err
		}
	}

	perf, err := e.db.Performance(ctx)
	if err != nil {
		return nil, err
	}
	updated, _ := e.bot.Registry.Get(id)
	info := strategyInfo(updated, perf[id])
	return &info, nil
}

func (e *Impl) ConfidenceLog(ctx context.Context, limit int) ([]db.ConfidenceChange, error) {
	return e.db.ListConfidenceLog(ctx, limit)
}

// --- Positions and ledger ---

func (e *Impl) GetPositions(ctx context.Context) ([]Position, error) {
	open := e.bot.Book.Positions()
	positions := make([]Position, len(open))
	for i, p := range open {
		status := p.Status
		if status == "" {
			status = "open"
		}
		positions[i] = Position{
			ContractID:        p.ContractID,
			Instrument:        p.Instrument,
			ContractType:      p.ContractType,
			EntryPrice:        p.BuyPrice,
			Payout:            p.Payout,
			CurrentPnL:        p.CurrentPnL,
			ProfitPercentage:  p.ProfitPercentage,
			Status:            status,
			StrategyIDs:       p.StrategyIDs,
			ResaleUnavailable: p.ResaleUnavailable,
			Adopted:           p.Adopted,
			OpenedAt:          p.OpenedAt,
		}
	}
	return positions, nil
}

func (e *Impl) ListTrades(ctx context.Context, limit int) ([]db.Trade, error) {
	return e.db.ListTrades(ctx, limit)
}

func (e *Impl) ListEvents(ctx context.Context, topic string, limit int) ([]db.Event, error) {
	return e.db.ListEvents(ctx, topic, limit)
}

func (e *Impl) Report(ctx context.Context, since time.Time) (*report.Report, error) {
	return report.Generate(ctx, e.db, since)
}

// --- Runtime ---

func (e *Impl) GetBalance(ctx context.Context) (*BalanceInfo, error) {
	if e.bot.Balance == nil {
		return nil, fmt.Errorf("balance manager not available")
	}
	bal := e.bot.Balance.Get()
	return &BalanceInfo{Amount: bal.Amount, Currency: bal.Currency, SyncedAt: bal.SyncedAt}, nil
}

func (e *Impl) Metrics() monitor.MetricsSnapshot {
	if e.bot.Metrics == nil {
		return monitor.MetricsSnapshot{Timestamp: time.Now()}
	}
	return e.bot.Metrics.GetSnapshot()
}

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.Strategies = e.bot.Registry.Len()
	status.ServerTime = time.Now().UTC()
	return &status
}

// --- Helpers ---

func strategyInfo(en strategy.Entry, p db.StrategyPerformance) StrategyInfo {
	return StrategyInfo{
		ID:         en.ID,
		Name:       en.Name,
		Type:       en.Type,
		Confidence: en.Confidence,
		IsActive:   en.Active,
		Affinity:   en.Affinity,
		Direction:  en.Direction,
		Parameters: en.Params,
		Wins:       p.Wins,
		Losses:     p.Losses,
		Draws:      p.Draws,
		WinRate:    p.WinRate(),
	}
}

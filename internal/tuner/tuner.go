// Package tuner re-weights strategy confidence from settled trade performance.
package tuner

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/events"
	"trading-loop/internal/strategy"
	"trading-loop/pkg/db"
)

// Recovery rule: an inactive strategy whose last RecoveryWins closed trades all won comes
// back at RecoveryConfidence.
const (
	RecoveryWins       = 3
	RecoveryConfidence = 0.5
)

// Reasons recorded in the confidence log.
const (
	ReasonWinRate     = "win_rate"
	ReasonUnderperf   = "underperforming"
	ReasonRecovery    = "recovery"
	ReasonOperatorSet = "operator"
)

// Config bounds the tuner.
type Config struct {
	MinTrades        int
	WinRateThreshold float64 // percent
}

// Change is one applied confidence or activation update.
type Change struct {
	StrategyID    string    `json:"strategy_id"`
	OldConfidence float64   `json:"old_confidence"`
	NewConfidence float64   `json:"new_confidence"`
	OldActive     bool      `json:"old_active"`
	NewActive     bool      `json:"new_active"`
	WinRate       float64   `json:"win_rate"`
	Reason        string    `json:"reason"`
	At            time.Time `json:"at"`
}

// Tuner applies the confidence rules against the ledger.
type Tuner struct {
	DB     *db.Database
	Bus    *events.Bus
	Config Config
	now    func() time.Time
}

// New builds a tuner.
func New(database *db.Database, bus *events.Bus, cfg Config) *Tuner {
	return &Tuner{DB: database, Bus: bus, Config: cfg, now: time.Now}
}

// ScaledConfidence maps a win rate in percent onto [0.1, 1].
func ScaledConfidence(winRate float64) float64 {
	return math.Max(0.1, math.Min(1.0, 0.5+(winRate/100)*0.5))
}

// Tune evaluates every registered strategy once and returns the changes it applied.
// Strategies with fewer than MinTrades settlements are left as they are.
func (t *Tuner) Tune(ctx context.Context, registry *strategy.Registry) ([]Change, error) {
	perf, err := t.DB.Performance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load performance: %w", err)
	}

	var changes []Change
	for _, e := range registry.Entries() {
		p, ok := perf[e.ID]
		if !ok || p.Total() < t.Config.MinTrades || p.Total() == 0 {
			continue
		}
		winRate := p.WinRate()
		confidence, active, reason, err := t.decide(ctx, e, winRate)
		if err != nil {
			log.WithError(err).WithField("strategy_id", e.ID).Warn("⚠️ Skipping confidence update")
			continue
		}
		if confidence == e.Confidence && active == e.Active {
			continue
		}

		c, err := t.Apply(ctx, registry, e.ID, confidence, active, winRate, reason)
		if err != nil {
			return changes, err
		}
		changes = append(changes, *c)
	}
	return changes, nil
}

func (t *Tuner) decide(ctx context.Context, e strategy.Entry, winRate float64) (float64, bool, string, error) {
	if winRate >= t.Config.WinRateThreshold {
		return ScaledConfidence(winRate), true, ReasonWinRate, nil
	}
	if e.Active {
		return 0, false, ReasonUnderperf, nil
	}
	recent, err := t.DB.RecentOutcomes(ctx, e.ID, RecoveryWins)
	if err != nil {
		return 0, false, "", err
	}
	if len(recent) == RecoveryWins && allWins(recent) {
		return RecoveryConfidence, true, ReasonRecovery, nil
	}
	return 0, false, ReasonUnderperf, nil
}

// Apply sets one strategy's state in the registry, persists it, audits it and publishes
// strategy.confidence. Operator toggles use it with ReasonOperatorSet.
func (t *Tuner) Apply(ctx context.Context, registry *strategy.Registry, id string, confidence float64, active bool, winRate float64, reason string) (*Change, error) {
	prev, err := registry.SetState(id, confidence, active)
	if err != nil {
		return nil, err
	}
	cur, _ := registry.Get(id)
	c := &Change{
		StrategyID:    id,
		OldConfidence: prev.Confidence,
		NewConfidence: cur.Confidence,
		OldActive:     prev.Active,
		NewActive:     cur.Active,
		WinRate:       winRate,
		Reason:        reason,
		At:            t.now(),
	}

	logger := log.WithFields(log.Fields{
		"strategy_id": id,
		"confidence":  fmt.Sprintf("%.2f→%.2f", c.OldConfidence, c.NewConfidence),
		"active":      c.NewActive,
		"win_rate":    fmt.Sprintf("%.1f%%", winRate),
		"reason":      reason,
	})
	if err := t.DB.UpdateStrategyState(ctx, id, c.NewConfidence, c.NewActive); err != nil {
		logger.WithError(err).Error("❌ Failed to persist strategy state")
	}
	if err := t.DB.LogConfidenceChange(ctx, db.ConfidenceChange{
		StrategyID:    id,
		OldConfidence: c.OldConfidence,
		NewConfidence: c.NewConfidence,
		OldActive:     c.OldActive,
		NewActive:     c.NewActive,
		WinRate:       winRate,
		Reason:        reason,
		CreatedAt:     c.At,
	}); err != nil {
		logger.WithError(err).Error("❌ Failed to append confidence log")
	}

	switch {
	case !c.NewActive && c.OldActive:
		logger.Warn("⚠️ Strategy deactivated")
	case reason == ReasonRecovery:
		logger.Info("✅ Strategy reactivated after recovery")
	default:
		logger.Info("🔄 Strategy confidence adjusted")
	}
	t.Bus.Publish(events.EventConfidence, *c)
	return c, nil
}

func allWins(outcomes []string) bool {
	for _, o := range outcomes {
		if o != db.OutcomeWin {
			return false
		}
	}
	return true
}

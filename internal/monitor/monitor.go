// Package monitor supervises open contracts each cycle: it settles finished contracts,
// applies protective exits and records venue call metrics.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/balance"
	"trading-loop/internal/events"
	"trading-loop/internal/indicators"
	"trading-loop/internal/retry"
	"trading-loop/internal/risk"
	"trading-loop/internal/state"
	"trading-loop/pkg/cache"
	"trading-loop/pkg/db"
	"trading-loop/pkg/venue"
)

// Settlement statuses beyond the venue's own won/lost/sold.
const (
	StatusNotFound = "not_found"
)

// Settlement is a contract that left the book this pass.
type Settlement struct {
	ContractID   int64     `json:"contract_id"`
	Instrument   string    `json:"instrument"`
	ContractType string    `json:"contract_type"`
	StrategyIDs  []string  `json:"strategy_ids"`
	BuyPrice     float64   `json:"buy_price"`
	ExitPrice    float64   `json:"exit_price"`
	PnL          float64   `json:"pnl"`
	Status       string    `json:"status"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	ClosedAt     time.Time `json:"closed_at"`
}

// Report summarises one monitor pass.
type Report struct {
	Checked     int          `json:"checked"`
	Open        int          `json:"open"`
	Failed      int          `json:"failed"`
	Held        int          `json:"held"` // exits blocked because resale is unavailable
	Settlements []Settlement `json:"settlements,omitempty"`
}

// ContractMonitor runs the per-contract state machine.
type ContractMonitor struct {
	Client        venue.Client
	Caller        *retry.Caller
	DB            *db.Database
	Bus           *events.Bus
	Features      *cache.Sharded[*indicators.Features]
	Balance       *balance.Manager
	Metrics       *CallMetrics
	CandleCount   int
	Granularity   int
	FeatureMaxAge time.Duration

	now func() time.Time
}

// NewContractMonitor wires a monitor; optional collaborators may be set on the struct.
func NewContractMonitor(client venue.Client, caller *retry.Caller, database *db.Database, bus *events.Bus) *ContractMonitor {
	return &ContractMonitor{
		Client:        client,
		Caller:        caller,
		DB:            database,
		Bus:           bus,
		CandleCount:   200,
		Granularity:   86400,
		FeatureMaxAge: 10 * time.Minute,
		now:           time.Now,
	}
}

type verdict struct {
	keep    *state.OpenPosition
	settled *Settlement
	failed  bool
	held    bool
}

// Run checks every position once and replaces the book with the survivors.
func (m *ContractMonitor) Run(ctx context.Context, book *state.Book, params risk.TradingParameters) *Report {
	positions := book.Positions()
	report := &Report{Checked: len(positions)}
	remaining := make([]state.OpenPosition, 0, len(positions))

	for _, p := range positions {
		v := m.checkSafe(ctx, p, params)
		if v.failed {
			report.Failed++
		}
		if v.held {
			report.Held++
		}
		if v.settled != nil {
			report.Settlements = append(report.Settlements, *v.settled)
			continue
		}
		remaining = append(remaining, *v.keep)
	}
	report.Open = len(remaining)

	if err := book.Replace(ctx, remaining); err != nil {
		log.WithError(err).Warn("⚠️ Book persisted with errors after monitor pass")
	}
	if n := len(report.Settlements); n > 0 && m.Metrics != nil {
		m.Metrics.AddClosed(n)
	}
	return report
}

// checkSafe isolates one position: a panic keeps the position unchanged.
func (m *ContractMonitor) checkSafe(ctx context.Context, p state.OpenPosition, params risk.TradingParameters) (v verdict) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"contract_id": p.ContractID, "panic": fmt.Sprint(r)}).
				Error("❌ Contract check panicked")
			v = verdict{keep: &p, failed: true}
		}
	}()
	return m.check(ctx, p, params)
}

func (m *ContractMonitor) check(ctx context.Context, p state.OpenPosition, params risk.TradingParameters) verdict {
	logger := log.WithFields(log.Fields{"contract_id": p.ContractID, "instrument": p.Instrument})

	detail, err := retry.Do(ctx, m.Caller, "proposal_open_contract", func(ctx context.Context) (*venue.ContractDetail, error) {
		return m.Client.ContractDetail(ctx, p.ContractID)
	})
	if err != nil {
		if errors.Is(err, venue.ErrContractNotFound) {
			logger.WithField("settled_value", p.SettledValue).
				Warn("⚠️ Contract no longer found on venue, settling from confirmed value")
			return verdict{settled: m.settle(ctx, p, p.SettledValue, StatusNotFound, "not_found")}
		}
		logger.WithError(err).Warn("⚠️ Contract detail unavailable, keeping position")
		return verdict{keep: &p, failed: true}
	}

	if detail.Closed() {
		status := detail.Status
		if status == "" || status == "open" {
			status = "settled"
		}
		reason := "expired"
		if detail.IsSold && !detail.IsExpired {
			reason = "sold"
			m.refreshBalance(ctx)
		}
		return verdict{settled: m.settle(ctx, p, detail.FinalValue(), status, reason)}
	}

	p.ProfitPercentage = detail.ProfitPercentage
	p.CurrentPnL = detail.Profit
	if detail.BidPrice > 0 {
		p.LastBidPrice = detail.BidPrice
	}
	if detail.SellPrice > 0 {
		p.SettledValue = detail.SellPrice
	}
	p.LastRSI, p.LastEngulfing = m.indicators(ctx, p)

	exit := risk.CheckExit(risk.ExitSnapshot{
		Rise:             p.Rise(),
		ProfitPercentage: p.ProfitPercentage,
		RSI:              p.LastRSI,
		Engulfing:        p.LastEngulfing,
	}, params)
	if exit == risk.ExitNone {
		return verdict{keep: &p}
	}

	exitLog := logger.WithFields(log.Fields{"reason": exit, "profit_pct": p.ProfitPercentage, "rsi": p.LastRSI})
	m.Bus.Publish(events.EventExitSignal, map[string]any{"contract_id": p.ContractID, "reason": exit})
	if p.ResaleUnavailable {
		exitLog.Debug("Exit signal ignored: resale unavailable")
		return verdict{keep: &p, held: true}
	}
	if !detail.IsValidToSell {
		p.ResaleUnavailable = true
		exitLog.WithField("validation", detail.ValidationError).Warn("⚠️ Resale not offered, holding to expiry")
		return verdict{keep: &p, held: true}
	}

	exitLog.Info("🔄 Exit triggered, selling contract")
	receipt, err := retry.Do(context.WithoutCancel(ctx), m.Caller, "sell", func(ctx context.Context) (*venue.SellReceipt, error) {
		return m.Client.Sell(ctx, p.ContractID, 0)
	})
	if err != nil {
		if errors.Is(err, venue.ErrResaleNotOffered) {
			p.ResaleUnavailable = true
			exitLog.Warn("⚠️ Resale rejected by venue, holding to expiry")
			return verdict{keep: &p, held: true}
		}
		exitLog.WithError(err).Error("❌ Sell failed, will retry next pass")
		return verdict{keep: &p, failed: true}
	}
	m.refreshBalance(ctx)
	return verdict{settled: m.settle(ctx, p, receipt.SoldFor, "sold", string(exit))}
}

// indicators returns the latest RSI and engulfing flag: cached features first, then a fresh
// candle fetch, then the last known values.
func (m *ContractMonitor) indicators(ctx context.Context, p state.OpenPosition) (float64, int) {
	if m.Features != nil {
		if f, ok := m.Features.GetFresh(p.Instrument, m.FeatureMaxAge); ok && f.Len() > 0 {
			last := f.Last()
			return last.RSI, last.Engulfing
		}
	}
	candles, err := retry.Do(ctx, m.Caller, "ticks_history", func(ctx context.Context) ([]venue.Candle, error) {
		return m.Client.HistoricalCandles(ctx, p.Instrument, m.CandleCount, m.Granularity)
	})
	if err != nil || len(candles) == 0 {
		return p.LastRSI, p.LastEngulfing
	}
	f := indicators.Compute(candles)
	if m.Features != nil {
		m.Features.Set(p.Instrument, f)
	}
	last := f.Last()
	return last.RSI, last.Engulfing
}

// settle records the final result of a contract that leaves the book.
func (m *ContractMonitor) settle(ctx context.Context, p state.OpenPosition, exitPrice float64, status, reason string) *Settlement {
	pnl := risk.RoundMoney(exitPrice - p.BuyPrice)
	outcome := db.OutcomeDraw
	switch {
	case pnl > 0:
		outcome = db.OutcomeWin
	case pnl < 0:
		outcome = db.OutcomeLoss
	}
	s := &Settlement{
		ContractID:   p.ContractID,
		Instrument:   p.Instrument,
		ContractType: p.ContractType,
		StrategyIDs:  p.StrategyIDs,
		BuyPrice:     p.BuyPrice,
		ExitPrice:    exitPrice,
		PnL:          pnl,
		Status:       status,
		Outcome:      outcome,
		Reason:       reason,
		ClosedAt:     m.now(),
	}

	logger := log.WithFields(log.Fields{
		"contract_id": p.ContractID,
		"instrument":  p.Instrument,
		"pnl":         pnl,
		"outcome":     outcome,
		"reason":      reason,
	})
	if m.DB != nil {
		if p.LedgerID > 0 {
			err := m.DB.CloseTrade(ctx, p.LedgerID, db.Settlement{
				ExitPrice:  exitPrice,
				PnL:        pnl,
				Status:     status,
				Outcome:    outcome,
				ExitReason: reason,
				ClosedAt:   s.ClosedAt,
			})
			if err != nil {
				logger.WithError(err).Error("❌ Failed to update trade ledger")
			}
		}
		if len(p.StrategyIDs) > 0 {
			if err := m.DB.RecordOutcome(ctx, p.StrategyIDs, outcome); err != nil {
				logger.WithError(err).Error("❌ Failed to record strategy performance")
			}
		}
	}
	logger.Info("💰 Contract settled")
	m.Bus.Publish(events.EventTradeClosed, *s)
	return s
}

func (m *ContractMonitor) refreshBalance(ctx context.Context) {
	if m.Balance == nil {
		return
	}
	_, _ = m.Balance.Sync(ctx)
}

// SellAll sells every position whose resale is still available, used by emergency stop.
// Positions that cannot be sold stay in the book.
func (m *ContractMonitor) SellAll(ctx context.Context, book *state.Book) *Report {
	positions := book.Positions()
	report := &Report{Checked: len(positions)}
	remaining := make([]state.OpenPosition, 0, len(positions))

	for _, p := range positions {
		logger := log.WithField("contract_id", p.ContractID)
		if p.ResaleUnavailable {
			report.Held++
			remaining = append(remaining, p)
			continue
		}
		receipt, err := retry.Do(context.WithoutCancel(ctx), m.Caller, "sell", func(ctx context.Context) (*venue.SellReceipt, error) {
			return m.Client.Sell(ctx, p.ContractID, 0)
		})
		if err != nil {
			if errors.Is(err, venue.ErrResaleNotOffered) {
				p.ResaleUnavailable = true
				report.Held++
			} else {
				report.Failed++
			}
			logger.WithError(err).Warn("⚠️ Emergency sell failed")
			remaining = append(remaining, p)
			continue
		}
		report.Settlements = append(report.Settlements, *m.settle(ctx, p, receipt.SoldFor, "sold", "emergency_stop"))
	}
	report.Open = len(remaining)
	if err := book.Replace(ctx, remaining); err != nil {
		log.WithError(err).Warn("⚠️ Book persisted with errors after emergency sell")
	}
	if len(report.Settlements) > 0 {
		m.refreshBalance(ctx)
		if m.Metrics != nil {
			m.Metrics.AddClosed(len(report.Settlements))
		}
	}
	return report
}

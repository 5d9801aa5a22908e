package order

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/events"
	"trading-loop/internal/indicators"
	"trading-loop/internal/retry"
	"trading-loop/internal/risk"
	"trading-loop/internal/state"
	"trading-loop/internal/strategy"
	"trading-loop/pkg/db"
	"trading-loop/pkg/venue"
)

// Gate decides whether a signal becomes trades and places them.
type Gate struct {
	Client venue.Client
	Caller *retry.Caller
	DB     *db.Database // optional trade ledger
	Bus    *events.Bus
	Cache  *TradeCache
	Config Config

	now func() time.Time
}

// NewGate wires a gate with a fresh trade cache.
func NewGate(client venue.Client, caller *retry.Caller, database *db.Database, bus *events.Bus, cfg Config) *Gate {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Gate{
		Client: client,
		Caller: caller,
		DB:     database,
		Bus:    bus,
		Cache:  NewTradeCache(nil),
		Config: cfg,
		now:    time.Now,
	}
}

// ContractType picks CALL or PUT from the fired entries: any long bias wins, then any
// short bias, then a predicted direction, and PUT when nothing expresses a view.
func ContractType(sig strategy.Signal) string {
	var outlook strategy.Outlook
	short := false
	for _, c := range sig.Confirmations {
		switch c.Entry.Direction {
		case strategy.DirectionLong:
			return venue.ContractCall
		case strategy.DirectionShort:
			short = true
		case strategy.DirectionContext:
			if outlook == "" {
				outlook = c.Outlook
			}
		}
	}
	if short {
		return venue.ContractPut
	}
	if outlook == strategy.OutlookUp {
		return venue.ContractCall
	}
	return venue.ContractPut
}

// Execute runs the gate for one signal. Skips are reported in the outcome, not as errors;
// an error means the contract terms could not be determined.
func (g *Gate) Execute(ctx context.Context, sig strategy.Signal, balance float64, params risk.TradingParameters,
	book *state.Book, traded Traded) (*Outcome, error) {
	out := &Outcome{Instrument: sig.Instrument}
	ids := sig.StrategyIDs()
	logger := log.WithFields(log.Fields{"instrument": sig.Instrument, "strategies": ids})

	if len(ids) == 0 {
		return g.skip(out, SkipEmptySignal, logger), nil
	}

	key := TradeKey(sig.Instrument, ids)
	if rec, hot := g.Cache.InCooldown(key, params.CooldownPeriod); hot {
		logger.WithField("last_trade", rec.At).Info("❌ Trade skipped: cooldown active")
		return g.skip(out, SkipCooldown, logger), nil
	}
	if traded[sig.Instrument] {
		logger.Info("❌ Trade skipped: already traded this cycle")
		return g.skip(out, SkipTradedCycle, logger), nil
	}

	remaining := g.Config.MaxOpenPositions - book.Len()
	if remaining <= 0 {
		logger.WithField("max_open", g.Config.MaxOpenPositions).Warn("⚠️ Trade skipped: maximum open positions reached")
		return g.skip(out, SkipCapacity, logger), nil
	}

	stake, lots := risk.LotSize(balance, params.RiskPercentage, remaining)
	if lots == 0 {
		return g.skip(out, SkipNoLots, logger), nil
	}
	out.Stake = stake

	kind := ContractType(sig)
	out.ContractType = kind

	offerings, err := retry.Do(ctx, g.Caller, "contracts_for", func(ctx context.Context) ([]venue.ContractOffering, error) {
		return g.Client.Contracts(ctx, sig.Instrument)
	})
	if err != nil {
		g.skip(out, SkipContractsFail, logger)
		return out, fmt.Errorf("contracts for %s: %w", sig.Instrument, err)
	}
	dur, err := SelectDuration(venue.DurationRanges(offerings, kind))
	if err != nil {
		logger.WithField("contract_type", kind).Warn("❌ Trade skipped: no suitable duration")
		g.skip(out, SkipNoDuration, logger)
		return out, fmt.Errorf("%s %s: %w", sig.Instrument, kind, err)
	}
	out.Duration = dur

	logger.WithFields(log.Fields{
		"contract_type": kind,
		"stake":         stake,
		"lots":          lots,
		"duration":      fmt.Sprintf("%d%s", dur.Value, dur.Unit),
	}).Info("✅ Signal passed the gate, proposing contracts")

	var entry indicators.Snapshot
	if sig.Features != nil && sig.Features.Len() > 0 {
		entry = sig.Features.Last()
	}

	for lot := 0; lot < lots; lot++ {
		if book.Len() >= g.Config.MaxOpenPositions {
			logger.Warn("⚠️ Capacity reached during multi-lot execution")
			break
		}
		pos, err := g.buyLot(ctx, sig, kind, dur, stake, ids)
		if err != nil {
			logger.WithField("lot", lot+1).WithError(err).Warn("❌ Lot failed")
			continue
		}
		pos.EntryRSI, pos.LastRSI = entry.RSI, entry.RSI
		pos.EntryEngulfing, pos.LastEngulfing = entry.Engulfing, entry.Engulfing
		pos.LedgerID = g.recordTrade(ctx, pos, stake)

		if err := book.Add(ctx, *pos); err != nil {
			logger.WithError(err).Warn("⚠️ Position kept in memory only")
		}
		traded[sig.Instrument] = true
		g.Cache.Record(key, entry.SMA10, entry.RSI)
		out.Opened = append(out.Opened, *pos)

		logger.WithFields(log.Fields{"contract_id": pos.ContractID, "payout": pos.Payout}).
			Info("💰 Contract bought")
		g.Bus.Publish(events.EventTradeOpened, *pos)
	}

	if len(out.Opened) == 0 {
		return g.skip(out, SkipNoFills, logger), nil
	}
	return out, nil
}

// buyLot prices and buys one contract. The buy itself runs detached from ctx so a stop
// request cannot abandon a purchase the venue may already have accepted.
func (g *Gate) buyLot(ctx context.Context, sig strategy.Signal, kind string, dur Duration, stake float64, ids []string) (*state.OpenPosition, error) {
	prop, err := retry.Do(ctx, g.Caller, "proposal", func(ctx context.Context) (*venue.Proposal, error) {
		return g.Client.Proposal(ctx, venue.ProposalRequest{
			Instrument:   sig.Instrument,
			ContractType: kind,
			Duration:     dur.Value,
			DurationUnit: dur.Unit,
			Stake:        stake,
			Currency:     g.Config.Currency,
		})
	})
	if err != nil {
		return nil, err
	}
	if prop.AskPrice > g.Config.MaxAskPrice || prop.Payout < g.Config.MinPayout {
		return nil, fmt.Errorf("proposal rejected: ask %.2f payout %.2f outside limits", prop.AskPrice, prop.Payout)
	}

	receipt, err := retry.Do(context.WithoutCancel(ctx), g.Caller, "buy", func(ctx context.Context) (*venue.BuyReceipt, error) {
		return g.Client.Buy(ctx, prop.ID, prop.AskPrice)
	})
	if err != nil {
		return nil, err
	}
	return &state.OpenPosition{
		ContractID:   receipt.ContractID,
		Instrument:   sig.Instrument,
		ContractType: kind,
		BuyPrice:     receipt.BuyPrice,
		Payout:       receipt.Payout,
		StrategyIDs:  ids,
		Status:       "open",
		OpenedAt:     g.now(),
	}, nil
}

func (g *Gate) recordTrade(ctx context.Context, pos *state.OpenPosition, stake float64) int64 {
	if g.DB == nil {
		return 0
	}
	id, err := g.DB.CreateTrade(ctx, db.Trade{
		ContractID:   pos.ContractID,
		Instrument:   pos.Instrument,
		ContractType: pos.ContractType,
		StrategyIDs:  pos.StrategyIDs,
		Stake:        stake,
		EntryPrice:   pos.BuyPrice,
		Payout:       pos.Payout,
		Status:       "open",
		OpenedAt:     pos.OpenedAt,
	})
	if err != nil {
		log.WithField("contract_id", pos.ContractID).WithError(err).Error("❌ Failed to write trade ledger row")
		return 0
	}
	return id
}

func (g *Gate) skip(out *Outcome, reason SkipReason, logger *log.Entry) *Outcome {
	out.Skip = reason
	logger.WithField("reason", reason).Debug("Signal skipped")
	g.Bus.Publish(events.EventTradeSkipped, map[string]any{"instrument": out.Instrument, "reason": reason})
	return out
}

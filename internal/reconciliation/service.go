// Package reconciliation merges the venue's open-contract list into the bot's book.
package reconciliation

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/events"
	"trading-loop/internal/retry"
	"trading-loop/internal/state"
	"trading-loop/pkg/venue"
)

// Service runs the portfolio sync at the start of each cycle.
type Service struct {
	client venue.Client
	caller *retry.Caller
	bus    *events.Bus
	now    func() time.Time
}

// Report describes one sync.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	OnVenue   int       `json:"on_venue"`
	Tracked   int       `json:"tracked"`
	Adopted   []int64   `json:"adopted,omitempty"`
	Missing   []int64   `json:"missing,omitempty"` // tracked but not listed; the monitor settles them
	NoResale  []int64   `json:"no_resale,omitempty"`
}

// HasDiffs reports whether book and venue disagreed.
func (r *Report) HasDiffs() bool {
	return len(r.Adopted) > 0 || len(r.Missing) > 0 || len(r.NoResale) > 0
}

// resaleRefused is true only when the venue explicitly reports resale as not offered.
func resaleRefused(c venue.PortfolioContract) bool {
	return c.IsResaleOffered != nil && !bool(*c.IsResaleOffered)
}

// NewService creates a reconciliation service; bus may be nil.
func NewService(client venue.Client, caller *retry.Caller, bus *events.Bus) *Service {
	return &Service{client: client, caller: caller, bus: bus, now: time.Now}
}

// Sync merges by contract id. Tracked contracts keep their bot metadata and get the venue's
// latest prices; venue-only contracts are adopted with minimal metadata; tracked contracts
// the venue no longer lists stay in the book for the monitor to settle.
func (s *Service) Sync(ctx context.Context, book *state.Book) (*Report, error) {
	listed, err := retry.Do(ctx, s.caller, "portfolio", func(ctx context.Context) ([]venue.PortfolioContract, error) {
		return s.client.Portfolio(ctx)
	})
	if err != nil {
		log.WithError(err).Warn("⚠️ Portfolio sync failed, keeping current book")
		return nil, err
	}

	current := book.Positions()
	tracked := make(map[int64]state.OpenPosition, len(current))
	for _, p := range current {
		tracked[p.ContractID] = p
	}

	report := &Report{Timestamp: s.now(), OnVenue: len(listed), Tracked: len(current)}
	seen := make(map[int64]bool, len(listed))
	merged := make([]state.OpenPosition, 0, len(listed)+len(current))

	for _, c := range listed {
		seen[c.ContractID] = true
		if p, ok := tracked[c.ContractID]; ok {
			if c.BuyPrice > 0 {
				p.BuyPrice = c.BuyPrice
			}
			if c.Payout > 0 {
				p.Payout = c.Payout
			}
			if resaleRefused(c) && !p.ResaleUnavailable {
				p.ResaleUnavailable = true
				report.NoResale = append(report.NoResale, c.ContractID)
			}
			merged = append(merged, p)
			continue
		}
		opened := s.now()
		if c.PurchaseTime > 0 {
			opened = time.Unix(c.PurchaseTime, 0).UTC()
		}
		adopted := state.OpenPosition{
			ContractID:   c.ContractID,
			Instrument:   c.Symbol,
			ContractType: c.ContractType,
			BuyPrice:     c.BuyPrice,
			Payout:       c.Payout,
			EntryRSI:     50,
			LastRSI:      50,
			Status:       "open",
			Adopted:      true,
			OpenedAt:     opened,
		}
		if resaleRefused(c) {
			adopted.ResaleUnavailable = true
			report.NoResale = append(report.NoResale, c.ContractID)
		}
		merged = append(merged, adopted)
		report.Adopted = append(report.Adopted, c.ContractID)
		log.WithFields(log.Fields{"contract_id": c.ContractID, "instrument": c.Symbol}).
			Info("🔄 Adopted contract found on venue")
	}
	for _, p := range current {
		if !seen[p.ContractID] {
			merged = append(merged, p)
			report.Missing = append(report.Missing, p.ContractID)
		}
	}

	if !report.HasDiffs() {
		log.WithField("open", len(listed)).Debug("✅ Portfolio in sync")
		return report, nil
	}
	if err := book.Replace(ctx, merged); err != nil {
		return report, err
	}
	log.WithFields(log.Fields{
		"on_venue":  report.OnVenue,
		"adopted":   len(report.Adopted),
		"missing":   len(report.Missing),
		"no_resale": len(report.NoResale),
	}).Info("🔄 Synchronized with venue portfolio")
	if len(report.Adopted) > 0 {
		s.bus.Publish(events.EventPortfolioAdopted, report)
	}
	return report, nil
}

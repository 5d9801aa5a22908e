// Package state keeps the bot's owned set of open contracts, mirrored to the database so a
// restart resumes monitoring where it left off.
package state

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/pkg/db"
	"trading-loop/pkg/venue"
)

// OpenPosition is one contract the bot bought (or adopted) and still supervises.
type OpenPosition struct {
	ContractID        int64     `json:"contract_id"`
	Instrument        string    `json:"instrument"`
	ContractType      string    `json:"contract_type"`
	BuyPrice          float64   `json:"buy_price"`
	Payout            float64   `json:"payout"`
	StrategyIDs       []string  `json:"strategy_ids"`
	ResaleUnavailable bool      `json:"resale_unavailable"`
	EntryRSI          float64   `json:"entry_rsi"`
	EntryEngulfing    int       `json:"entry_engulfing"`
	LastRSI           float64   `json:"last_rsi"`
	LastEngulfing     int       `json:"last_engulfing"`
	LastBidPrice      float64   `json:"last_bid_price"` // informational, never used to settle
	SettledValue      float64   `json:"settled_value"`  // sell price the venue confirmed, 0 if none
	LedgerID          int64     `json:"ledger_id,omitempty"`
	ProfitPercentage  float64   `json:"profit_percentage"`
	CurrentPnL        float64   `json:"current_pnl"`
	Status            string    `json:"status"`
	Adopted           bool      `json:"adopted"`
	OpenedAt          time.Time `json:"opened_at"`
}

// Rise reports whether the contract pays on a higher exit.
func (p OpenPosition) Rise() bool { return p.ContractType == venue.ContractCall }

func (p OpenPosition) clone() OpenPosition {
	p.StrategyIDs = append([]string(nil), p.StrategyIDs...)
	return p
}

func (p OpenPosition) toRow() db.Position {
	return db.Position{
		ContractID:        p.ContractID,
		Instrument:        p.Instrument,
		ContractType:      p.ContractType,
		BuyPrice:          p.BuyPrice,
		Payout:            p.Payout,
		StrategyIDs:       p.StrategyIDs,
		ResaleUnavailable: p.ResaleUnavailable,
		EntryRSI:          p.EntryRSI,
		EntryEngulfing:    p.EntryEngulfing,
		LedgerID:          p.LedgerID,
		Adopted:           p.Adopted,
		OpenedAt:          p.OpenedAt,
	}
}

func fromRow(r db.Position) OpenPosition {
	return OpenPosition{
		ContractID:        r.ContractID,
		Instrument:        r.Instrument,
		ContractType:      r.ContractType,
		BuyPrice:          r.BuyPrice,
		Payout:            r.Payout,
		StrategyIDs:       r.StrategyIDs,
		ResaleUnavailable: r.ResaleUnavailable,
		EntryRSI:          r.EntryRSI,
		EntryEngulfing:    r.EntryEngulfing,
		LastRSI:           r.EntryRSI,
		LastEngulfing:     r.EntryEngulfing,
		LedgerID:          r.LedgerID,
		Adopted:           r.Adopted,
		OpenedAt:          r.OpenedAt,
		Status:            "open",
	}
}

// Book is the open-position set. Mutation is serial (gate, monitor, sync); readers may be
// any goroutine.
type Book struct {
	mu        sync.RWMutex
	positions map[int64]OpenPosition
	db        *db.Database
}

// NewBook creates an empty book; database may be nil for a memory-only book.
func NewBook(database *db.Database) *Book {
	return &Book{
		db:        database,
		positions: make(map[int64]OpenPosition),
	}
}

// Load seeds the book from the database on startup.
func (b *Book) Load(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	rows, err := b.db.ListPositions(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.positions[r.ContractID] = fromRow(r)
	}
	if len(rows) > 0 {
		log.WithField("positions", len(rows)).Info("🔄 Restored open positions")
	}
	return nil
}

// Len is the number of open positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Get returns a copy of the position for contractID.
func (b *Book) Get(contractID int64) (OpenPosition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[contractID]
	if !ok {
		return OpenPosition{}, false
	}
	return p.clone(), true
}

// Positions returns copies of every open position, oldest first.
func (b *Book) Positions() []OpenPosition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Book) snapshotLocked() []OpenPosition {
	res := make([]OpenPosition, 0, len(b.positions))
	for _, p := range b.positions {
		res = append(res, p.clone())
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].OpenedAt.Equal(res[j].OpenedAt) {
			return res[i].ContractID < res[j].ContractID
		}
		return res[i].OpenedAt.Before(res[j].OpenedAt)
	})
	return res
}

// Add inserts or overwrites one position and persists the set.
func (b *Book) Add(ctx context.Context, p OpenPosition) error {
	b.mu.Lock()
	b.positions[p.ContractID] = p.clone()
	snapshot := b.snapshotLocked()
	b.mu.Unlock()
	return b.persist(ctx, snapshot)
}

// Replace swaps the whole set in one step and persists it. The in-memory swap happens even
// when persistence fails.
func (b *Book) Replace(ctx context.Context, positions []OpenPosition) error {
	next := make(map[int64]OpenPosition, len(positions))
	for _, p := range positions {
		next[p.ContractID] = p.clone()
	}
	b.mu.Lock()
	b.positions = next
	snapshot := b.snapshotLocked()
	b.mu.Unlock()
	return b.persist(ctx, snapshot)
}

func (b *Book) persist(ctx context.Context, positions []OpenPosition) error {
	if b.db == nil {
		return nil
	}
	rows := make([]db.Position, len(positions))
	for i, p := range positions {
		rows[i] = p.toRow()
	}
	if err := b.db.ReplacePositions(ctx, rows); err != nil {
		log.WithError(err).Error("❌ Failed to persist open positions")
		return err
	}
	return nil
}

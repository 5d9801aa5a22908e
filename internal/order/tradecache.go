package order

import (
	"sort"
	"strings"
	"time"

	"trading-loop/pkg/cache"
)

// TradeRecord is the trade cache value: when the strategy set last bought the instrument
// and the indicator state at that moment.
type TradeRecord struct {
	At    time.Time `json:"at"`
	SMA10 float64   `json:"sma_10"`
	RSI   float64   `json:"rsi"`
}

// TradeCache enforces one buy per instrument and strategy set per cooldown window.
// Entries are refreshed on buy and never deleted.
type TradeCache struct {
	entries *cache.Sharded[TradeRecord]
	now     func() time.Time
}

// NewTradeCache creates an empty cache; now may be nil.
func NewTradeCache(now func() time.Time) *TradeCache {
	if now == nil {
		now = time.Now
	}
	return &TradeCache{entries: cache.NewWithClock[TradeRecord](now), now: now}
}

// TradeKey joins the instrument and the sorted strategy ids.
func TradeKey(instrument string, strategyIDs []string) string {
	ids := append([]string(nil), strategyIDs...)
	sort.Strings(ids)
	return instrument + "|" + strings.Join(ids, ",")
}

// InCooldown reports whether key traded less than cooldown ago.
func (c *TradeCache) InCooldown(key string, cooldown time.Duration) (TradeRecord, bool) {
	rec, ok := c.entries.Get(key)
	if !ok {
		return TradeRecord{}, false
	}
	return rec, c.now().Sub(rec.At) < cooldown
}

// Record stores a buy for key.
func (c *TradeCache) Record(key string, sma10, rsi float64) {
	c.entries.Set(key, TradeRecord{At: c.now(), SMA10: sma10, RSI: rsi})
}

// Len is the number of tracked keys.
func (c *TradeCache) Len() int { return c.entries.Len() }

package engine

import (
	"time"

	"trading-loop/internal/order"
	"trading-loop/internal/risk"
	"trading-loop/internal/strategy"
)

// State is the bot's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status is a point-in-time view of the bot for the control surface.
type Status struct {
	State         State                  `json:"state"`
	Cycles        uint64                 `json:"cycles"`
	LastCycleAt   *time.Time             `json:"last_cycle_at,omitempty"`
	LastError     string                 `json:"last_error,omitempty"`
	OpenPositions int                    `json:"open_positions"`
	Balance       float64                `json:"balance"`
	Currency      string                 `json:"currency,omitempty"`
	Params        risk.TradingParameters `json:"params"`
	Tier          risk.VolatilityTier    `json:"volatility_tier"`
	LastCycle     *CycleReport           `json:"last_cycle,omitempty"`
}

// CycleReport summarises one completed cycle.
type CycleReport struct {
	Cycle       uint64                   `json:"cycle"`
	StartedAt   time.Time                `json:"started_at"`
	Duration    time.Duration            `json:"duration"`
	Instruments int                      `json:"instruments"`
	Evaluated   int                      `json:"evaluated"`
	Signals     int                      `json:"signals"`
	Opened      int                      `json:"opened"`
	Skipped     map[order.SkipReason]int `json:"skipped,omitempty"`
	Adopted     int                      `json:"adopted"`
	Settled     int                      `json:"settled"`
	Held        int                      `json:"held"`
	MeanATR     float64                  `json:"mean_atr"`
	TimedOut    bool                     `json:"timed_out,omitempty"`
}

// StrategyInfo is a registry entry joined with its lifetime performance.
type StrategyInfo struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	Confidence float64            `json:"confidence"`
	IsActive   bool               `json:"is_active"`
	Affinity   []strategy.Regime  `json:"affinity,omitempty"`
	Direction  strategy.Direction `json:"direction"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Wins       int                `json:"wins"`
	Losses     int                `json:"losses"`
	Draws      int                `json:"draws"`
	WinRate    float64            `json:"win_rate"`
}

// Position is the externally visible state of an open contract.
type Position struct {
	ContractID        int64     `json:"contract_id"`
	Instrument        string    `json:"instrument"`
	ContractType      string    `json:"contract_type"`
	EntryPrice        float64   `json:"entry_price"`
	Payout            float64   `json:"payout"`
	CurrentPnL        float64   `json:"current_pnl"`
	ProfitPercentage  float64   `json:"profit_percentage"`
	Status            string    `json:"status"`
	StrategyIDs       []string  `json:"strategy_ids"`
	ResaleUnavailable bool      `json:"resale_unavailable"`
	Adopted           bool      `json:"adopted"`
	OpenedAt          time.Time `json:"opened_at"`
}

// BalanceInfo represents balance information.
type BalanceInfo struct {
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	SyncedAt time.Time `json:"synced_at"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	DryRun      bool      `json:"dry_run"`
	Venue       string    `json:"venue"`
	Instruments []string  `json:"instruments,omitempty"`
	Strategies  int       `json:"strategies"`
	Version     string    `json:"version"`
	StartedAt   time.Time `json:"started_at"`
	ServerTime  time.Time `json:"server_time"`
}

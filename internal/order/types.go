// Package order holds the trade gate: the checks, sizing and venue calls that turn a
// strategy signal into open contracts.
package order

import (
	"errors"

	"trading-loop/internal/state"
)

// ErrNoDuration means the venue offers no usable duration for the contract type.
var ErrNoDuration = errors.New("no suitable contract duration")

// SkipReason explains why a signal produced no trade.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipCooldown      SkipReason = "cooldown"
	SkipTradedCycle   SkipReason = "traded_this_cycle"
	SkipCapacity      SkipReason = "capacity"
	SkipNoLots        SkipReason = "no_lots"
	SkipNoDuration    SkipReason = "no_duration"
	SkipNoFills       SkipReason = "no_fills"
	SkipEmptySignal   SkipReason = "empty_signal"
	SkipContractsFail SkipReason = "contracts_unavailable"
)

// Config bounds what the gate may buy.
type Config struct {
	MaxOpenPositions int
	MaxAskPrice      float64
	MinPayout        float64
	Currency         string
}

// Duration is a chosen contract length.
type Duration struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// Outcome reports what one Execute call did.
type Outcome struct {
	Instrument   string               `json:"instrument"`
	ContractType string               `json:"contract_type,omitempty"`
	Stake        float64              `json:"stake,omitempty"`
	Duration     Duration             `json:"duration,omitempty"`
	Opened       []state.OpenPosition `json:"opened,omitempty"`
	Skip         SkipReason           `json:"skip,omitempty"`
}

// Traded tracks the instruments bought in the current cycle.
type Traded map[string]bool

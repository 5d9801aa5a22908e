// Package strategy holds the strategy registry, the entry rules, the predictive signal
// sources and the batch evaluator that turns candle history into per-instrument signals.
package strategy

import (
	"context"
	"sort"

	"trading-loop/internal/indicators"
)

// Regime classifies current market behaviour from trend strength.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
)

// Direction is the directional bias an entry declares.
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionContext Direction = "context"
)

// Outlook is a predicted price direction.
type Outlook string

const (
	OutlookUp   Outlook = "up"
	OutlookDown Outlook = "down"
	OutlookHold Outlook = "hold"
)

// Result is what a rule reports for one instrument.
type Result struct {
	Fired      bool
	Confidence float64 // effective confidence when fired
	Outlook    Outlook // set by context-direction rules
}

// Rule decides whether an entry confirms a trade on one instrument. A zero confidence
// disables the rule.
type Rule interface {
	Evaluate(ctx context.Context, instrument string, f *indicators.Features, confidence float64) (Result, error)
}

// Entry is one registered strategy instance.
type Entry struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	Rule       Rule               `json:"-"`
	Confidence float64            `json:"confidence"`
	Active     bool               `json:"active"`
	Affinity   []Regime           `json:"affinity,omitempty"` // empty means regime-agnostic
	Direction  Direction          `json:"direction"`
	Params     map[string]float64 `json:"params,omitempty"`
}

// Agnostic reports whether the entry runs in every regime.
func (e Entry) Agnostic() bool { return len(e.Affinity) == 0 }

// Matches reports whether the entry declares affinity for r.
func (e Entry) Matches(r Regime) bool {
	for _, a := range e.Affinity {
		if a == r {
			return true
		}
	}
	return false
}

// Confirmation is one entry that fired on an instrument.
type Confirmation struct {
	Entry      Entry   `json:"entry"`
	Confidence float64 `json:"confidence"`
	Outlook    Outlook `json:"outlook,omitempty"`
}

// Signal collects the confirmations for one instrument in one cycle.
type Signal struct {
	Instrument    string               `json:"instrument"`
	Regime        Regime               `json:"regime"`
	Confirmations []Confirmation       `json:"confirmations"`
	Features      *indicators.Features `json:"-"`
}

// StrategyIDs returns the sorted ids of the entries that fired.
func (s Signal) StrategyIDs() []string {
	ids := make([]string, 0, len(s.Confirmations))
	for _, c := range s.Confirmations {
		ids = append(ids, c.Entry.ID)
	}
	sort.Strings(ids)
	return ids
}

package strategy

// Classify maps trend strength (ADX) to a regime: above 25 trending, below 20 ranging,
// otherwise volatile.
func Classify(adx float64) Regime {
	switch {
	case adx > 25:
		return RegimeTrending
	case adx < 20:
		return RegimeRanging
	default:
		return RegimeVolatile
	}
}

// Select picks the entries to run for a regime. The primary set is every active entry with
// positive confidence whose affinity matches, plus every active agnostic entry. When that
// set is empty the single highest-confidence active entry with a matching affinity is
// used; agnostic entries never serve as fallback. Entries keep registry order.
func Select(entries []Entry, regime Regime) []Entry {
	var selected []Entry
	for _, e := range entries {
		if !e.Active || e.Confidence <= 0 {
			continue
		}
		if e.Agnostic() || e.Matches(regime) {
			selected = append(selected, e)
		}
	}
	if len(selected) > 0 {
		return selected
	}

	best := -1
	for i, e := range entries {
		if !e.Active || e.Agnostic() || !e.Matches(regime) {
			continue
		}
		if best < 0 || e.Confidence > entries[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return []Entry{entries[best]}
}

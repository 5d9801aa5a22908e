package order

import "trading-loop/pkg/venue"

// Preferred length per unit, in unit order of preference.
var durationPreference = []Duration{
	{Value: 1, Unit: "d"},
	{Value: 4, Unit: "h"},
	{Value: 240, Unit: "m"},
}

// SelectDuration prefers one day, then four hours, then 240 minutes. Within a unit the
// preferred length is used when a range contains it, otherwise the range maximum.
func SelectDuration(ranges map[string][]venue.DurationRange) (Duration, error) {
	for _, pref := range durationPreference {
		for _, r := range ranges[pref.Unit] {
			if r.Min <= pref.Value && pref.Value <= r.Max {
				return pref, nil
			}
			if r.Max >= 1 {
				return Duration{Value: r.Max, Unit: pref.Unit}, nil
			}
		}
	}
	return Duration{}, ErrNoDuration
}

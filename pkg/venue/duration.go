package venue

import (
	"fmt"
	"strconv"
	"strings"
)

// DurationRange is an inclusive range of contract durations in one unit.
type DurationRange struct {
	Unit string `json:"unit"`
	Min  int    `json:"min"`
	Max  int    `json:"max"`
}

var unitSeconds = map[string]int{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

// ParseDuration parses venue durations such as "15s", "1h" or "365d" into seconds.
// Tick durations ("5t") have no wall-clock length and are rejected.
func ParseDuration(v string) (int, error) {
	v = strings.TrimSpace(v)
	if len(v) < 2 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	unit := v[len(v)-1:]
	secs, ok := unitSeconds[unit]
	if !ok {
		return 0, fmt.Errorf("unsupported duration unit %q", unit)
	}
	n, err := strconv.Atoi(v[:len(v)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return n * secs, nil
}

// DurationRanges expands the offerings for a contract type into per-unit ranges for the
// day, hour and minute units. An offering of 15s..365d yields d:1..365, h:1..8760 and
// m:1..525600.
func DurationRanges(offerings []ContractOffering, contractType string) map[string][]DurationRange {
	out := make(map[string][]DurationRange)
	for _, o := range offerings {
		if !strings.EqualFold(o.ContractType, contractType) {
			continue
		}
		lo, err := ParseDuration(o.MinDuration)
		if err != nil {
			continue
		}
		hi, err := ParseDuration(o.MaxDuration)
		if err != nil || hi < lo {
			continue
		}
		for _, unit := range []string{"d", "h", "m"} {
			us := unitSeconds[unit]
			min := (lo + us - 1) / us
			if min < 1 {
				min = 1
			}
			max := hi / us
			if max < min {
				continue
			}
			out[unit] = append(out[unit], DurationRange{Unit: unit, Min: min, Max: max})
		}
	}
	return out
}

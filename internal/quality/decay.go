package quality

import (
	"math"
	"time"
)

// Freshness scores how current an observation is, decaying exponentially
// with age: 2^(-ageDays / halfLifeDays). A zero timestamp is treated as
// current rather than infinitely stale, since some connectors omit capture
// times.
func Freshness(observedAt, now time.Time, halfLifeDays int) float64 {
	if observedAt.IsZero() {
		return 1
	}
	ageDays := now.Sub(observedAt).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	halfLife := float64(halfLifeDays)
	if halfLife <= 0 {
		halfLife = 90
	}
	return math.Pow(2, -ageDays/halfLife)
}

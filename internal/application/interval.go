package application

import "time"

// Default capture timing. The idle delay is how long user activity must be
// quiet before a capture fires; the base interval paces the heartbeat loop
// between captures; the floor bounds how aggressive the heartbeat can get.
const (
	DefaultIdleDelay    = 5 * time.Second
	DefaultBaseInterval = 20 * time.Second
	DefaultMinInterval  = 5 * time.Second
)

// Heartbeat scaling factors. Save-data and low-battery stretch the interval;
// the backoff multiplier doubles per consecutive delivery failure up to the
// ceiling and resets to one on success.
const (
	maxBackoffMultiplier = 8
	saveDataFactor       = 2
	lowBatteryFactor     = 4
)

// effectiveInterval computes the next heartbeat delay. It is monotonically
// non-decreasing in each factor and never below floor.
func effectiveInterval(base, floor time.Duration, backoffMultiplier int, saveData, lowBattery bool) time.Duration {
	factor := time.Duration(backoffMultiplier)
	if saveData {
		factor *= saveDataFactor
	}
	if lowBattery {
		factor *= lowBatteryFactor
	}

	interval := base * factor
	if interval < floor {
		return floor
	}
	return interval
}

// nextBackoffMultiplier advances the backoff multiplier after a delivery
// settles. The multiplier is always a power of two in [1, 8].
func nextBackoffMultiplier(current int, delivered bool) int {
	if delivered {
		return 1
	}
	next := current * 2
	if next > maxBackoffMultiplier {
		return maxBackoffMultiplier
	}
	return next
}

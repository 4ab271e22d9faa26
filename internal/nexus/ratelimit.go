package nexus

import (
	"net/http"
	"strconv"
)

// RateLimit is the call-quota state parsed from the most recent response.
// It is ephemeral telemetry, never persisted; the sampler uses it to decide
// when to slow down.
type RateLimit struct {
	HourlyLimit     int `json:"hourly_limit"`
	HourlyRemaining int `json:"hourly_remaining"`
	DailyLimit      int `json:"daily_limit"`
	DailyRemaining  int `json:"daily_remaining"`
}

// parseRateLimit reads quota headers from a response. When the hourly pair is
// absent it returns nil: missing telemetry is not an error.
func parseRateLimit(h http.Header) *RateLimit {
	hourlyLimit, ok1 := headerInt(h, "X-RL-Hourly-Limit")
	hourlyRemaining, ok2 := headerInt(h, "X-RL-Hourly-Remaining")
	if !ok1 || !ok2 {
		return nil
	}

	rl := &RateLimit{
		HourlyLimit:     hourlyLimit,
		HourlyRemaining: hourlyRemaining,
	}
	if v, ok := headerInt(h, "X-RL-Daily-Limit"); ok {
		rl.DailyLimit = v
	}
	if v, ok := headerInt(h, "X-RL-Daily-Remaining"); ok {
		rl.DailyRemaining = v
	}
	return rl
}

func headerInt(h http.Header, key string) (int, bool) {
	s := h.Get(key)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

package provider

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRatePerMin = 60
	limiterBurst      = 5
)

// newLimiter allows perMinute model calls with a small burst on top.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = defaultRatePerMin
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), limiterBurst)
}

package gateway

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lookup-billing-go/internal/models"
)

// RetryPolicy is the backoff configuration of one provider.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Jitter            time.Duration
	RateLimitFallback time.Duration
	MaxRateLimitWaits int
}

func RetryPolicyFromConfig(cfg models.ProviderConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         cfg.BaseDelay,
		MaxDelay:          cfg.MaxDelay,
		Jitter:            cfg.Jitter,
		RateLimitFallback: cfg.RateLimitFallback,
		MaxRateLimitWaits: cfg.MaxRateLimitWaits,
	}
}

// Backoff returns min(MaxDelay, BaseDelay*2^retry), before jitter. A zero
// MaxDelay leaves the delay uncapped.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay << min(retry, 30)
	if delay <= 0 {
		delay = math.MaxInt64
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// JitterFunc returns a random extra delay in [0, max).
type JitterFunc func(max time.Duration) time.Duration

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const rateWindow = time.Minute

// RateWindow bounds outbound attempts of one gateway: at most perMinute
// attempts in any rolling minute and at least minSpacing between two
// consecutive attempts.
type RateWindow struct {
	mu         sync.Mutex
	name       string
	perMinute  int
	minSpacing time.Duration
	stamps     []time.Time
	last       time.Time
	clock      Clock
}

func NewRateWindow(name string, perMinute int, minSpacing time.Duration, clock Clock) *RateWindow {
	return &RateWindow{
		name:       name,
		perMinute:  perMinute,
		minSpacing: minSpacing,
		clock:      clock,
	}
}

// Wait blocks until an attempt is allowed and records it. Callers are served
// one at a time, so the window is never mutated by two overlapping waits.
func (w *RateWindow) Wait(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		now := w.clock.Now()
		w.prune(now)

		if w.perMinute > 0 && len(w.stamps) >= w.perMinute {
			delay := w.stamps[0].Add(rateWindow).Sub(now)
			zap.L().Debug("Rate window full, waiting",
				zap.String("provider", w.name),
				zap.Int("attempts", len(w.stamps)),
				zap.Duration("delay", delay))
			if err := w.clock.Sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		if w.minSpacing > 0 && !w.last.IsZero() {
			if gap := now.Sub(w.last); gap < w.minSpacing {
				if err := w.clock.Sleep(ctx, w.minSpacing-gap); err != nil {
					return err
				}
				continue
			}
		}

		w.stamps = append(w.stamps, now)
		w.last = now
		return nil
	}
}

// Len reports the attempts recorded in the current window.
func (w *RateWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.clock.Now())
	return len(w.stamps)
}

func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

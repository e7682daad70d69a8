package game

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// ROUND SCHEDULER
// =============================================================================

const DefaultTickInterval = 200 * time.Millisecond

// Ticker is driven by the scheduler; Directory implements it.
type Ticker interface {
	Tick(now time.Time)
	Reap(now time.Time)
}

// Scheduler drives every room's deadlines from one goroutine. Rooms decide
// for themselves whether a deadline has passed, so a late tick only delays
// a transition and never repeats one.
type Scheduler struct {
	target    Ticker
	interval  time.Duration
	reapEvery time.Duration
	log       zerolog.Logger
}

func NewScheduler(target Ticker, interval, idleTimeout time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	reapEvery := idleTimeout / 2
	if reapEvery < interval {
		reapEvery = interval
	}
	return &Scheduler{
		target:    target,
		interval:  interval,
		reapEvery: reapEvery,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Debug().Dur("interval", s.interval).Dur("reap_every", s.reapEvery).Msg("[Run] scheduler started")
	lastReap := time.Now()

	for {
		select {
		case now := <-ticker.C:
			s.target.Tick(now)
			if now.Sub(lastReap) >= s.reapEvery {
				lastReap = now
				s.target.Reap(now)
			}
		case <-ctx.Done():
			s.log.Debug().Msg("[Run] scheduler stopped")
			return ctx.Err()
		}
	}
}

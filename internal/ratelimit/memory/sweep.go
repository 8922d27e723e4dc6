package memory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/rtlmtr/internal/clock"
)

// Sweeper periodically drops buckets that have not admitted a request for
// at least Idle. With Idle >= the refill period a dropped bucket would have
// refilled to capacity anyway, so removing it never changes a decision.
type Sweeper struct {
	Store    *Store
	Clock    clock.Clock
	Idle     time.Duration
	Interval time.Duration
	Logger   zerolog.Logger
	OnSwept  func(n int)
}

// SweepOnce removes idle buckets as of the sweeper's clock.
func (s *Sweeper) SweepOnce() int {
	n := s.Store.Sweep(s.Clock.Now().Add(-s.Idle))
	if s.OnSwept != nil {
		s.OnSwept(n)
	}
	if n > 0 {
		s.Logger.Debug().Int("removed", n).Int("remaining", s.Store.Len()).Msg("swept idle buckets")
	}
	return n
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.Logger.Info().Dur("idle", s.Idle).Dur("interval", s.Interval).Msg("bucket sweeper started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.SweepOnce()
		}
	}
}

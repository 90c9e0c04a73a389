package server

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
)

type SupervisorDiagnostic interface {
	Relaunching(launch int, delay time.Duration, err error)
	GaveUp(launches int, err error)
}

// Supervisor relaunches a failed launch with exponential backoff
// as long as the failure is one it may recover from.
type Supervisor struct {
	maxRelaunches   int
	initialInterval time.Duration
	maxInterval     time.Duration

	// Retryable reports whether a launch that failed with err may be relaunched.
	Retryable func(err error) bool
	Clock     clock.Clock

	diag SupervisorDiagnostic
}

func NewSupervisor(c SupervisorConfig, retryable func(error) bool, d SupervisorDiagnostic) *Supervisor {
	return &Supervisor{
		maxRelaunches:   c.MaxRelaunches,
		initialInterval: time.Duration(c.InitialInterval),
		maxInterval:     time.Duration(c.MaxInterval),
		Retryable:       retryable,
		Clock:           clock.New(),
		diag:            d,
	}
}

// Run calls launch until it succeeds, fails with an error that is not retryable,
// or the maximum number of relaunches is exceeded.
// It returns the error of the last launch.
func (s *Supervisor) Run(ctx context.Context, launch func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	b.MaxInterval = s.maxInterval
	b.MaxElapsedTime = 0
	b.Clock = s.Clock
	b.Reset()

	for launches := 1; ; launches++ {
		err := launch(ctx)
		if err == nil || !s.Retryable(err) {
			return err
		}
		if s.maxRelaunches > 0 && launches > s.maxRelaunches {
			s.diag.GaveUp(launches, err)
			return err
		}

		delay := b.NextBackOff()
		s.diag.Relaunching(launches+1, delay, err)
		timer := s.Clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

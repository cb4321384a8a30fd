package jobsystem

import (
	"time"

	"github.com/me/jobsys/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultIdleMin       = time.Millisecond
	DefaultIdleMax       = 50 * time.Millisecond
	DefaultRetireTimeout = 30 * time.Second
)

// Option configures a System.
type Option func(*System)

// WithMetrics routes scheduler counters to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *System) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSink appends a sink that receives every retired job.
func WithSink(sink Sink) Option {
	return func(s *System) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithIdleBackoff bounds how long an idle worker sleeps between claim
// attempts. The delay doubles from min up to max while no job is claimable.
func WithIdleBackoff(min, max time.Duration) Option {
	return func(s *System) {
		if min > 0 {
			s.idleMin = min
		}
		if max >= s.idleMin {
			s.idleMax = max
		}
	}
}

// WithRetireTimeout caps how long RetireOne waits for a job to complete.
// Zero means wait until the caller's context ends.
func WithRetireTimeout(d time.Duration) Option {
	return func(s *System) {
		if d >= 0 {
			s.retireTimeout = d
		}
	}
}

// WithStrictDependencies controls whether Submit rejects dependencies on
// IDs that were never submitted. When disabled such jobs stay queued
// forever.
func WithStrictDependencies(strict bool) Option {
	return func(s *System) { s.strict = strict }
}

// WithClock overrides the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *System) {
		if now != nil {
			s.now = now
		}
	}
}

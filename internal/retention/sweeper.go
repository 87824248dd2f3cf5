// Package retention purges chat history older than the current calendar day.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// Purger is the slice of the message store the sweeper needs.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Schedule is a local wall-clock time of day.
type Schedule struct {
	Hour   int
	Minute int
}

// DefaultSchedule runs the sweep once a day at 01:00 local time.
var DefaultSchedule = Schedule{Hour: 1, Minute: 0}

// ParseSchedule reads an "HH:MM" time of day.
func ParseSchedule(value string) (Schedule, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid sweep time %q, expected HH:MM: %w", value, err)
	}
	return Schedule{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (s Schedule) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// NextRun returns the first instant strictly after now matching the schedule.
func (s Schedule) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Sweeper deletes every message stamped before the start of the current day.
type Sweeper struct {
	purger   Purger
	log      *slog.Logger
	schedule Schedule
	now      func() time.Time
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the clock deciding what "today" is.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper builds a sweeper purging through purger on the given schedule.
func NewSweeper(purger Purger, log *slog.Logger, schedule Schedule, opts ...Option) *Sweeper {
	s := &Sweeper{purger: purger, log: log, schedule: schedule, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep purges messages created before the start of today.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := store.StartOfDay(s.now())
	purged, err := s.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	s.log.Info("Retention sweep completed", "purged", purged, "cutoff", cutoff)
	return purged, nil
}

// Run sweeps once a day at the configured time until ctx is canceled.
// A failed sweep is logged and retried at the next scheduled run.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next := s.schedule.NextRun(s.now())
		s.log.Debug("Next retention sweep scheduled", "at", next)

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return nil
		}

		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("Retention sweep failed, retrying at next run", "error", err)
		}
	}
}

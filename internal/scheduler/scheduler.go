// Package scheduler triggers refresh cycles on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"newspulse/aggregator/internal/process"
)

// Refresher runs one refresh cycle.
type Refresher interface {
	TriggerRefresh(ctx context.Context) (process.RefreshResult, error)
}

// Scheduler runs a Refresher on a cron spec. Ticks that land while a cycle
// is still running are skipped.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	timeout   time.Duration
	loc       *time.Location

	mu       sync.Mutex
	entryID  cron.EntryID
	spec     string
	schedule cron.Schedule

	ctx    context.Context
	cancel context.CancelFunc

	runs    atomic.Int64
	skipped atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunTimeout bounds a single scheduled cycle.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a stopped scheduler in the given location.
func New(refresher Refresher, loc *time.Location, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		refresher: refresher,
		loc:       loc,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spec builds the cron spec for a refresh schedule. An explicit cron
// expression wins over the interval.
func Spec(interval time.Duration, expr string) (string, error) {
	if expr != "" {
		if _, err := cron.ParseStandard(expr); err != nil {
			return "", fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		return expr, nil
	}
	if interval < time.Second {
		return "", fmt.Errorf("refresh interval must be at least 1s, got %s", interval)
	}
	return "@every " + interval.String(), nil
}

// Schedule installs spec, replacing any previous entry.
func (s *Scheduler) Schedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("adding cron entry: %w", err)
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(s.RunNow))
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.spec = spec
	s.schedule = schedule
	log.Info().Str("spec", spec).Msg("Refresh scheduled")
	return nil
}

// Next returns the next planned run, zero when nothing is scheduled. Before
// the cron loop has picked up the entry, it is computed from the schedule.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
		return next
	}
	return s.schedule.Next(time.Now().In(s.loc))
}

// RunNow runs one cycle synchronously.
func (s *Scheduler) RunNow() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.refresher.TriggerRefresh(ctx)
	switch {
	case errors.Is(err, process.ErrRefreshInProgress):
		s.skipped.Add(1)
		log.Debug().Msg("Scheduled refresh skipped, a cycle is already running")
	case err != nil:
		log.Error().Err(err).Str("run_id", res.RunID).Msg("Scheduled refresh failed")
	default:
		s.runs.Add(1)
	}
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule, cancels a running cycle and waits for it.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}

// Stats returns the number of completed and skipped scheduled runs.
func (s *Scheduler) Stats() (runs, skipped int64) {
	return s.runs.Load(), s.skipped.Load()
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// Package expiry runs the periodic sweep that expires stale booking requests
// and closes slots whose start time passed. It is the only time-driven writer
// in the engine.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"bidding-service/internal/coordinator"
	"bidding-service/pkg/sl"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 5m"

// Target is one instructor's calendar as seen by the sweep.
type Target interface {
	InstructorID() string
	DueSlots(now time.Time) []string
	ExpireSlot(ctx context.Context, slotID string, now time.Time) (coordinator.ExpireResult, error)
	// Prune drops fully elapsed days and reports how many slots went.
	Prune(ctx context.Context, now time.Time) int
}

type Report struct {
	StartedAt   time.Time
	Duration    time.Duration
	Instructors int
	Slots       int
	Expired     int
	Failed      int
	Pruned      int
	// Skipped is set when another sweep was still running.
	Skipped bool
}

type Scheduler struct {
	log      *slog.Logger
	targets  func() []Target
	now      func() time.Time
	timeout  time.Duration
	schedule string

	cron    *cron.Cron
	running atomic.Bool
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTimeout bounds a scheduled sweep.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(log *slog.Logger, schedule string, targets func() []Target, opts ...Option) (*Scheduler, error) {
	const op = "expiry.New"

	if schedule == "" {
		schedule = DefaultSchedule
	}

	s := &Scheduler{
		log:      log.With(slog.String("component", "expiry")),
		targets:  targets,
		now:      time.Now,
		timeout:  time.Minute,
		schedule: schedule,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := cronLogger{log: s.log}
	s.cron = cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("%s: invalid schedule %q: %w", op, schedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Info("expiry scheduler started", slog.String("schedule", s.schedule))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.log.Info("expiry scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("expiry scheduler stop timed out", sl.Err(ctx.Err()))
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report := s.Sweep(ctx, s.now())
	if report.Skipped {
		return
	}

	s.log.Info("expiry sweep finished",
		slog.Int("instructors", report.Instructors),
		slog.Int("slots", report.Slots),
		slog.Int("expired", report.Expired),
		slog.Int("failed", report.Failed),
		slog.Int("pruned", report.Pruned),
		slog.Duration("duration", report.Duration),
	)
}

// Sweep runs one pass over every instructor. A failing or panicking slot is
// logged and counted; the pass carries on with the next slot.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) Report {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("expiry sweep skipped, previous sweep still running")
		return Report{StartedAt: now, Skipped: true}
	}
	defer s.running.Store(false)

	started := time.Now()
	report := Report{StartedAt: now}

	for _, t := range s.targets() {
		if ctx.Err() != nil {
			s.log.Warn("expiry sweep interrupted", sl.Err(ctx.Err()))
			break
		}

		report.Instructors++

		for _, slotID := range t.DueSlots(now) {
			report.Slots++

			res, err := s.expireSlot(ctx, t, slotID, now)
			if err != nil {
				report.Failed++
				s.log.Error("failed to expire slot",
					slog.String("instructor_id", t.InstructorID()),
					slog.String("slot_id", slotID),
					sl.Err(err),
				)
				continue
			}
			report.Expired += len(res.Expired)
		}

		report.Pruned += s.prune(ctx, t, now)
	}

	report.Duration = time.Since(started)

	return report
}

func (s *Scheduler) expireSlot(ctx context.Context, t Target, slotID string, now time.Time) (res coordinator.ExpireResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return t.ExpireSlot(ctx, slotID, now)
}

func (s *Scheduler) prune(ctx context.Context, t Target, now time.Time) (n int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("prune panicked", slog.String("instructor_id", t.InstructorID()), slog.Any("panic", r))
			n = 0
		}
	}()

	return t.Prune(ctx, now)
}

// cronLogger routes cron's own messages into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, sl.Err(err))...)
}

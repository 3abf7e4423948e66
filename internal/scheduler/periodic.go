package scheduler

import (
	"context"
	"time"

	"github.com/nodeops/healthagent/internal/events"
)

// PeriodicFunc is the body of a periodic task. It receives a TaskControl
// scoped to this one periodic submission; calling ctl.Cancel() suppresses
// the reschedule that would otherwise follow this iteration.
type PeriodicFunc func(ctx context.Context, ctl *TaskControl) error

// SubmitPeriodic runs fn once immediately, then again every interval after
// each completion (fixed-delay, not fixed-rate, per spec.md §4.1): the
// start of iteration k+1 is the completion time of iteration k plus
// interval. interval must be positive.
//
// If the scheduler is stopped, SubmitPeriodic is a no-op and returns nil.
func (s *Scheduler) SubmitPeriodic(name string, interval time.Duration, fn PeriodicFunc) *Handle {
	if !s.running() {
		return nil
	}
	if interval <= 0 {
		panic("scheduler: periodic interval must be positive")
	}

	h := &Handle{ID: name, Name: name, ctl: &TaskControl{}, done: make(chan struct{})}
	s.enqueue(func() { s.runPeriodicIteration(name, interval, fn, h) })
	return h
}

func (s *Scheduler) runPeriodicIteration(name string, interval time.Duration, fn PeriodicFunc, h *Handle) {
	// A fresh TaskControl each iteration: cancellation is consumed
	// immediately after the body returns (spec.md §4.1), so a new flag
	// for the next iteration must start clear.
	ctl := &TaskControl{}
	h.ctl = ctl

	start := time.Now()
	err := runCatchingPanic(func() error { return fn(context.Background(), ctl) })
	status := "success"
	if err != nil {
		status = "failed"
		s.log.Error().Err(err).Str("task", name).Msg("periodic task failed; rescheduling anyway")
		if s.bus != nil {
			s.bus.Emit(events.SchedulerTaskFailed, name, map[string]interface{}{"error": err.Error()})
		}
	}
	if recErr := s.history.RecordExecution(name, start, time.Since(start), status); recErr != nil {
		s.log.Warn().Err(recErr).Str("task", name).Msg("failed to record periodic execution")
	}

	if ctl.cancelled.Load() {
		s.log.Debug().Str("task", name).Msg("periodic self-cancelled; suppressing next reschedule")
		close(h.done)
		return
	}

	if !s.running() {
		close(h.done)
		return
	}

	// Fixed-delay: the clock for the next iteration starts now, after this
	// one's completion, not at a fixed cadence from the original start.
	time.AfterFunc(interval, func() {
		s.enqueue(func() { s.runPeriodicIteration(name, interval, fn, h) })
	})
}

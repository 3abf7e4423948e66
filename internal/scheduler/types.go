package scheduler

import (
	"sync/atomic"
	"time"
)

// State is the scheduler's lifecycle state, per spec.md §4.1's state machine:
// init -> running -> stopped.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TaskControl is handed to a running periodic task body so it can request
// that its own next reschedule be suppressed. Scope is per-task (the Open
// Question in spec.md §9 is resolved in favor of per-task scope): calling
// Cancel affects only the periodic that received this TaskControl.
type TaskControl struct {
	cancelled atomic.Bool
}

// Cancel suppresses the reschedule that would otherwise follow the
// iteration currently in progress. The flag is never cleared; each
// iteration receives a fresh TaskControl.
func (c *TaskControl) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called on this TaskControl.
// Used by callers (and tests) that need to observe the decision without
// going through a full scheduler iteration.
func (c *TaskControl) Cancelled() bool {
	return c.cancelled.Load()
}

// HistoryRecorder is the subset of the task history store (A3) the
// scheduler needs. Defined here, implemented in package taskhistory, to
// avoid an import cycle between the two packages.
type HistoryRecorder interface {
	RecordExecution(name string, at time.Time, dur time.Duration, status string) error
}

// noopHistory is used when no HistoryRecorder is configured.
type noopHistory struct{}

func (noopHistory) RecordExecution(string, time.Time, time.Duration, string) error { return nil }

package events

import "time"

// EventType is the closed set of events this agent emits over the bus.
type EventType string

const (
	// HealthStateChanged fires whenever Reporter.UpdateReport stores a
	// genuinely different report — the same condition that triggers the
	// external notifier call, but available in-process to any other
	// subscriber.
	HealthStateChanged EventType = "health_state_changed"
	// SchedulerTaskFailed fires when a task body submitted to the
	// scheduler (one-shot or periodic), or a monitor's Create, returns an
	// error severe enough to be worth surfacing outside its own report.
	SchedulerTaskFailed EventType = "scheduler_task_failed"
	// WatchdogPing fires each time the agent's systemd watchdog periodic
	// successfully notifies the supervisor.
	WatchdogPing EventType = "watchdog_ping"
)

// Event is one message delivered to subscribers.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Module    string
	Data      map[string]interface{}
}

// Package agent implements the process orchestrator from spec.md §4.4
// (C4): workdir/rundir layout, the Unix-socket request server, systemd
// watchdog liveness, signal-driven shutdown, and monitor lifecycle.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/nodeops/healthagent/internal/config"
	"github.com/nodeops/healthagent/internal/events"
	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/scheduler"
	"github.com/nodeops/healthagent/internal/taskhistory"
)

// Version is the agent's reported package version, returned verbatim by
// the `version` client request.
const Version = "1.0.0"

const watchdogInterval = 60 * time.Second

// Agent owns one Scheduler and the set of registered Monitors; it is the
// single non-global top-level value spec.md §9 asks for in place of
// class-level singletons.
type Agent struct {
	cfg   *config.Config
	log   zerolog.Logger
	sched   *scheduler.Scheduler
	sock    *socketServer
	bus     *events.Bus
	history *taskhistory.Store

	mu       sync.Mutex
	monitors []Monitor
}

// New constructs an Agent bound to cfg. Call Run to start it.
func New(cfg *config.Config, log zerolog.Logger, history scheduler.HistoryRecorder) *Agent {
	a := &Agent{
		cfg:   cfg,
		log:   log.With().Str("component", "agent").Logger(),
		sched: scheduler.New(log, history),
	}
	a.sock = newSocketServer(a)
	return a
}

// SetTaskHistory attaches the A3 task history store so Status can report
// per-task last-run/duration/status alongside the monitors. Optional — a
// nil history simply omits the "task_history" section.
func (a *Agent) SetTaskHistory(history *taskhistory.Store) {
	a.history = history
}

// SetEventBus attaches bus; the scheduler emits events.SchedulerTaskFailed
// on it for any failed task, the watchdog periodic emits events.WatchdogPing
// on every successful notify, and RegisterMonitor emits
// events.SchedulerTaskFailed when a monitor's Create fails. Optional — an
// Agent with no bus runs exactly as before.
func (a *Agent) SetEventBus(bus *events.Bus) {
	a.bus = bus
	a.sched.SetEventBus(bus)
}

// Scheduler exposes the agent's scheduler so monitors constructed outside
// this package can submit work against it.
func (a *Agent) Scheduler() *scheduler.Scheduler { return a.sched }

// LoadReporter builds a Reporter for a monitor named name, restoring it
// from <rundir>/<name>.bin if present. A corrupt or missing file yields a
// fresh Reporter, per spec.md §7.
func (a *Agent) LoadReporter(name string) *health.Reporter {
	r := health.New(a.sched, a.cfg.NotifierPath, a.cfg.PublishExternal, a.log)
	path := a.reporterPath(name)
	if err := r.LoadStore(path); err != nil {
		a.log.Warn().Err(err).Str("module", name).Msg("failed to load persisted reporter; starting fresh")
	}
	return r
}

func (a *Agent) reporterPath(name string) string {
	return filepath.Join(a.cfg.Rundir, name+".bin")
}

// RegisterMonitor adds m to the agent, calling m.Create. A failure is
// logged and m is dropped — the orchestrator never refuses to start
// because one monitor's collaborator is unavailable (spec.md §7).
func (a *Agent) RegisterMonitor(ctx context.Context, m Monitor) {
	if err := m.Create(ctx); err != nil {
		a.log.Error().Err(err).Str("monitor", m.Name()).Msg("monitor initialization failed; skipping")
		if a.bus != nil {
			a.bus.Emit(events.SchedulerTaskFailed, m.Name(), map[string]interface{}{"error": err.Error()})
		}
		return
	}
	a.mu.Lock()
	a.monitors = append(a.monitors, m)
	a.mu.Unlock()
	a.log.Info().Str("monitor", m.Name()).Msg("monitor registered")
}

// Status aggregates every registered monitor's status handlers under
// {module_name: {...}}, the `status` client request from spec.md §4.4.
func (a *Agent) Status() map[string]interface{} {
	a.mu.Lock()
	monitors := append([]Monitor(nil), a.monitors...)
	a.mu.Unlock()

	out := make(map[string]interface{}, len(monitors)+1)
	for _, m := range monitors {
		out[m.Name()] = runStatusHandlers(m.StatusHandlers(), func(handler string, err error) {
			a.log.Warn().Err(err).Str("monitor", m.Name()).Str("handler", handler).Msg("status handler failed")
		})
	}

	if a.history != nil {
		if records, err := a.history.All(); err != nil {
			a.log.Warn().Err(err).Msg("failed to read task history for status response")
		} else {
			out["task_history"] = records
		}
	}

	return out
}

// Epilog aggregates every registered monitor's epilog handlers.
func (a *Agent) Epilog(ctx context.Context) map[string]interface{} {
	a.mu.Lock()
	monitors := append([]Monitor(nil), a.monitors...)
	a.mu.Unlock()

	out := make(map[string]interface{}, len(monitors))
	for _, m := range monitors {
		out[m.Name()] = runEpilogHandlers(ctx, m.EpilogHandlers(), func(handler string, err error) {
			a.log.Warn().Err(err).Str("monitor", m.Name()).Str("handler", handler).Msg("epilog handler failed")
		})
	}
	return out
}

// Version returns the agent's reported version string.
func (a *Agent) Version() string { return Version }

// Run starts the scheduler and socket server, installs signal handlers,
// and blocks until SIGINT/SIGTERM or ctx is cancelled. On return, every
// registered monitor's Reporter has been persisted and the socket has been
// closed and removed.
func (a *Agent) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.Rundir, 0o770); err != nil {
		return fmt.Errorf("agent: create rundir: %w", err)
	}

	a.sched.Start()
	defer a.sched.Stop()

	if err := a.sock.listen(); err != nil {
		return fmt.Errorf("agent: listen on socket: %w", err)
	}
	go a.sock.serve()
	defer a.sock.close()

	a.sched.SubmitPeriodic("watchdog", watchdogInterval, func(ctx context.Context, ctl *scheduler.TaskControl) error {
		sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		if err != nil {
			return fmt.Errorf("watchdog ping: %w", err)
		}
		if !sent {
			// Not running under systemd (or WATCHDOG_USEC unset); cancel
			// so we don't keep trying every 60s for no supervisor.
			ctl.Cancel()
			return nil
		}
		if a.bus != nil {
			a.bus.Emit(events.WatchdogPing, "agent", nil)
		}
		return nil
	})

	if a.cfg.DebugMode {
		a.registerSelfObservation()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug().Err(err).Msg("sd_notify READY failed (not running under systemd?)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
		a.log.Info().Msg("context cancelled; shutting down")
	}

	a.persistAll()
	return nil
}

func (a *Agent) persistAll() {
	a.mu.Lock()
	monitors := append([]Monitor(nil), a.monitors...)
	a.mu.Unlock()

	for _, m := range monitors {
		path := a.reporterPath(m.Name())
		if err := m.Reporter().SaveStore(path); err != nil {
			a.log.Error().Err(err).Str("monitor", m.Name()).Msg("failed to persist reporter")
		}
	}
}

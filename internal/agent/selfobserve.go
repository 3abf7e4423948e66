package agent

import (
	"context"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/nodeops/healthagent/internal/events"
	"github.com/nodeops/healthagent/internal/scheduler"
)

// registerSelfObservation wires the three debug-mode periodics spec.md §4.4
// calls for: a memory-profile snapshot every 120s, an RSS monitor every
// 120s, and a shared-library RSS/anonymous monitor every 300s. None of
// these feed a Reporter — they are diagnostic-only and write to the log. It
// also subscribes to the event bus so a monitor's health transitions show up
// alongside the RSS/profile lines without any monitor needing to know
// self-observation exists.
func (a *Agent) registerSelfObservation() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		a.log.Warn().Err(err).Msg("debug mode: failed to open self process handle; skipping self-observation")
		return
	}

	a.sched.SubmitPeriodic("debug:memprofile", 120*time.Second, func(ctx context.Context, ctl *scheduler.TaskControl) error {
		return a.snapshotMemProfile()
	})

	a.sched.SubmitPeriodic("debug:rss", 120*time.Second, func(ctx context.Context, ctl *scheduler.TaskControl) error {
		return a.logRSS(proc)
	})

	a.sched.SubmitPeriodic("debug:shared_rss", 300*time.Second, func(ctx context.Context, ctl *scheduler.TaskControl) error {
		return a.logSharedRSS(proc)
	})

	if a.bus != nil {
		a.bus.Subscribe(events.HealthStateChanged, a.logHealthStateChange)
	}
}

// logHealthStateChange is the self-observation subscriber: a debug line for
// every events.HealthStateChanged the bus fans out, so debug-mode logs show
// monitor transitions next to the RSS/profile periodics above. Runs on its
// own goroutine per events.Bus.Emit — it must not touch anything the
// dispatcher goroutine also owns.
func (a *Agent) logHealthStateChange(e *events.Event) {
	a.log.Debug().
		Str("module", e.Module).
		Interface("data", e.Data).
		Time("event_time", e.Timestamp).
		Msg("self-observation: health state changed")
}

func (a *Agent) snapshotMemProfile() error {
	path := a.reporterPath("debug-memprofile") + ".pprof"
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return err
	}
	a.log.Debug().Str("path", path).Msg("wrote heap profile snapshot")
	return nil
}

func (a *Agent) logRSS(proc *process.Process) error {
	info, err := proc.MemoryInfo()
	if err != nil {
		return err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return err
	}
	a.log.Debug().
		Uint64("rss_bytes", info.RSS).
		Uint64("vms_bytes", info.VMS).
		Float64("system_used_percent", vm.UsedPercent).
		Msg("self-observation: RSS snapshot")
	return nil
}

func (a *Agent) logSharedRSS(proc *process.Process) error {
	info, err := proc.MemoryInfo()
	if err != nil {
		return err
	}
	// gopsutil's MemoryInfoStat does not break out shared/anonymous pages
	// uniformly across OSes; Data approximates the anonymous (non-file-backed)
	// portion on Linux, where this agent actually runs.
	a.log.Debug().
		Uint64("rss_bytes", info.RSS).
		Uint64("data_bytes", info.Data).
		Msg("self-observation: shared/anonymous RSS snapshot")
	return nil
}

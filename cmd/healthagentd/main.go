// Command healthagentd is the node-local health agent daemon (spec.md
// §4.4, C4). It also re-execs itself as a pool worker (see
// scheduler.PoolWorkerFlag) to run GPU epilog diagnostics outside the
// dispatcher goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/nodeops/healthagent/internal/agent"
	"github.com/nodeops/healthagent/internal/config"
	"github.com/nodeops/healthagent/internal/events"
	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/monitors/gpu"
	"github.com/nodeops/healthagent/internal/monitors/kmsg"
	"github.com/nodeops/healthagent/internal/monitors/network"
	"github.com/nodeops/healthagent/internal/monitors/systemdmon"
	"github.com/nodeops/healthagent/internal/reliability"
	"github.com/nodeops/healthagent/internal/scheduler"
	"github.com/nodeops/healthagent/internal/taskhistory"
	"github.com/nodeops/healthagent/pkg/logger"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == scheduler.PoolWorkerFlag {
		os.Exit(runPoolWorker(os.Args[2:]))
	}

	dataDir := flag.String("data-dir", "", "override the agent's working directory (defaults to $HEALTHAGENT_DIR or "+config.DefaultWorkdir+")")
	logLevel := flag.String("log-level", "info", "zerolog level (debug, info, warn, error)")
	pretty := flag.Bool("log-pretty", false, "use a human-readable console log writer instead of JSON")
	flag.Parse()

	cfg, err := config.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthagentd: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: *logLevel, Pretty: *pretty})

	// history is kept as scheduler.HistoryRecorder for agent.New (a nil
	// *taskhistory.Store boxed into that interface would be non-nil and
	// panic on first use), and separately as *taskhistory.Store for
	// SetTaskHistory's status-enrichment reads.
	var history scheduler.HistoryRecorder
	store, err := taskhistory.Open(cfg.Rundir + "/task_history.db")
	if err != nil {
		log.Error().Err(err).Msg("failed to open task history store; continuing without it")
		store = nil
	} else {
		history = store
		defer store.Close()
	}

	a := agent.New(cfg, log, history)
	if store != nil {
		a.SetTaskHistory(store)
	}
	bus := events.NewBus(log)
	a.SetEventBus(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var exporter *reliability.Exporter
	if cfg.Backup.Bucket != "" {
		restoreIfEmpty(ctx, cfg, log)
		exporter = startBackupExporter(ctx, cfg, log)
	}

	registerGPUMonitor(ctx, a, bus, log)
	registerSystemdMonitor(ctx, a, cfg, bus, log)
	registerKmsgMonitor(ctx, a, bus, log)
	registerNetworkMonitor(ctx, a, cfg, bus, log)

	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("agent exited with error")
		os.Exit(1)
	}

	if exporter != nil {
		exporter.Stop()
	}
}

// restoreIfEmpty implements the reimaged-node resume behavior: when rundir
// holds no persisted reporter snapshots yet and a backup bucket is
// configured, fetch the most recent archive before any monitor loads its
// Reporter, so a freshly imaged node resumes with its last known health
// picture instead of an all-NA cold start.
func restoreIfEmpty(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	empty, err := rundirEmpty(cfg.Rundir)
	if err != nil {
		log.Warn().Err(err).Msg("failed to inspect rundir before restore; skipping")
		return
	}
	if !empty {
		return
	}

	client, err := reliability.NewStorageClient(ctx, cfg.Backup.Bucket, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct backup storage client for restore; starting cold")
		return
	}
	exporter := reliability.NewExporter(client, cfg.Rundir, cfg.Backup.Prefix, log)
	if err := exporter.RestoreLatest(ctx); err != nil {
		log.Warn().Err(err).Msg("restore from backup failed; starting cold")
		return
	}
	log.Info().Msg("restored reporter snapshots from backup archive")
}

// rundirEmpty reports whether rundir holds no persisted reporter snapshot
// yet (a directory that doesn't exist counts as empty — it is created
// later, in Agent.Run).
func rundirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".bin" {
			return false, nil
		}
	}
	return true, nil
}

// loadReporter loads name's persisted Reporter and attaches bus so the
// socket/external-notifier fan-out also reaches in-process subscribers
// (spec.md §9's event-bus Open Question).
func loadReporter(a *agent.Agent, bus *events.Bus, name string) *health.Reporter {
	r := a.LoadReporter(name)
	r.SetBus(bus)
	return r
}

func registerGPUMonitor(ctx context.Context, a *agent.Agent, bus *events.Bus, log zerolog.Logger) {
	factory := func() (gpu.Client, error) {
		return gpu.NewFakeClient(), nil
	}
	client, _ := factory()

	reporter := loadReporter(a, bus, "gpu")
	m := gpu.New(client, reporter, a.Scheduler(), gpu.NewEpilogJob(factory), log)
	a.RegisterMonitor(ctx, m)
}

func registerSystemdMonitor(ctx context.Context, a *agent.Agent, cfg *config.Config, bus *events.Bus, log zerolog.Logger) {
	client := systemdmon.NewDBusClient(cfg.Systemd.Services)
	reporter := loadReporter(a, bus, "systemd")
	m := systemdmon.New(client, cfg.Systemd.Services, reporter, a.Scheduler(), log)
	a.RegisterMonitor(ctx, m)
}

func registerKmsgMonitor(ctx context.Context, a *agent.Agent, bus *events.Bus, log zerolog.Logger) {
	source, err := kmsg.Open()
	if err != nil {
		log.Warn().Err(err).Msg("failed to open /dev/kmsg; kernel log monitor disabled")
		return
	}
	bootTime, err := kmsg.BootTime()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read boot time; kernel log monitor disabled")
		source.Close()
		return
	}
	reporter := loadReporter(a, bus, "kernel_log")
	m := kmsg.New(source, bootTime, reporter, a.Scheduler(), log)
	a.RegisterMonitor(ctx, m)
}

func registerNetworkMonitor(ctx context.Context, a *agent.Agent, cfg *config.Config, bus *events.Bus, log zerolog.Logger) {
	source := &network.RealSysfsSource{}
	reporter := loadReporter(a, bus, "network")
	m := network.NewWithWindow(source, reporter, a.Scheduler(), log,
		cfg.Network.WindowSamples, cfg.Network.SampleInterval, cfg.Network.FlapWarnPerHour)
	a.RegisterMonitor(ctx, m)
}

// startBackupExporter starts the periodic archive-and-upload exporter and
// returns it so the caller can Stop it on shutdown; returns nil if the
// exporter could not be constructed or started, in which case there is
// nothing to stop.
func startBackupExporter(ctx context.Context, cfg *config.Config, log zerolog.Logger) *reliability.Exporter {
	client, err := reliability.NewStorageClient(ctx, cfg.Backup.Bucket, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct backup storage client; backups disabled")
		return nil
	}
	exporter := reliability.NewExporter(client, cfg.Rundir, cfg.Backup.Prefix, log)
	if err := exporter.Start(ctx, cfg.Backup.ScheduleCron); err != nil {
		log.Error().Err(err).Msg("failed to start backup exporter")
		return nil
	}
	return exporter
}

func runPoolWorker(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "pool worker: missing job name")
		return 1
	}
	factory := func() (gpu.Client, error) { return gpu.NewFakeClient(), nil }
	registry := scheduler.NewPoolRegistry()
	registry.Register(gpu.NewEpilogJob(factory))
	return scheduler.RunPoolWorker(registry, args[0], os.Stdin, os.Stdout, os.Stderr)
}

package gpu

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/scheduler"
)

// PoolDiagnosticsJob is the scheduler.PoolJob epilog diagnostics run
// under. It is satisfied by EpilogJob below; tests may substitute their
// own to avoid needing a real pool-worker re-exec.
type PoolDiagnosticsJob = scheduler.PoolJob

// ClientFactory constructs a fresh Client inside the re-exec'd pool-worker
// process, which shares no state with the parent's long-lived connection
// (spec.md §4.5: "reconnects to the external service independently").
type ClientFactory func() (Client, error)

// EpilogJob is the real pool-job implementation: registered once in the
// agent binary's pool registry, it is invoked identically whether running
// as the parent (submitting) or as the re-exec'd worker (the dispatch
// path is symmetric — see scheduler.RunPoolWorker).
type EpilogJob struct {
	newClient ClientFactory
}

var _ scheduler.PoolJob = (*EpilogJob)(nil)

// NewEpilogJob builds the epilog pool job from factory.
func NewEpilogJob(factory ClientFactory) *EpilogJob {
	return &EpilogJob{newClient: factory}
}

func (j *EpilogJob) Name() string { return "gpu_epilog" }

// Run connects a fresh Client, runs its diagnostics, and returns the
// MessagePack-encoded HealthReport the caller feeds to decodeEpilogReport.
func (j *EpilogJob) Run(ctx context.Context, payload []byte) ([]byte, error) {
	client, err := j.newClient()
	if err != nil {
		return nil, fmt.Errorf("gpu epilog: construct client: %w", err)
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("gpu epilog: connect: %w", err)
	}

	result, err := client.RunEpilogDiagnostics(ctx)
	if err != nil {
		return nil, fmt.Errorf("gpu epilog: diagnostics: %w", err)
	}

	report := health.New(health.StatusOK)
	if !result.Healthy {
		report.Status = health.StatusError
		report.Description = "epilog failures"
	}
	report.Details = result.Details

	return encodeEpilogReport(report)
}

type epilogWire struct {
	Status      health.Status `msgpack:"status"`
	Description string        `msgpack:"description"`
	Details     string        `msgpack:"details"`
}

func encodeEpilogReport(r health.Report) ([]byte, error) {
	return msgpack.Marshal(epilogWire{Status: r.Status, Description: r.Description, Details: r.Details})
}

func decodeEpilogReport(b []byte) (health.Report, error) {
	var w epilogWire
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return health.Report{}, fmt.Errorf("gpu monitor: decode epilog result: %w", err)
	}
	r := health.New(w.Status)
	r.Description = w.Description
	r.Details = w.Details
	return r, nil
}

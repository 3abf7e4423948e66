// Package gpu implements the GPU Monitor (C5): it treats the vendor health
// library (NVML/DCGM in production) as an external collaborator behind the
// Client interface, since no such binding is part of this repository's
// dependency surface — spec.md §1 explicitly scopes the vendor library out
// as an external collaborator. A real deployment wires in
// github.com/NVIDIA/go-dcgm behind this same interface; this repo ships a
// fake for tests and local runs.
package gpu

import "context"

// ViolationPolicy is one threshold policy the vendor library watches on the
// caller's behalf, invoking Callback asynchronously (from a foreign native
// thread, in the real DCGM binding) whenever it fires.
type ViolationPolicy struct {
	Condition string // e.g. "xid_error", "thermal_violation", "power_violation"
	GPUID     string
}

// Violation is one occurrence of a policy condition firing for a GPU.
type Violation struct {
	Condition string
	GPUID     string
	Details   string
}

// PolicyCallback is invoked with each Violation as it is observed. In the
// real binding this runs on a thread the vendor library owns; callers MUST
// only marshal the payload and hand off to their own event loop (spec.md
// §5) — this package's Monitor does exactly that via callbackSink.
type PolicyCallback func(Violation)

// Client is the GPU vendor collaborator surface this monitor depends on.
// DCGMStandalone in internal/config selects between the embedded library
// and a standalone host-engine connection in a real binding; both satisfy
// this same interface.
type Client interface {
	// Connect establishes (or re-establishes) a connection to the vendor
	// service. Called once at monitor Create, and again on reconnect after
	// a "connection not valid" health check failure.
	Connect(ctx context.Context) error

	// Close releases the connection.
	Close() error

	// RegisterPolicy arranges for cb to be invoked whenever policy fires.
	// The real binding calls cb from a library-owned thread.
	RegisterPolicy(policy ViolationPolicy, cb PolicyCallback) error

	// HealthCheck performs the periodic background liveness check spec.md
	// §4.5 describes. A returned error whose message contains "connection
	// not valid" signals the monitor should attempt exactly one reconnect.
	HealthCheck(ctx context.Context) error

	// RunEpilogDiagnostics performs the exclusive-access diagnostic suite
	// run from a pool worker at job boundaries. It reconnects independently
	// of the monitor's long-lived connection (the pool worker is a fresh
	// process) and returns a single summary report.
	RunEpilogDiagnostics(ctx context.Context) (EpilogResult, error)

	// GPUIDs lists the GPU identifiers this client knows about.
	GPUIDs() []string
}

// EpilogResult is RunEpilogDiagnostics's summary, independent of whatever
// custom_fields accumulation the long-running monitor has built up.
type EpilogResult struct {
	Healthy bool
	Details string
}

package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nodeops/healthagent/internal/health"
)

// StatusHandler contributes one named section to a `status` client request.
// Implementations run synchronously, on the goroutine serving the client's
// connection, and should not block.
type StatusHandler func() (map[string]interface{}, error)

// EpilogHandler contributes one named section to an `epilog` client
// request. Implementations may block (they typically hand off to a pool
// job) and receive the request's context so they can respect client
// disconnects.
type EpilogHandler func(ctx context.Context) (map[string]interface{}, error)

// Monitor is the interface every C5-C8 probe implements. spec.md §9
// replaces dynamic attribute scanning with explicit registration: a monitor
// declares its status/epilog contributions up front via StatusHandlers and
// EpilogHandlers rather than the orchestrator discovering them by
// reflection.
type Monitor interface {
	// Name identifies the monitor for persistence (<rundir>/<name>.bin) and
	// for the top-level key under which its status/epilog contributions are
	// nested.
	Name() string

	// Create performs async initialization: connecting to the external
	// collaborator, subscribing to events, registering periodics on the
	// scheduler. Returning an error here causes the orchestrator to skip
	// this monitor and continue with the others (spec.md §7).
	Create(ctx context.Context) error

	// StatusHandlers returns the named handlers invoked for a `status`
	// request. May be called concurrently with monitor operation; the
	// returned map itself should be treated as immutable after Create.
	StatusHandlers() map[string]StatusHandler

	// EpilogHandlers returns the named handlers invoked for an `epilog`
	// request.
	EpilogHandlers() map[string]EpilogHandler

	// Reporter returns the monitor's health store, so the orchestrator can
	// persist it at shutdown.
	Reporter() *health.Reporter
}

// runStatusHandlers invokes every handler in handlers and aggregates
// results into {handler_name: contribution}. A handler that errors or
// returns a nil map is logged and omitted, per spec.md §4.4 ("Results that
// are not mappings are logged and ignored").
func runStatusHandlers(handlers map[string]StatusHandler, onError func(name string, err error)) map[string]interface{} {
	out := make(map[string]interface{}, len(handlers))
	for name, h := range handlers {
		contribution, err := h()
		if err != nil {
			onError(name, err)
			continue
		}
		if contribution == nil {
			onError(name, errors.New("handler returned no result"))
			continue
		}
		out[name] = contribution
	}
	return out
}

func runEpilogHandlers(ctx context.Context, handlers map[string]EpilogHandler, onError func(name string, err error)) map[string]interface{} {
	out := make(map[string]interface{}, len(handlers))
	for name, h := range handlers {
		contribution, err := h(ctx)
		if err != nil {
			onError(name, err)
			continue
		}
		if contribution == nil {
			continue
		}
		out[name] = contribution
	}
	return out
}

// marshalResponse renders v as the agent's UTF-8 JSON response body.
func marshalResponse(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Package systemdmon implements the Systemd Monitor (C6): it watches a
// fixed allowlist of unit names for ActiveState transitions over DBus and
// maps them onto health reports.
package systemdmon

import "context"

// UnitChange is one ActiveState observation for a unit, either the initial
// read at Create or a later property-change notification.
type UnitChange struct {
	Service     string
	ActiveState string // "active", "failed", "inactive", "activating", ...
	SubState    string // "running", "dead", "failed", ...
	NewlyLoaded bool   // true the first time a previously-unloaded unit is observed
}

// Client is the DBus collaborator surface this monitor depends on,
// grounded on github.com/coreos/go-systemd/v22/dbus's subscription API:
// the real implementation wraps dbus.NewSystemConnectionContext plus a
// SubscriptionSet scoped to the configured allowlist.
type Client interface {
	// Connect opens the DBus system-bus connection.
	Connect(ctx context.Context) error

	// Close releases the connection.
	Close() error

	// InitialState reads a unit's current ActiveState/SubState once, for
	// the "one initial state read" spec.md §4.5 requires before
	// subscribing. A unit that is not currently loaded returns a
	// NewlyLoaded-eligible zero state rather than an error.
	InitialState(ctx context.Context, service string) (UnitChange, error)

	// Subscribe starts the long-lived property-change watch over the
	// allowlist passed at construction. Updates (including a unit's first
	// appearance after being unloaded) arrive on the returned channel until
	// ctx is done or Close is called.
	Subscribe(ctx context.Context) (<-chan UnitChange, <-chan error)
}

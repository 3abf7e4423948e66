package systemdmon

import (
	"context"
	"fmt"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
)

// DBusClient is the real Client, backed by a systemd1 Manager connection
// over the system bus. It uses go-systemd's SubscriptionSet, which itself
// wraps godbus/dbus/v5 PropertiesChanged signal matching scoped to the
// unit names added to the set — this is what lets a unit that appears
// later (after being unloaded at Create time) get picked up without a
// fresh Connect.
type DBusClient struct {
	services []string
	conn     *sddbus.Conn
	subSet   *sddbus.SubscriptionSet
}

var _ Client = (*DBusClient)(nil)

// NewDBusClient builds a client scoped to services. Connect must be called
// before use.
func NewDBusClient(services []string) *DBusClient {
	return &DBusClient{services: append([]string(nil), services...)}
}

func (c *DBusClient) Connect(ctx context.Context) error {
	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("systemdmon: connect to system bus: %w", err)
	}
	c.conn = conn
	c.conn.Subscribe()
	c.subSet = conn.NewSubscriptionSet()
	for _, svc := range c.services {
		c.subSet.Add(svc)
	}
	return nil
}

func (c *DBusClient) Close() error {
	if c.conn == nil {
		return nil
	}
	c.conn.Close()
	return nil
}

func (c *DBusClient) InitialState(ctx context.Context, service string) (UnitChange, error) {
	props, err := c.conn.GetUnitPropertiesContext(ctx, service)
	if err != nil {
		// Not loaded yet; the caller treats this as a unit to attach
		// monitoring to retroactively once it appears via Subscribe.
		return UnitChange{Service: service, NewlyLoaded: true}, nil
	}
	return unitChangeFromProps(service, props), nil
}

func (c *DBusClient) Subscribe(ctx context.Context) (<-chan UnitChange, <-chan error) {
	statusCh, errCh := c.subSet.Subscribe()

	out := make(chan UnitChange, 16)
	outErr := make(chan error, 1)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case updates, ok := <-statusCh:
				if !ok {
					return
				}
				for service, status := range updates {
					if status == nil {
						// nil means the unit was removed/unloaded.
						out <- UnitChange{Service: service, ActiveState: "inactive"}
						continue
					}
					out <- UnitChange{
						Service:     service,
						ActiveState: status.ActiveState,
						SubState:    status.SubState,
					}
				}
			case err, ok := <-errCh:
				if !ok {
					continue
				}
				select {
				case outErr <- err:
				default:
				}
			}
		}
	}()

	return out, outErr
}

func unitChangeFromProps(service string, props map[string]interface{}) UnitChange {
	uc := UnitChange{Service: service}
	if v, ok := props["ActiveState"].(string); ok {
		uc.ActiveState = v
	}
	if v, ok := props["SubState"].(string); ok {
		uc.SubState = v
	}
	return uc
}

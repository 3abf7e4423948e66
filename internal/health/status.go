// Package health implements the value model and per-agent store described
// in spec.md §3/§4.2/§4.3: a HealthReport per subsystem, debounced through a
// Reporter that owns the store and talks to an external notifier process.
package health

// Status is the severity of a subsystem's last-known health.
type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
	StatusNA      Status = "NA"
)

// severity orders statuses for display only; every other comparison in this
// package (equality, debounce) uses plain ==.
var severity = map[Status]int{
	StatusOK:      0,
	StatusWarning: 1,
	StatusError:   2,
	StatusNA:      -1,
}

// MoreSevere reports whether s is strictly more severe than other for display
// purposes (sorting, picking a worst-of status). NA does not participate in
// the ordering and is never more severe than anything.
func (s Status) MoreSevere(other Status) bool {
	sv, ok := severity[s]
	ov, ook := severity[other]
	if !ok || !ook {
		return false
	}
	return sv > ov
}

func (s Status) String() string {
	if s == "" {
		return string(StatusOK)
	}
	return string(s)
}

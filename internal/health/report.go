package health

import "time"

// Report is the per-subsystem value type from spec.md §3: a status, a
// handful of optional human-readable strings, a bag of structured custom
// fields, and a last-update timestamp that equality deliberately ignores.
type Report struct {
	Status          Status
	Message         string
	Description     string
	Details         string
	Recommendations string
	CustomFields    map[string]Value
	LastUpdate      time.Time
}

// NewOK builds a fresh OK report, stamped with the current UTC time.
func NewOK() Report {
	return Report{
		Status:       StatusOK,
		CustomFields: map[string]Value{},
		LastUpdate:   time.Now().UTC(),
	}
}

// New builds a report with the given status, stamped with the current UTC
// time. CustomFields starts empty; set it directly or via Field.
func New(status Status) Report {
	return Report{
		Status:       status,
		CustomFields: map[string]Value{},
		LastUpdate:   time.Now().UTC(),
	}
}

// Field returns the report's own field by name if it is one of the known
// string fields, else falls back to a lookup in CustomFields — the explicit
// accessor spec.md §9 substitutes for the source's name-based attribute
// fallback.
func (r Report) Field(name string) (Value, bool) {
	switch name {
	case "status":
		return String(string(r.Status)), true
	case "message":
		return String(r.Message), true
	case "description":
		return String(r.Description), true
	case "details":
		return String(r.Details), true
	case "recommendations":
		return String(r.Recommendations), true
	}
	v, ok := r.CustomFields[name]
	return v, ok
}

// WithField returns a copy of r with name set to v in CustomFields.
func (r Report) WithField(name string, v Value) Report {
	cp := r.clone()
	cp.CustomFields[name] = v
	return cp
}

func (r Report) clone() Report {
	cp := r
	cp.CustomFields = make(map[string]Value, len(r.CustomFields))
	for k, v := range r.CustomFields {
		cp.CustomFields[k] = v
	}
	return cp
}

// Clone returns a deep copy of r, safe for the caller to mutate freely —
// the contract Reporter.GetReport promises its callers.
func (r Report) Clone() Report { return r.clone() }

// Equal compares two reports ignoring LastUpdate, per spec.md §3.
func (r Report) Equal(other Report) bool {
	if r.Status != other.Status ||
		r.Message != other.Message ||
		r.Description != other.Description ||
		r.Details != other.Details ||
		r.Recommendations != other.Recommendations {
		return false
	}
	if len(r.CustomFields) != len(other.CustomFields) {
		return false
	}
	for k, v := range r.CustomFields {
		ov, ok := other.CustomFields[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// View flattens CustomFields into the top level and drops any key — base
// field or custom field — whose value is null, per spec.md §4.2/§8. It is
// idempotent: viewing the result of View again yields the same map, since
// View's output never contains Value-typed entries to flatten further.
func (r Report) View() map[string]interface{} {
	out := make(map[string]interface{}, 6+len(r.CustomFields))

	// Base string fields are plain Go strings, never the null variant, so
	// they are always kept — an empty string is distinct from null here
	// (spec.md §9 open question, resolved in favor of keeping it).
	out["status"] = string(r.Status)
	out["message"] = r.Message
	out["description"] = r.Description
	out["details"] = r.Details
	out["recommendations"] = r.Recommendations
	out["last_update"] = r.LastUpdate.UTC().Format("2006-01-02T15:04:05-07:00")

	for _, k := range sortedKeys(r.CustomFields) {
		v := r.CustomFields[k]
		if v.IsNull() {
			continue
		}
		out[k] = v.JSON()
	}
	return out
}

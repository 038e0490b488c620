// Package changetrack offers a plain value-diff helper: snapshot a set of
// named values at load time, then ask which of them changed. Used to decide
// whether a letter's contact data was edited between passes without keeping
// full history.
package changetrack

import "sort"

// Tracker compares current values against a baseline snapshot.
type Tracker struct {
	baseline map[string]any
	current  map[string]any
}

// New snapshots the given values as the baseline. The map is copied.
func New(values map[string]any) *Tracker {
	t := &Tracker{
		baseline: make(map[string]any, len(values)),
		current:  make(map[string]any, len(values)),
	}
	for k, v := range values {
		t.baseline[k] = v
		t.current[k] = v
	}
	return t
}

// Set records the current value for a field.
func (t *Tracker) Set(field string, value any) {
	t.current[field] = value
}

// HasChanged reports whether any tracked field differs from its baseline.
func (t *Tracker) HasChanged() bool {
	return len(t.Changed()) > 0
}

// Changed returns the sorted names of fields whose current value differs
// from the baseline, including fields set after the snapshot.
func (t *Tracker) Changed() []string {
	var out []string
	for k, v := range t.current {
		base, ok := t.baseline[k]
		if !ok || base != v {
			out = append(out, k)
		}
	}
	for k := range t.baseline {
		if _, ok := t.current[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ResetBaseline adopts the current values as the new baseline.
func (t *Tracker) ResetBaseline() {
	t.baseline = make(map[string]any, len(t.current))
	for k, v := range t.current {
		t.baseline[k] = v
	}
}

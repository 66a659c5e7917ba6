// ABOUTME: Shared run state model with per-field merge policies for reconciling concurrent stage updates.
// ABOUTME: Provides State, PartialState, Schema, and the merge engine (overwrite, append, dict-merge).
package graph

import (
	"fmt"
	"sort"
)

// MergePolicy controls how a state field absorbs a partial update.
type MergePolicy int

const (
	// Overwrite replaces the field with the incoming value (last writer wins).
	Overwrite MergePolicy = iota
	// Append concatenates sequence values, preserving contributions from
	// every writer. Concurrent writers are applied in branch-declaration
	// order, so the resulting sequence is deterministic.
	Append
	// DictMerge merges mapping values key-wise, one level deep: colliding
	// scalar keys are overwritten by the update, colliding mapping keys are
	// merged recursively one level.
	DictMerge
)

// State is the single shared record threaded through all pipeline stages.
type State map[string]any

// PartialState is the subset of fields a stage returns to be merged into State.
type PartialState map[string]any

// Schema declares the merge policy for each state field. Fields not declared
// default to Overwrite.
type Schema struct {
	policies map[string]MergePolicy
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{policies: make(map[string]MergePolicy)}
}

// Field declares the merge policy for a field. Returns the schema for chaining.
func (s *Schema) Field(name string, policy MergePolicy) *Schema {
	s.policies[name] = policy
	return s
}

// PolicyFor returns the declared policy for a field, defaulting to Overwrite.
func (s *Schema) PolicyFor(name string) MergePolicy {
	if p, ok := s.policies[name]; ok {
		return p
	}
	return Overwrite
}

// Fields returns the declared field names in sorted order.
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge applies a partial update to a base state according to the schema's
// per-field policies and returns the merged state. The base is not mutated.
// An empty update returns a state equal to the input.
func (s *Schema) Merge(base State, update PartialState) State {
	merged := base.Clone()
	for field, value := range update {
		switch s.PolicyFor(field) {
		case Append:
			merged[field] = appendValues(merged[field], value)
		case DictMerge:
			merged[field] = mergeDicts(merged[field], value)
		default:
			merged[field] = deepCopy(value)
		}
	}
	return merged
}

// Clone returns a deep copy of the state. Nested maps and slices are copied;
// scalar values are shared (they are immutable to the state model).
func (st State) Clone() State {
	if st == nil {
		return State{}
	}
	cloned := make(State, len(st))
	for k, v := range st {
		cloned[k] = deepCopy(v)
	}
	return cloned
}

// GetString returns a string field or the default when absent or mistyped.
func (st State) GetString(field, defaultVal string) string {
	v, ok := st[field]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

// GetMap returns a mapping field, or an empty map when absent or mistyped.
// The returned map is the live value; callers must not mutate it.
func (st State) GetMap(field string) map[string]any {
	if m, ok := st[field].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// GetSlice returns a sequence field normalized to []any, or nil when absent.
func (st State) GetSlice(field string) []any {
	v, ok := st[field]
	if !ok || v == nil {
		return nil
	}
	return toSlice(v)
}

// GetInt returns an integer field, tolerating the float64 representation that
// JSON round-trips produce. Returns the default when absent or mistyped.
func (st State) GetInt(field string, defaultVal int) int {
	switch v := st[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return defaultVal
	}
}

// appendValues concatenates two sequence values into a fresh []any.
// A nil side contributes nothing.
func appendValues(base, update any) []any {
	out := make([]any, 0)
	out = append(out, toSlice(base)...)
	for _, v := range toSlice(update) {
		out = append(out, deepCopy(v))
	}
	return out
}

// mergeDicts merges two mapping values one level deep. Keys present only on
// one side are kept. Colliding keys: when both values are mappings, the inner
// maps are merged with update keys winning; otherwise the update value wins.
func mergeDicts(base, update any) map[string]any {
	result := make(map[string]any)
	if bm, ok := base.(map[string]any); ok {
		for k, v := range bm {
			result[k] = deepCopy(v)
		}
	}
	um, ok := update.(map[string]any)
	if !ok {
		return result
	}
	for k, v := range um {
		existing, present := result[k]
		if !present {
			result[k] = deepCopy(v)
			continue
		}
		existingMap, eOK := existing.(map[string]any)
		updateMap, uOK := v.(map[string]any)
		if eOK && uOK {
			inner := make(map[string]any, len(existingMap)+len(updateMap))
			for ik, iv := range existingMap {
				inner[ik] = iv
			}
			for ik, iv := range updateMap {
				inner[ik] = deepCopy(iv)
			}
			result[k] = inner
			continue
		}
		result[k] = deepCopy(v)
	}
	return result
}

// toSlice normalizes sequence values to []any. Non-sequence values become a
// single-element slice so a stage may append one item without wrapping it.
func toSlice(v any) []any {
	switch s := v.(type) {
	case nil:
		return nil
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out
	case []string:
		out := make([]any, len(s))
		for i, str := range s {
			out[i] = str
		}
		return out
	default:
		return []any{v}
	}
}

// deepCopy copies nested maps and slices so merged states never alias the
// partials they were built from.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = deepCopy(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = deepCopy(inner)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = deepCopy(inner)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = inner
		}
		return out
	default:
		return v
	}
}

// String renders a compact field list, for event payloads and debugging.
func (st State) String() string {
	fields := make([]string, 0, len(st))
	for k := range st {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fmt.Sprintf("State%v", fields)
}

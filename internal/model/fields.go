package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Fields is a partial update: canonical JSON field names mapped to their new
// values. It is also what the merge produces when diffing two sides of a
// synchronized entity.
type Fields map[string]any

// Has reports whether the update touches the named field.
func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Apply overwrites the named fields on target, which must be a pointer to a
// struct using canonical JSON tags (Page, Document). Unnamed fields keep
// their current values.
func (f Fields) Apply(target any) error {
	if len(f) == 0 {
		return nil
	}
	data, err := json.Marshal(map[string]any(f))
	if err != nil {
		return fmt.Errorf("encode field update: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("apply field update: %w", err)
	}
	return nil
}

// canonicalFields renders v into its canonical per-field JSON encodings.
func canonicalFields(v any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode entity fields: %w", err)
	}
	return fields, nil
}

// DiffFields returns the winner's fields whose canonical JSON encoding
// differs from (or is absent on) the loser.
//
// This one comparison is used for both merge directions, for scalar and
// structural fields alike. Underscore-prefixed internal fields and the
// excluded names are never part of the diff.
func DiffFields(winner, loser any, exclude ...string) (Fields, error) {
	wf, err := canonicalFields(winner)
	if err != nil {
		return nil, err
	}
	lf, err := canonicalFields(loser)
	if err != nil {
		return nil, err
	}

	out := Fields{}
	for name, wraw := range wf {
		if strings.HasPrefix(name, "_") || excluded(name, exclude) {
			continue
		}
		if lraw, ok := lf[name]; ok && bytes.Equal(wraw, lraw) {
			continue
		}
		var v any
		if err := json.Unmarshal(wraw, &v); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func excluded(name string, exclude []string) bool {
	for _, e := range exclude {
		if name == e {
			return true
		}
	}
	return false
}

package storage

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Patch describes a field-level update: fields to write and fields to unset.
// Fields not mentioned are left as stored.
type Patch struct {
	sets   map[Field]any
	unsets map[Field]bool
}

// NewPatch creates an empty patch
func NewPatch() *Patch {
	return &Patch{
		sets:   make(map[Field]any),
		unsets: make(map[Field]bool),
	}
}

// Set writes value to the field, replacing any earlier Set or Unset of it
func (p *Patch) Set(f Field, value any) *Patch {
	delete(p.unsets, f)
	p.sets[f] = value
	return p
}

// Unset removes the field from the stored record
func (p *Patch) Unset(f Field) *Patch {
	delete(p.sets, f)
	p.unsets[f] = true
	return p
}

// Value returns the value the patch writes to f, if any
func (p *Patch) Value(f Field) (any, bool) {
	v, ok := p.sets[f]
	return v, ok
}

// Unsets reports whether the patch removes f
func (p *Patch) Unsets(f Field) bool {
	return p.unsets[f]
}

// Empty reports whether the patch changes nothing
func (p *Patch) Empty() bool {
	return len(p.sets) == 0 && len(p.unsets) == 0
}

// Encode returns the JSON-encoded values to write and the sorted names of
// the fields to remove.
func (p *Patch) Encode() (map[string]string, []string, error) {
	sets := make(map[string]string, len(p.sets))
	for f, v := range p.sets {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s: %w", f, err)
		}
		sets[string(f)] = string(data)
	}

	unsets := make([]string, 0, len(p.unsets))
	for f := range p.unsets {
		unsets = append(unsets, string(f))
	}
	slices.Sort(unsets)
	return sets, unsets, nil
}

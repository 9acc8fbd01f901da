// Package split defines the Split Map: the ordered mapping from stable split
// ids to the payload describing each independently dispatchable unit.
package split

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/splitflow/internal/errs"
)

// Payload describes one split. Rows indexes into the Control Object's data;
// Descriptor carries splitter-specific details (e.g. the grouping value).
type Payload struct {
	Rows       []int          `json:"rows,omitempty" yaml:"rows,omitempty"`
	Descriptor map[string]any `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
}

// Clone returns a deep copy of the row list and a shallow copy of the descriptor.
func (p Payload) Clone() Payload {
	out := Payload{}
	if p.Rows != nil {
		out.Rows = append([]int(nil), p.Rows...)
	}
	if p.Descriptor != nil {
		out.Descriptor = make(map[string]any, len(p.Descriptor))
		for k, v := range p.Descriptor {
			out.Descriptor[k] = v
		}
	}
	return out
}

// Entry pairs an id with its payload in map order.
type Entry struct {
	ID      string  `json:"id" yaml:"id"`
	Payload Payload `json:"payload" yaml:"payload"`
}

// Map is an insertion-ordered split map. The zero value is empty and usable.
type Map struct {
	order    []string
	payloads map[string]Payload
}

// NewMap builds a map from entries, rejecting empty or duplicate ids.
func NewMap(entries ...Entry) (*Map, error) {
	m := &Map{}
	for _, entry := range entries {
		if err := m.Add(entry.ID, entry.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add appends a split. Ids must be non-empty, unique and free of path
// separators so result stores can address them directly.
func (m *Map) Add(id string, payload Payload) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if m.payloads == nil {
		m.payloads = map[string]Payload{}
	}
	if _, exists := m.payloads[id]; exists {
		return errs.Config("split", "duplicate split id %q", id)
	}
	m.order = append(m.order, id)
	m.payloads[id] = payload.Clone()
	return nil
}

// ValidateID checks a single split id.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errs.Config("split", "split id is required")
	}
	if id != strings.TrimSpace(id) {
		return errs.Config("split", "split id %q has surrounding whitespace", id)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return errs.Config("split", "split id %q is not addressable", id)
	}
	return nil
}

// Len returns the number of splits.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// IDs returns split ids in map order.
func (m *Map) IDs() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.order...)
}

// Has reports whether id is a split of the map.
func (m *Map) Has(id string) bool {
	if m == nil {
		return false
	}
	_, ok := m.payloads[id]
	return ok
}

// Get returns the payload for id.
func (m *Map) Get(id string) (Payload, bool) {
	if m == nil {
		return Payload{}, false
	}
	payload, ok := m.payloads[id]
	if !ok {
		return Payload{}, false
	}
	return payload.Clone(), true
}

// At returns the split at a 1-based position, the addressing scheme used by
// array-job backends.
func (m *Map) At(index int) (Entry, error) {
	if index < 1 || index > m.Len() {
		return Entry{}, fmt.Errorf("split: index %d out of range [1,%d]", index, m.Len())
	}
	id := m.order[index-1]
	return Entry{ID: id, Payload: m.payloads[id].Clone()}, nil
}

// Entries returns every split in order.
func (m *Map) Entries() []Entry {
	out := make([]Entry, 0, m.Len())
	for _, id := range m.IDs() {
		out = append(out, Entry{ID: id, Payload: m.payloads[id].Clone()})
	}
	return out
}

// Validate enforces the non-empty invariant.
func (m *Map) Validate() error {
	if m.Len() == 0 {
		return errs.Config("split", "split map must contain at least one split")
	}
	return nil
}

type wireMap struct {
	Splits []Entry `json:"splits" yaml:"splits"`
}

// MarshalJSON encodes the map as an ordered list of entries.
func (m *Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMap{Splits: m.Entries()})
}

// UnmarshalJSON decodes the ordered list form.
func (m *Map) UnmarshalJSON(data []byte) error {
	var wire wireMap
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	return m.load(wire.Splits)
}

// MarshalYAML encodes the map as an ordered list of entries.
func (m *Map) MarshalYAML() (any, error) {
	return wireMap{Splits: m.Entries()}, nil
}

// UnmarshalYAML decodes the ordered list form.
func (m *Map) UnmarshalYAML(node *yaml.Node) error {
	var wire wireMap
	if err := node.Decode(&wire); err != nil {
		return err
	}
	return m.load(wire.Splits)
}

func (m *Map) load(entries []Entry) error {
	fresh, err := NewMap(entries...)
	if err != nil {
		return err
	}
	*m = *fresh
	return nil
}

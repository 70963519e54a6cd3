package mirror

import (
	"maps"
	"slices"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

// Change describes one entity transition. Old is nil for a new entity and
// New is nil for a removed one.
type Change struct {
	EntityID string
	Old      *wire.State
	New      *wire.State

	// Resync is true when the change was found by a get_states snapshot
	// rather than reported by an event.
	Resync bool
}

// Removed reports whether the entity disappeared.
func (c Change) Removed() bool { return c.New == nil }

// cloneState deep-copies s so cached states cannot be mutated by callers.
func cloneState(s *wire.State) *wire.State {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Attributes = cloneMap(s.Attributes)
	return &cpy
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// differs reports whether b is a different reading from a. Hub states carry
// last_updated, which moves on any state or attribute change.
func differs(a, b *wire.State) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.State != b.State || !a.LastUpdated.Equal(b.LastUpdated)
}

// sortedIDs returns the keys of m in order.
func sortedIDs(m map[string]*wire.State) []string {
	return slices.Sorted(maps.Keys(m))
}

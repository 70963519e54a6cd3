package relay

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/hublink/internal/mirror"
)

// PointWriter records numeric entity states. *influxdb.Client satisfies it.
type PointWriter interface {
	WriteEntityState(entityID, state string, attrs map[string]any, ts time.Time) int
}

// Metrics forwards mirror changes to a PointWriter. Writes are batched by
// the writer, so HandleChange is cheap enough to run on the dispatch
// goroutine.
type Metrics struct {
	w      PointWriter
	points atomic.Uint64
}

// NewMetrics creates a metrics forwarder.
func NewMetrics(w PointWriter) *Metrics {
	return &Metrics{w: w}
}

// HandleChange writes the new state. Removals write nothing. Pass it to
// mirror.Mirror.OnChange.
func (m *Metrics) HandleChange(c mirror.Change) {
	if c.New == nil {
		return
	}
	n := m.w.WriteEntityState(c.EntityID, c.New.State, c.New.Attributes, c.New.LastUpdated)
	m.points.Add(uint64(n)) // #nosec G115 -- point counts are never negative
}

// Points returns the number of points queued so far.
func (m *Metrics) Points() uint64 { return m.points.Load() }

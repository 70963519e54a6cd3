package influxdb

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEntityState is the measurement entity states are written to.
const MeasurementEntityState = "entity_state"

// attributeState tags the point carrying the entity's main state value.
const attributeState = "state"

// WriteEntityState records the numeric parts of an entity state.
//
// The state itself is written with attribute=state when it parses as a
// number ("21.5", "on" does not). Numeric attributes are written as one
// point each, tagged with the attribute name. Non-numeric values are
// skipped, so a light's "on" produces no points at all.
//
// Returns the number of points queued.
func (c *Client) WriteEntityState(entityID, state string, attrs map[string]any, ts time.Time) int {
	if !c.IsConnected() {
		return 0
	}

	points := entityStatePoints(entityID, state, attrs, ts)
	for _, p := range points {
		c.writeAPI.WritePoint(p)
	}
	return len(points)
}

// entityStatePoints builds the points for one state. Attribute points are
// sorted by name.
func entityStatePoints(entityID, state string, attrs map[string]any, ts time.Time) []*write.Point {
	if entityID == "" {
		return nil
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	domain, _, _ := strings.Cut(entityID, ".")

	var points []*write.Point
	add := func(attribute string, value float64) {
		points = append(points, write.NewPoint(
			MeasurementEntityState,
			map[string]string{
				"entity_id": entityID,
				"domain":    domain,
				"attribute": attribute,
			},
			map[string]any{"value": value},
			ts,
		))
	}

	if v, ok := numeric(state); ok {
		add(attributeState, v)
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v, ok := numeric(attrs[name]); ok {
			add(name, v)
		}
	}
	return points
}

// numeric converts JSON-decoded numbers and numeric strings. NaN and
// infinities are rejected by InfluxDB and treated as non-numeric.
func numeric(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

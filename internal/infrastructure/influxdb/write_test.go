package influxdb

import (
	"math"
	"testing"
	"time"
)

func TestNumeric(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{"21.5", 21.5, true},
		{" 7 ", 7, true},
		{"-3e2", -300, true},
		{"on", 0, false},
		{"unavailable", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{float64(4), 4, true},
		{math.Inf(1), 0, false},
		{12, 12, true},
		{true, 0, false},
		{nil, 0, false},
		{map[string]any{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := numeric(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("numeric(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEntityStatePoints(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	points := entityStatePoints("sensor.outside", "21.5", map[string]any{
		"unit_of_measurement": "°C",
		"battery":             88.0,
		"accuracy":            "2",
	}, ts)

	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}

	wantAttrs := []string{"state", "accuracy", "battery"}
	wantValues := []float64{21.5, 2, 88}
	for i, p := range points {
		if p.Name() != MeasurementEntityState {
			t.Errorf("point %d measurement = %q", i, p.Name())
		}
		if !p.Time().Equal(ts) {
			t.Errorf("point %d time = %v", i, p.Time())
		}

		tags := map[string]string{}
		for _, tag := range p.TagList() {
			tags[tag.Key] = tag.Value
		}
		if tags["entity_id"] != "sensor.outside" || tags["domain"] != "sensor" || tags["attribute"] != wantAttrs[i] {
			t.Errorf("point %d tags = %v", i, tags)
		}

		fields := p.FieldList()
		if len(fields) != 1 || fields[0].Key != "value" || fields[0].Value != wantValues[i] {
			t.Errorf("point %d fields = %+v", i, fields)
		}
	}
}

func TestEntityStatePoints_NonNumeric(t *testing.T) {
	if points := entityStatePoints("light.kitchen", "on", map[string]any{"friendly_name": "Kitchen"}, time.Time{}); len(points) != 0 {
		t.Errorf("got %d points for a non-numeric entity", len(points))
	}
	if points := entityStatePoints("", "1", nil, time.Time{}); points != nil {
		t.Error("points written without an entity id")
	}
}

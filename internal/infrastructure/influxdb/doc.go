// Package influxdb writes mirrored entity states to InfluxDB v2.
//
// Only numeric values are recorded. Each value becomes a point in the
// entity_state measurement:
//
//	entity_state,entity_id=sensor.outside,domain=sensor,attribute=state value=21.5
//	entity_state,entity_id=climate.hall,domain=climate,attribute=current_temperature value=19
//
// Writes go through the client's non-blocking batch API. Failed batches are
// reported to the SetOnError callback, never to the caller.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // optional sink
//	}
//	defer client.Close()
//
//	client.WriteEntityState("sensor.outside", "21.5", attrs, lastUpdated)
package influxdb

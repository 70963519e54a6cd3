// Package mqtt connects hublink to an MQTT broker.
//
// The broker is where the mirrored hub state is exposed to the rest of the
// house: entity states are published retained, hub events are forwarded as
// they arrive, and service calls can be requested by publishing to a command
// topic.
//
//	hub ↔ hublink ↔ MQTT broker ↔ other consumers
//
// # Topics
//
//	hublink/state/{entity_id}           retained entity state (JSON)
//	hublink/event/{event_type}          hub events, not retained
//	hublink/system/status               online/offline, retained, also the LWT
//	hublink/command/{domain}/{service}  inbound service calls
//
// # Reconnection
//
// paho handles reconnects with backoff between the configured initial and
// maximum delay. Subscriptions made through Subscribe are restored on every
// reconnect and the online status is published again.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    // MQTT is optional
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        domain, service, ok := mqtt.ParseCommandTopic(topic)
//	        ...
//	    })
package mqtt

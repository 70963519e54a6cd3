// Package relay connects the mirror and the event bus to the outside world.
//
// Outbound, a Relay publishes entity states (retained) and hub events to
// MQTT from its own worker, so broker latency never stalls event dispatch.
// Metrics feeds numeric states to InfluxDB. Inbound, Commands turns
// messages on hublink/command/{domain}/{service} into hub service calls.
package relay

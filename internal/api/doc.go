// Package api implements the local HTTP API and WebSocket relay for hublink.
//
// This package provides:
//   - Read access to the entity mirror and the recorded state history
//   - Service calls and state injection forwarded to the hub
//   - A WebSocket endpoint relaying hub events to local clients
//   - A health endpoint reporting session and component statistics
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// The server sits between local consumers (dashboards, scripts) and the hub
// session. Reads are answered from the mirror without a hub round trip;
// writes go through the session (service calls) or the REST fallback
// (state injection). Events reach WebSocket clients from the event bus.
//
// # Graceful Degradation
//
// Only the mirror is required. Without a history store, service caller or
// state writer the matching endpoints answer 503, and everything else keeps
// working.
package api

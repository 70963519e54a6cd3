package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

// SubscribeEvents subscribes to eventType, or to all events when it is empty.
// It returns the subscription id, which is the id of the subscribe request.
// Subscriptions do not survive a reconnect.
func (s *Session) SubscribeEvents(ctx context.Context, eventType string) (uint64, error) {
	id, _, err := s.call(ctx, wire.SubscribeEvents(eventType))
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UnsubscribeEvents cancels a subscription made on the current connection.
func (s *Session) UnsubscribeEvents(ctx context.Context, subscription uint64) error {
	_, _, err := s.call(ctx, wire.UnsubscribeEvents(subscription))
	return err
}

// GetStates returns every entity state. It waits for the hub to be running.
func (s *Session) GetStates(ctx context.Context) ([]wire.State, error) {
	if err := s.WaitHubRunning(ctx); err != nil {
		return nil, err
	}
	var states []wire.State
	if err := s.callInto(ctx, wire.GetStates(), &states); err != nil {
		return nil, err
	}
	return states, nil
}

// GetConfig returns the hub configuration. It does not wait for the hub to
// be running, since it is how running is detected.
func (s *Session) GetConfig(ctx context.Context) (wire.HubConfig, error) {
	var cfg wire.HubConfig
	if err := s.callInto(ctx, wire.GetConfig(), &cfg); err != nil {
		return wire.HubConfig{}, err
	}
	return cfg, nil
}

// GetPanels returns the registered panels keyed by URL path. It waits for
// the hub to be running.
func (s *Session) GetPanels(ctx context.Context) (map[string]wire.Panel, error) {
	if err := s.WaitHubRunning(ctx); err != nil {
		return nil, err
	}
	var panels map[string]wire.Panel
	if err := s.callInto(ctx, wire.GetPanels(), &panels); err != nil {
		return nil, err
	}
	return panels, nil
}

// GetServices returns the service catalogue keyed by domain and then by
// service name. It waits for the hub to be running.
func (s *Session) GetServices(ctx context.Context) (map[string]map[string]wire.Service, error) {
	if err := s.WaitHubRunning(ctx); err != nil {
		return nil, err
	}
	var services map[string]map[string]wire.Service
	if err := s.callInto(ctx, wire.GetServices(), &services); err != nil {
		return nil, err
	}
	return services, nil
}

// CallService invokes domain.service and returns the raw result payload.
func (s *Session) CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error) {
	_, payload, err := s.call(ctx, wire.CallService(domain, service, data))
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Ping sends an application-level ping and returns the round-trip time.
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, _, err := s.call(ctx, wire.Ping()); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (s *Session) callInto(ctx context.Context, req wire.Request, out any) error {
	_, payload, err := s.call(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("session: decode %s result: %w", req.Type, err)
	}
	return nil
}

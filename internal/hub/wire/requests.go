package wire

// Request is an outbound command frame. ID is assigned by the session just
// before the frame is registered with the correlator and written.
type Request struct {
	ID           uint64         `json:"id"`
	Type         string         `json:"type"`
	EventType    string         `json:"event_type,omitempty"`
	Subscription uint64         `json:"subscription,omitempty"`
	Domain       string         `json:"domain,omitempty"`
	Service      string         `json:"service,omitempty"`
	ServiceData  map[string]any `json:"service_data,omitempty"`
}

// Auth is the handshake frame answering auth_required. It carries no id and
// is never tracked by the correlator.
type Auth struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// NewAuth builds the handshake frame for token.
func NewAuth(token string) Auth {
	return Auth{Type: TypeAuth, AccessToken: token}
}

// SubscribeEvents subscribes to eventType, or to every event when it is empty.
func SubscribeEvents(eventType string) Request {
	return Request{Type: TypeSubscribeEvents, EventType: eventType}
}

// UnsubscribeEvents cancels the subscription created by request id subscription.
func UnsubscribeEvents(subscription uint64) Request {
	return Request{Type: TypeUnsubscribeEvents, Subscription: subscription}
}

// GetStates requests a snapshot of every entity.
func GetStates() Request { return Request{Type: TypeGetStates} }

// GetConfig requests the hub configuration, including its running state.
func GetConfig() Request { return Request{Type: TypeGetConfig} }

// GetPanels requests the registered frontend panels.
func GetPanels() Request { return Request{Type: TypeGetPanels} }

// GetServices requests the service catalogue.
func GetServices() Request { return Request{Type: TypeGetServices} }

// Ping requests a pong keyed by the request id.
func Ping() Request { return Request{Type: TypePing} }

// CallService invokes domain.service with data.
func CallService(domain, service string, data map[string]any) Request {
	return Request{
		Type:        TypeCallService,
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	}
}

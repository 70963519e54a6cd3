package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
)

const testBroker = "127.0.0.1:1883"

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "hublink-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips tests that need a running Mosquitto.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", testBroker, 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", testBroker, err)
	}
	conn.Close()
}

// =============================================================================
// Offline tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	c, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
	if c != nil {
		t.Error("Connect() returned a client when disabled")
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{Topics{}.EntityState("light.kitchen"), "hublink/state/light.kitchen"},
		{Topics{}.AllEntityStates(), "hublink/state/+"},
		{Topics{}.Event("state_changed"), "hublink/event/state_changed"},
		{Topics{}.SystemStatus(), "hublink/system/status"},
		{Topics{}.Command("light", "turn_on"), "hublink/command/light/turn_on"},
		{Topics{}.AllCommands(), "hublink/command/+/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseCommandTopic(t *testing.T) {
	tests := []struct {
		topic   string
		domain  string
		service string
		ok      bool
	}{
		{"hublink/command/light/turn_on", "light", "turn_on", true},
		{"hublink/command/climate/set_temperature", "climate", "set_temperature", true},
		{"hublink/command/light", "", "", false},
		{"hublink/command/light/", "", "", false},
		{"hublink/command//turn_on", "", "", false},
		{"hublink/command/light/turn_on/extra", "", "", false},
		{"hublink/state/light.kitchen", "", "", false},
		{"other/command/light/turn_on", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			domain, service, ok := ParseCommandTopic(tt.topic)
			if ok != tt.ok || domain != tt.domain || service != tt.service {
				t.Errorf("ParseCommandTopic() = (%q, %q, %v), want (%q, %q, %v)",
					domain, service, ok, tt.domain, tt.service, tt.ok)
			}
		})
	}
}

func TestClientID(t *testing.T) {
	cfg := testConfig()
	if got := clientID(cfg); got != "hublink-test" {
		t.Errorf("clientID() = %q, want configured id", got)
	}

	cfg.Broker.ClientID = ""
	a, b := clientID(cfg), clientID(cfg)
	if !strings.HasPrefix(a, "hublink-") || len(a) != len("hublink-")+8 {
		t.Errorf("generated clientID() = %q", a)
	}
	if a == b {
		t.Errorf("generated client ids collide: %q", a)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "hub"
	cfg.Auth.Password = "pw"

	opts := buildClientOptions(cfg, "id-1")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "id-1" || opts.Username != "hub" || opts.Password != "pw" {
		t.Errorf("identity = %q/%q/%q", opts.ClientID, opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v", opts.TLSConfig)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v", opts.MaxReconnectInterval)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig(), "id-1")
	configureLWT(opts, "id-1")

	if !opts.WillEnabled || opts.WillTopic != "hublink/system/status" || !opts.WillRetained {
		t.Fatalf("will = enabled %v topic %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "id-1" || p.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload_EscapesClientID(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("online", `a"b`, ""), &p); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if p.ClientID != `a"b` || p.Reason != "" {
		t.Errorf("payload = %+v", p)
	}
}

func TestValidationBeforeConnection(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish oversize", c.Publish("t", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("t", []byte("x"), 0, false), ErrNotConnected},
		{"subscribe empty topic", c.Subscribe("", 1, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 9, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 1, noop), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
		{"publish json disconnected", c.PublishJSON("t", map[string]int{"a": 1}, false), ErrNotConnected},
		{"publish json unencodable", c.PublishJSON("t", make(chan int), false), ErrPublishFailed},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("failed subscriptions were tracked: %d", c.SubscriptionCount())
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("unconnected Close() = %v", err)
	}
}

// fakeMessage implements paho's Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestWrapHandler(t *testing.T) {
	c := &Client{}
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var gotTopic, gotPayload string
	c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})(nil, fakeMessage{topic: "hublink/command/light/turn_on", payload: []byte(`{}`)})

	if gotTopic != "hublink/command/light/turn_on" || gotPayload != "{}" {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}

	c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })(nil, fakeMessage{topic: "t"})
	c.wrapHandler(func(string, []byte) error { panic("handler bug") })(nil, fakeMessage{topic: "t"})

	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns = %v, errors = %v", logger.warns, logger.errors)
	}
}

// =============================================================================
// Broker tests
// =============================================================================

func TestBroker_PublishSubscribeRoundtrip(t *testing.T) {
	requireBroker(t)

	cfg := testConfig()
	cfg.Broker.ClientID = ""
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	received := make(chan string, 1)
	err = c.Subscribe(Topics{}.AllCommands(), 1, func(topic string, payload []byte) error {
		domain, service, ok := ParseCommandTopic(topic)
		if ok {
			received <- domain + "." + service + " " + string(payload)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription(Topics{}.AllCommands()) {
		t.Error("subscription not tracked")
	}

	if err := c.PublishJSON(Topics{}.Command("light", "turn_on"), map[string]string{"entity_id": "light.test"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `light.turn_on {"entity_id":"light.test"}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := c.Unsubscribe(Topics{}.AllCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d", c.SubscriptionCount())
	}
}

func TestBroker_RetainedState(t *testing.T) {
	requireBroker(t)

	pub, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pub.Close()

	topic := Topics{}.EntityState("sensor.hublink_retained_test")
	if err := pub.PublishRetained(topic, []byte(`{"state":"42"}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}
	defer pub.PublishRetained(topic, nil) //nolint:errcheck // clears the retained message

	cfg := testConfig()
	cfg.Broker.ClientID = "hublink-test-sub"
	sub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sub.Close()

	got := make(chan []byte, 1)
	if err := sub.Subscribe(topic, 1, func(_ string, p []byte) error { got <- p; return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case p := <-got:
		if string(p) != `{"state":"42"}` {
			t.Errorf("retained payload = %s", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained message not delivered")
	}
}

func TestBroker_HealthCheck(t *testing.T) {
	requireBroker(t)

	c, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v", err)
	}

	c.Close()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v", err)
	}
}

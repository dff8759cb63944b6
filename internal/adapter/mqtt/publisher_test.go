package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/s7"
	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
)

// fakeToken is a completed paho token.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Error() error                     { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes instead of talking to a broker.
type fakeClient struct {
	pahomqtt.Client

	connectErr error

	mu        sync.Mutex
	connected bool
	messages  []published
}

func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(_ uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) waitFor(t *testing.T, n int) []published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.messages) >= n {
			out := append([]published(nil), c.messages...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d published messages", n)
	return nil
}

func (c *fakeClient) recorded() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func newTestPublisher(t *testing.T, config Config, client *fakeClient) *Publisher {
	t.Helper()
	p, err := NewPublisher(config, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	p.newClient = func(*pahomqtt.ClientOptions) pahomqtt.Client { return client }
	return p
}

func stateEvent(state domain.SessionState) domain.SessionEvent {
	return domain.SessionEvent{
		Kind:   domain.EventState,
		Status: &domain.SessionStatus{State: state},
		Time:   time.Now(),
	}
}

func TestNewPublisher_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"empty broker", Config{BrokerURL: " "}},
		{"qos out of range", Config{BrokerURL: "tcp://broker:1883", QoS: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPublisher(tt.config, zerolog.Nop(), nil)
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewPublisher_Defaults(t *testing.T) {
	p, err := NewPublisher(Config{BrokerURL: "tcp://broker:1883", TopicPrefix: "/plant/line1/"}, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	if p.StatusTopic() != "plant/line1/status" {
		t.Errorf("unexpected status topic %q", p.StatusTopic())
	}
	if p.WritesTopic() != "plant/line1/writes" {
		t.Errorf("unexpected writes topic %q", p.WritesTopic())
	}
	if p.config.ClientID != "plcbridge" || p.config.BufferSize != 1000 {
		t.Errorf("defaults not applied: %+v", p.config)
	}
}

func TestPublisher_PublishesSessionEvents(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(t, Config{BrokerURL: "tcp://broker:1883"}, client)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !p.IsConnected() {
		t.Error("expected publisher to be connected")
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	p.SessionEvent(stateEvent(domain.StateConnected))
	p.SessionEvent(domain.SessionEvent{Kind: domain.EventWrite, Access: "DB1.DBW0", Time: time.Now()})

	msgs := client.waitFor(t, 2)

	if msgs[0].topic != "plcbridge/status" || !msgs[0].retained {
		t.Errorf("state event published to %q retained=%v", msgs[0].topic, msgs[0].retained)
	}
	var ev domain.SessionEvent
	if err := json.Unmarshal(msgs[0].payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Kind != domain.EventState || ev.Status == nil || ev.Status.State != domain.StateConnected {
		t.Errorf("unexpected state payload %s", msgs[0].payload)
	}

	if msgs[1].topic != "plcbridge/writes" || msgs[1].retained {
		t.Errorf("write event published to %q retained=%v", msgs[1].topic, msgs[1].retained)
	}
	if err := json.Unmarshal(msgs[1].payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Access != "DB1.DBW0" {
		t.Errorf("expected access DB1.DBW0, got %q", ev.Access)
	}

	p.Disconnect()
	if p.IsConnected() || client.IsConnected() {
		t.Error("expected publisher and client to be disconnected")
	}
	// two events plus the offline status
	if got := p.Stats().MessagesPublished.Load(); got != 3 {
		t.Errorf("expected 3 published messages, got %d", got)
	}
}

func TestPublisher_ShutdownLeavesOfflineStatus(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(t, Config{BrokerURL: "tcp://broker:1883"}, client)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	session, err := s7.NewManager(s7.NewMemoryEngine(s7.SimulatorConfig{}), s7.ManagerConfig{Host: "192.168.7.2", Slot: 1, MaxRetries: 1}, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	session.SetObserver(p)
	if _, err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Same order as the bridge shutdown: session first, then the broker link
	if err := session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	p.Disconnect()

	var status []published
	for _, msg := range client.recorded() {
		if msg.topic == p.StatusTopic() {
			status = append(status, msg)
		}
	}
	if len(status) != 3 {
		t.Fatalf("expected connected, disconnected and offline statuses, got %d", len(status))
	}

	var ev domain.SessionEvent
	if err := json.Unmarshal(status[1].payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Status == nil || ev.Status.State != domain.StateDisconnected {
		t.Errorf("expected disconnected state before going offline, got %s", status[1].payload)
	}

	last := status[len(status)-1]
	if string(last.payload) != offlinePayload || !last.retained {
		t.Errorf("last retained status = %s (retained=%v), want %s", last.payload, last.retained, offlinePayload)
	}
}

func TestPublisher_DisconnectWithoutConnect(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(t, Config{BrokerURL: "tcp://broker:1883"}, client)

	p.Disconnect()

	if n := len(client.recorded()); n != 0 {
		t.Errorf("expected nothing published, got %d messages", n)
	}
}

func TestPublisher_ConnectFailure(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("connection refused")}
	p := newTestPublisher(t, Config{BrokerURL: "tcp://broker:1883"}, client)

	err := p.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("expected ErrConnectionFailed, got %v", err)
	}
	if !errors.Is(p.HealthCheck(context.Background()), ErrNotConnected) {
		t.Error("expected health check to report not connected")
	}
}

func TestPublisher_QueueDropsOldest(t *testing.T) {
	p := newTestPublisher(t, Config{BrokerURL: "tcp://broker:1883", BufferSize: 2}, &fakeClient{})

	p.SessionEvent(domain.SessionEvent{Kind: domain.EventWrite, Access: "M0.0"})
	p.SessionEvent(domain.SessionEvent{Kind: domain.EventWrite, Access: "M0.1"})
	p.SessionEvent(domain.SessionEvent{Kind: domain.EventWrite, Access: "M0.2"})

	if p.QueueLength() != 2 {
		t.Fatalf("expected 2 queued events, got %d", p.QueueLength())
	}
	if got := p.Stats().MessagesDropped.Load(); got != 1 {
		t.Errorf("expected 1 dropped event, got %d", got)
	}

	var ev domain.SessionEvent
	if err := json.Unmarshal((<-p.queue).Payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Access != "M0.1" {
		t.Errorf("expected oldest event to be dropped, head is %q", ev.Access)
	}
}

func TestPublisher_PublishesTagValues(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(t, Config{BrokerURL: "tcp://broker:1883", TopicPrefix: "line1"}, client)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer p.Disconnect()

	p.PublishTagValues([]domain.TagValue{
		{Name: "tank level", Address: "DB1.DBD0", Value: float32(12.5), Timestamp: time.Now()},
		{Name: "pump/run", Address: "M0.1", Value: true, Timestamp: time.Now()},
	})

	msgs := client.waitFor(t, 2)

	wantTopics := []string{"line1/tags/tank_level", "line1/tags/pump_run"}
	for i, want := range wantTopics {
		if msgs[i].topic != want {
			t.Errorf("message %d topic = %q, want %q", i, msgs[i].topic, want)
		}
		if !msgs[i].retained {
			t.Errorf("message %d should be retained", i)
		}
	}

	var v map[string]interface{}
	if err := json.Unmarshal(msgs[1].payload, &v); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if v["address"] != "M0.1" || v["value"] != true {
		t.Errorf("unexpected tag payload %s", msgs[1].payload)
	}
}

func TestTagTopic(t *testing.T) {
	p, err := NewPublisher(Config{BrokerURL: "tcp://broker:1883"}, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	tests := map[string]string{
		"tank_level": "plcbridge/tags/tank_level",
		" a/b+c#d ":  "plcbridge/tags/a_b_c_d",
		"__":         "plcbridge/tags",
	}
	for name, want := range tests {
		if got := p.TagTopic(name); got != want {
			t.Errorf("TagTopic(%q) = %q, want %q", name, got, want)
		}
	}
}

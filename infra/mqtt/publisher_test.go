package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/fieldops/rove/infra/logger"
	"github.com/fieldops/rove/internal/eventbus"
)

type published struct {
	topic   string
	payload []byte
}

type mockClient struct {
	mu           sync.Mutex
	published    []published
	disconnected bool
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	return &mockToken{}
}
func (m *mockClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{topic: topic, payload: payload.([]byte)})
	return &mockToken{}
}

func (m *mockClient) messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]published, len(m.published))
	copy(out, m.published)
	return out
}

type mockToken struct{}

func (t *mockToken) Wait() bool                       { return true }
func (t *mockToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *mockToken) Error() error                     { return nil }
func (t *mockToken) Done() <-chan struct{}            { return make(chan struct{}) }

func newTestPublisher(bus *eventbus.Bus) (*StatusPublisher, *mockClient) {
	mc := &mockClient{}
	return &StatusPublisher{
		cli:    mc,
		bus:    bus,
		prefix: "rove",
		qos:    1,
		logger: logger.New("mqtt_test"),
	}, mc
}

func TestStatusPublisher_RoutesEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	pub, mc := newTestPublisher(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pub.Run(ctx)
	}()

	// give Run a moment to subscribe before publishing
	time.Sleep(20 * time.Millisecond)
	bus.Publish(eventbus.VisitEvent{WorkerID: 2, Found: true, Seen: 3})
	bus.Publish(eventbus.SwapEvent{WorkerID: 2, Reason: "stale", Old: "a", New: "b"})
	bus.Publish(eventbus.PauseEvent{Paused: true, QueueSize: 6})
	bus.Publish(eventbus.BootstrapEvent{Phase: 1, State: "start", Tasks: 4})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mc.messages()) == 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	msgs := mc.messages()
	if len(msgs) != 4 {
		t.Fatalf("published %d messages, want 4", len(msgs))
	}
	wantTopics := []string{"rove/visits", "rove/swaps", "rove/pauses", "rove/bootstrap"}
	for i, want := range wantTopics {
		if msgs[i].topic != want {
			t.Errorf("message %d topic = %s, want %s", i, msgs[i].topic, want)
		}
	}
	var ev eventbus.VisitEvent
	if err := json.Unmarshal(msgs[0].payload, &ev); err != nil {
		t.Fatalf("decode visit payload: %v", err)
	}
	if ev.WorkerID != 2 || !ev.Found || ev.Seen != 3 {
		t.Errorf("unexpected visit payload: %+v", ev)
	}
}

func TestStatusPublisher_IgnoresUnknownEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	pub, mc := newTestPublisher(bus)

	pub.publish(struct{ X int }{X: 1})
	if len(mc.messages()) != 0 {
		t.Fatalf("unknown event should not be published")
	}
}

func TestStatusPublisher_Disconnect(t *testing.T) {
	pub, mc := newTestPublisher(nil)
	pub.Disconnect()
	if !mc.disconnected {
		t.Errorf("expected Disconnect() to be called")
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if !strings.HasPrefix(cfg.ClientID, "rove-") {
		t.Errorf("client id = %s, want rove- prefix", cfg.ClientID)
	}
	if cfg.TopicPrefix != "rove" {
		t.Errorf("topic prefix = %s, want rove", cfg.TopicPrefix)
	}
}

func TestLoadTLSConfig_RequiresPaths(t *testing.T) {
	cfg := Config{UseTLS: true}
	if _, err := cfg.LoadTLSConfig(); err == nil {
		t.Fatalf("expected error without cert paths")
	}
}

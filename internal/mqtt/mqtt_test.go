package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/treed/hairmqtt/internal/buildinfo"
	"github.com/treed/hairmqtt/internal/config"
)

// recorder captures publishes in place of the connection manager.
type recorder struct {
	mu   sync.Mutex
	got  []*paho.Publish
	fail error
}

func (r *recorder) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p)
	return &paho.PublishResponse{}, r.fail
}

type observation struct {
	kind string
	err  error
}

type observer struct{ seen []observation }

func (o *observer) ObservePublish(kind string, err error) {
	o.seen = append(o.seen, observation{kind, err})
}

func testClient(t *testing.T) (*Client, *recorder, *observer) {
	t.Helper()
	c, err := New(config.MQTTConfig{Host: "broker", Port: 1884, Scheme: "ws"}, "hairmqtt-test", slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := &recorder{}
	obs := &observer{}
	c.pub = rec
	c.SetObserver(obs)
	return c, rec, obs
}

func TestLoadOrCreateInstanceID_CreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if id == "" {
		t.Fatal("LoadOrCreateInstanceID() returned empty string")
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}
	if parts := strings.Split(id, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", id)
	}
}

func TestLoadOrCreateInstanceID_ReturnsExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0190a5b2-7c3e-7def-8abc-123456789abc", "hairmqtt-0190a5b2"},
		{"abc", "hairmqtt-abc"},
		{"", "hairmqtt"},
	}
	for _, tt := range tests {
		if got := ClientID(tt.in); got != tt.want {
			t.Errorf("ClientID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("instance-123")
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "hairmqtt" {
		t.Errorf("Identifiers = %v, want [hairmqtt]", info.Identifiers)
	}
	if info.Name != "Iracing Telemetry" {
		t.Errorf("Name = %q", info.Name)
	}
	if info.Manufacturer != "Tim Reed" {
		t.Errorf("Manufacturer = %q", info.Manufacturer)
	}
	if info.SWVersion != buildinfo.Version {
		t.Errorf("SWVersion = %q, want %q", info.SWVersion, buildinfo.Version)
	}
	if info.SerialNumber != "instance-123" {
		t.Errorf("SerialNumber = %q", info.SerialNumber)
	}
}

func TestEntityConfig_OmitsUnusedFields(t *testing.T) {
	data, err := json.Marshal(EntityConfig{
		Name:       "Lap",
		ObjectID:   "Lap",
		UniqueID:   "hairmqtt-Lap",
		StateTopic: TopicTelemetry,
		Device:     NewDeviceInfo(""),
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)
	for _, key := range []string{"payload_on", "expire_after", "device_class", "serial_number"} {
		if strings.Contains(s, key) {
			t.Errorf("payload %s contains %q", s, key)
		}
	}
	if !strings.Contains(s, `"identifiers":["hairmqtt"]`) {
		t.Errorf("payload %s missing device identifiers", s)
	}
}

func TestClient_PublishQoSAndRetain(t *testing.T) {
	c, rec, obs := testClient(t)
	ctx := context.Background()

	c.PublishValue(ctx, TopicTelemetry, map[string]any{"Lap": 3})
	c.PublishRaw(ctx, TopicConnected, []byte(PayloadConnected))
	c.PublishDiscovery(ctx, "homeassistant/sensor/hairmqtt-Lap/config", []byte(`{}`))
	c.Retract(ctx, "homeassistant/sensor/hairmqtt-Lap/config")

	if len(rec.got) != 4 {
		t.Fatalf("published %d messages, want 4", len(rec.got))
	}

	tests := []struct {
		topic   string
		payload string
		qos     byte
		retain  bool
	}{
		{TopicTelemetry, `{"Lap":3}`, 0, false},
		{TopicConnected, "connected", 0, false},
		{"homeassistant/sensor/hairmqtt-Lap/config", `{}`, 1, false},
		{"homeassistant/sensor/hairmqtt-Lap/config", "", 1, true},
	}
	for i, tt := range tests {
		p := rec.got[i]
		if p.Topic != tt.topic || string(p.Payload) != tt.payload || p.QoS != tt.qos || p.Retain != tt.retain {
			t.Errorf("publish %d = {%s %q qos=%d retain=%v}, want {%s %q qos=%d retain=%v}",
				i, p.Topic, p.Payload, p.QoS, p.Retain, tt.topic, tt.payload, tt.qos, tt.retain)
		}
	}

	wantKinds := []string{KindValue, KindValue, KindDiscovery, KindRetract}
	for i, k := range wantKinds {
		if obs.seen[i].kind != k || obs.seen[i].err != nil {
			t.Errorf("observation %d = %+v, want kind %s with nil error", i, obs.seen[i], k)
		}
	}
}

func TestClient_PublishValue_Unserializable(t *testing.T) {
	c, rec, obs := testClient(t)

	c.PublishValue(context.Background(), TopicTelemetry, map[string]any{"AirTemp": math.NaN()})

	if len(rec.got) != 0 {
		t.Errorf("published %d messages, want 0", len(rec.got))
	}
	if len(obs.seen) != 1 || obs.seen[0].err == nil {
		t.Errorf("observations = %+v, want one failure", obs.seen)
	}
}

func TestClient_PublishFailureIsObservedNotReturned(t *testing.T) {
	c, rec, obs := testClient(t)
	rec.fail = errors.New("connection down")

	c.PublishDiscovery(context.Background(), "homeassistant/sensor/x/config", []byte(`{}`))

	if len(obs.seen) != 1 || !errors.Is(obs.seen[0].err, rec.fail) {
		t.Errorf("observations = %+v, want the publish error", obs.seen)
	}
}

func TestClient_RetractReturnsPublishError(t *testing.T) {
	c, rec, _ := testClient(t)
	topic := "homeassistant/sensor/hairmqtt-Lap/config"

	if err := c.Retract(context.Background(), topic); err != nil {
		t.Errorf("Retract() = %v, want nil", err)
	}

	rec.fail = errors.New("pubrec timeout")
	if err := c.Retract(context.Background(), topic); !errors.Is(err, rec.fail) {
		t.Errorf("Retract() = %v, want the publish error", err)
	}
}

func TestClient_NotStarted(t *testing.T) {
	c, err := New(config.MQTTConfig{Host: "broker", Port: 1883, Scheme: "mqtt"}, "id", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	obs := &observer{}
	c.SetObserver(obs)

	if err := c.AwaitConnection(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("AwaitConnection() = %v, want ErrNotStarted", err)
	}
	c.PublishRaw(context.Background(), TopicSession, []byte("{}"))
	if len(obs.seen) != 1 || !errors.Is(obs.seen[0].err, ErrNotStarted) {
		t.Errorf("observations = %+v, want ErrNotStarted", obs.seen)
	}
	if err := c.Retract(context.Background(), "homeassistant/sensor/x/config"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Retract() = %v, want ErrNotStarted", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}

func TestClient_KeepDrainsErrors(t *testing.T) {
	c, _, _ := testClient(t)
	c.report(errors.New("refused"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Keep(ctx) }()

	// Keep is now parked in its backoff pause; cancellation must end it.
	deadline := time.Now().Add(time.Second)
	for len(c.errs) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(c.errs) != 0 {
		t.Fatal("Keep did not drain the error")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Keep() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Keep did not return after cancel")
	}
}

func TestClient_ReportDropsWhenFull(t *testing.T) {
	c, _, _ := testClient(t)
	for i := 0; i < cap(c.errs)+5; i++ {
		c.report(errors.New("refused"))
	}
	if len(c.errs) != cap(c.errs) {
		t.Errorf("len(errs) = %d, want %d", len(c.errs), cap(c.errs))
	}
}

package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/treed/hairmqtt/internal/connwatch"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Event("data")
	m.Event("data")
	m.Event("session")
	if got := testutil.ToFloat64(m.events.WithLabelValues("data")); got != 2 {
		t.Fatalf("data events = %v, want 2", got)
	}

	m.ObservePublish("value", nil)
	m.ObservePublish("discovery", errors.New("down"))
	if got := testutil.ToFloat64(m.publishes.WithLabelValues("discovery", "error")); got != 1 {
		t.Fatalf("failed discovery publishes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.publishes.WithLabelValues("value", "ok")); got != 1 {
		t.Fatalf("ok value publishes = %v, want 1", got)
	}

	m.Emission(nil)
	m.Emission(errors.New("encode"))
	if got := testutil.CollectAndCount(m.emissions); got != 2 {
		t.Fatalf("emission series = %d, want 2", got)
	}

	m.ValueDropped()
	m.Throttled()
	m.Throttled()
	if got := testutil.ToFloat64(m.dropped); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.throttled); got != 2 {
		t.Fatalf("throttled = %v, want 2", got)
	}

	m.SetState(2)
	if got := testutil.ToFloat64(m.state); got != 2 {
		t.Fatalf("state = %v, want 2", got)
	}

	if n, err := testutil.GatherAndCount(reg, "hairmqtt_build_info"); err != nil || n != 1 {
		t.Fatalf("build_info series = %d (err %v), want 1", n, err)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Event("data")
	m.ObservePublish("value", nil)
	m.Emission(nil)
	m.ValueDropped()
	m.Throttled()
	m.SetState(1)
}

type fakeLinks struct {
	status map[string]connwatch.LinkStatus
	ready  bool
}

func (f fakeLinks) Status() map[string]connwatch.LinkStatus { return f.status }
func (f fakeLinks) Ready() bool                             { return f.ready }

func TestServer_Healthz(t *testing.T) {
	tests := []struct {
		name       string
		links      LinkStatus
		wantCode   int
		wantStatus string
	}{
		{"no links", nil, http.StatusOK, "ok"},
		{"all up", fakeLinks{
			status: map[string]connwatch.LinkStatus{"mqtt": {Name: "mqtt", Ready: true}},
			ready:  true,
		}, http.StatusOK, "ok"},
		{"relay down", fakeLinks{
			status: map[string]connwatch.LinkStatus{"telemetry": {Name: "telemetry", LastError: "refused"}},
		}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(":0", prometheus.NewRegistry(), tt.links, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var h Health
			if err := json.NewDecoder(rec.Body).Decode(&h); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if h.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", h.Status, tt.wantStatus)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).Event("catalog")

	srv := NewServer(":0", reg, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `hairmqtt_telemetry_events_total{kind="catalog"} 1`) {
		t.Errorf("metrics body missing catalog counter:\n%s", body)
	}
}

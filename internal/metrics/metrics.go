// Package metrics exposes bridge counters to Prometheus and serves
// them, together with link health, over HTTP.
//
// Every method on a nil *Metrics is a no-op, so components can hold an
// optional *Metrics without guarding each call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/treed/hairmqtt/internal/buildinfo"
)

// Metrics holds the bridge's collectors.
type Metrics struct {
	events    *prometheus.CounterVec
	publishes *prometheus.CounterVec
	emissions *prometheus.CounterVec
	dropped   prometheus.Counter
	throttled prometheus.Counter
	state     prometheus.Gauge
}

// New creates the collectors and registers them with reg, along with
// a constant build_info gauge.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hairmqtt_telemetry_events_total",
			Help: "Telemetry events received, by kind.",
		}, []string{"kind"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hairmqtt_mqtt_publishes_total",
			Help: "MQTT publish attempts, by kind and result.",
		}, []string{"kind", "result"}),
		emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hairmqtt_discovery_emissions_total",
			Help: "Discovery configs produced, by result.",
		}, []string{"result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hairmqtt_values_dropped_total",
			Help: "Telemetry values left out of a payload because they could not be encoded.",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hairmqtt_ticks_throttled_total",
			Help: "Telemetry ticks skipped by the publish rate limit.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hairmqtt_discovery_state",
			Help: "Discovery state: 0 disconnected, 1 catalog known, 2 announced.",
		}),
	}

	info := buildinfo.Info()
	build := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hairmqtt_build_info",
		Help: "Build metadata; the value is always 1.",
		ConstLabels: prometheus.Labels{
			"version":    info["version"],
			"git_commit": info["git_commit"],
			"go_version": info["go_version"],
		},
	})
	build.Set(1)

	reg.MustRegister(m.events, m.publishes, m.emissions, m.dropped, m.throttled, m.state, build)
	return m
}

// Event counts one telemetry event.
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// ObservePublish counts one publish attempt. It satisfies the MQTT
// client's publish observer.
func (m *Metrics) ObservePublish(kind string, err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(kind, result(err)).Inc()
}

// Emission counts one discovery config.
func (m *Metrics) Emission(err error) {
	if m == nil {
		return
	}
	m.emissions.WithLabelValues(result(err)).Inc()
}

// ValueDropped counts one value omitted from a telemetry payload.
func (m *Metrics) ValueDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// Throttled counts one skipped telemetry tick.
func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

// SetState records the discovery state as its ordinal.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

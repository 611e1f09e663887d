// Package bridge runs the event loop that turns the telemetry stream
// into MQTT traffic. Events are handled one at a time in arrival
// order; discovery state lives in a [discovery.Pipeline] that only
// this loop touches.
package bridge

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/treed/hairmqtt/internal/config"
	"github.com/treed/hairmqtt/internal/discovery"
	"github.com/treed/hairmqtt/internal/metrics"
	"github.com/treed/hairmqtt/internal/mqtt"
	"github.com/treed/hairmqtt/internal/session"
	"github.com/treed/hairmqtt/internal/telemetry"
	"github.com/treed/hairmqtt/internal/values"
)

// Publisher is the broker side of the bridge. Implementations log
// their own failures; nothing is returned.
type Publisher interface {
	PublishValue(ctx context.Context, topic string, v any)
	PublishRaw(ctx context.Context, topic string, payload []byte)
	PublishDiscovery(ctx context.Context, topic string, payload []byte)
}

// Ledger remembers announced config topics for later retraction.
type Ledger interface {
	Record(topic, uniqueID string) error
}

var _ Publisher = (*mqtt.Client)(nil)

// Config holds the bridge settings.
type Config struct {
	DiscoveryPrefix string
	Device          mqtt.DeviceInfo
	Topics          discovery.Topics

	// RateHz caps value publishes per second. Zero publishes every tick.
	RateHz float64
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithLedger records every announced config topic in l.
func WithLedger(l Ledger) Option {
	return func(b *Bridge) { b.ledger = l }
}

// WithMetrics counts events and emissions in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge connects a telemetry stream to a publisher.
type Bridge struct {
	pub     Publisher
	cfg     Config
	ledger  Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a bridge. Zero-value topics take the defaults.
func New(pub Publisher, cfg Config, logger *slog.Logger, opts ...Option) *Bridge {
	if cfg.Topics == (discovery.Topics{}) {
		cfg.Topics = discovery.DefaultTopics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		pub:    pub,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// run is the state of one Run call.
type run struct {
	*Bridge
	pipeline *discovery.Pipeline
	limiter  *rate.Limiter
}

// Run consumes events until ctx is cancelled or events is closed. Each
// call starts from a fresh discovery pipeline, so a restarted loop
// announces everything again.
func (b *Bridge) Run(ctx context.Context, events <-chan telemetry.Event) error {
	r := &run{
		Bridge:   b,
		pipeline: discovery.NewPipeline(b.cfg.DiscoveryPrefix, b.cfg.Device, discovery.WithTopics(b.cfg.Topics)),
	}
	if b.cfg.RateHz > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(b.cfg.RateHz), 1)
	}

	b.logger.Info("bridge started",
		"discovery_prefix", b.cfg.DiscoveryPrefix,
		"rate_hz", b.cfg.RateHz,
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				b.logger.Info("telemetry stream closed")
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *run) handle(ctx context.Context, ev telemetry.Event) {
	r.metrics.Event(ev.Kind())

	switch ev := ev.(type) {
	case telemetry.DataEvent:
		r.onData(ctx, ev)
	case telemetry.SessionEvent:
		r.onSession(ctx, ev)
	case telemetry.CatalogEvent:
		r.logger.Debug("variable catalog received", "vars", len(ev.Vars))
		r.publishEmissions(ctx, r.pipeline.OnCatalog(ev.Vars))
	case telemetry.LinkLostEvent:
		r.pipeline.OnLinkLost()
		r.pub.PublishRaw(ctx, r.cfg.Topics.Connected, []byte(mqtt.PayloadDisconnected))
		r.logger.Info("simulator disconnected, discovery reset")
	default:
		r.logger.Info("ignoring unsupported telemetry event", "kind", ev.Kind())
	}

	r.metrics.SetState(int(r.pipeline.State()))
}

func (r *run) onData(ctx context.Context, ev telemetry.DataEvent) {
	if r.limiter != nil && !r.limiter.Allow() {
		r.metrics.Throttled()
		return
	}

	r.pub.PublishRaw(ctx, r.cfg.Topics.Connected, []byte(mqtt.PayloadConnected))

	payload := values.FlattenFunc(ev.Values, r.pipeline.Catalog(), func(field string, err error) {
		r.metrics.ValueDropped()
		r.logger.Warn("telemetry value not serializable",
			"topic", r.cfg.Topics.Telemetry,
			"field", field,
			"error", err,
		)
	})
	r.pub.PublishValue(ctx, r.cfg.Topics.Telemetry, payload)
}

func (r *run) onSession(ctx context.Context, ev telemetry.SessionEvent) {
	s, err := session.Parse(ev.YAML)
	if err != nil {
		r.logger.Warn("session document rejected", "error", err)
		return
	}

	if ems := r.pipeline.OnSession(s); ems != nil {
		r.publishEmissions(ctx, ems)
		r.logger.Info("session discovery announced",
			"track", s.WeekendInfo.TrackName,
			"driver_car_idx", s.DriverInfo.DriverCarIdx,
		)
	}

	snap, err := values.SessionSnapshot(s)
	if err != nil {
		r.logger.Error("session snapshot failed", "topic", r.cfg.Topics.Session, "error", err)
		return
	}
	r.pub.PublishValue(ctx, r.cfg.Topics.Session, snap)
}

func (r *run) publishEmissions(ctx context.Context, ems []discovery.Emission) {
	for _, em := range ems {
		r.metrics.Emission(em.Err)
		if em.Err != nil {
			r.logger.Error("discovery config not serializable", "topic", em.Topic, "error", em.Err)
			continue
		}
		if em.Descriptor.ValueTemplate() == "" && em.Descriptor.StateTopic() == r.cfg.Topics.Session {
			r.logger.Debug("no session path for entity, announcing without template",
				"entity", em.Descriptor.ObjectID(),
			)
		}

		r.pub.PublishDiscovery(ctx, em.Topic, em.Payload)
		r.logger.Log(ctx, config.LevelTrace, "discovery config", "topic", em.Topic, "payload", string(em.Payload))

		if r.ledger != nil {
			if err := r.ledger.Record(em.Topic, em.Descriptor.UniqueID()); err != nil {
				r.logger.Warn("discovery ledger write failed", "topic", em.Topic, "error", err)
			}
		}
	}
}

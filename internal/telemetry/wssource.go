package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/treed/hairmqtt/internal/connwatch"
)

// ErrNotConnected is returned by [WSSource.Probe] while no relay
// connection is open.
var ErrNotConnected = errors.New("telemetry relay not connected")

// envelope is the wire format of one relay message.
type envelope struct {
	Type    string      `json:"type"`
	Values  Snapshot    `json:"values,omitempty"`
	Session string      `json:"session,omitempty"`
	Vars    []VarHeader `json:"vars,omitempty"`
}

// WSSource reads telemetry events from a relay process over WebSocket.
// The relay runs next to the simulator and forwards its shared-memory
// feed as JSON envelopes, one per message.
//
// When the socket drops, WSSource emits a [LinkLostEvent] and redials
// with exponential backoff until its context is cancelled.
type WSSource struct {
	url     string
	backoff connwatch.BackoffConfig
	dialer  *websocket.Dialer
	logger  *slog.Logger

	connected atomic.Bool
}

// NewWSSource creates a source for the relay at url (ws:// or wss://).
// Zero-value backoff fields take connwatch defaults.
func NewWSSource(url string, backoff connwatch.BackoffConfig, logger *slog.Logger) *WSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSource{
		url:     url,
		backoff: backoff.WithDefaults(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
		},
		logger: logger,
	}
}

// Connected reports whether a relay connection is currently open.
func (s *WSSource) Connected() bool {
	return s.connected.Load()
}

// Probe satisfies [connwatch.ProbeFunc].
func (s *WSSource) Probe(_ context.Context) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// Run dials the relay and forwards events to out until ctx is
// cancelled. It returns nil on cancellation; it never gives up on its
// own.
func (s *WSSource) Run(ctx context.Context, out chan<- Event) error {
	delay := s.backoff.InitialDelay
	for {
		wasUp, err := s.stream(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if wasUp {
			delay = s.backoff.InitialDelay
		}
		s.logger.Warn("telemetry relay unavailable",
			"url", s.url,
			"retry_in", delay.String(),
			"error", err,
		)
		if !connwatch.Sleep(ctx, delay) {
			return nil
		}
		delay = s.backoff.Next(delay)
	}
}

// stream holds one connection open and forwards its events. The
// boolean result reports whether the dial succeeded.
func (s *WSSource) stream(ctx context.Context, out chan<- Event) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial telemetry relay: %w", err)
	}
	defer conn.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)
	s.logger.Info("telemetry relay connected", "url", s.url)

	// Unblock ReadJSON when the caller goes away.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			send(ctx, out, LinkLostEvent{})
			return true, fmt.Errorf("read telemetry relay: %w", err)
		}
		if !send(ctx, out, decode(env)) {
			return true, ctx.Err()
		}
	}
}

func decode(env envelope) Event {
	switch env.Type {
	case "data":
		values := env.Values
		if values == nil {
			values = Snapshot{}
		}
		return DataEvent{Values: Normalize(values)}
	case "session":
		return SessionEvent{YAML: env.Session}
	case "catalog":
		vars := make(map[string]VarHeader, len(env.Vars))
		for _, v := range env.Vars {
			vars[v.Name] = v
		}
		return CatalogEvent{Vars: vars}
	case "disconnected":
		return LinkLostEvent{}
	default:
		return UnknownEvent{Type: env.Type}
	}
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Package connwatch tracks the health of the bridge's two external
// links, the telemetry relay and the MQTT broker, and supplies the
// backoff schedule used when redialing them.
//
// Each Watcher probes one link in two phases:
//  1. Startup: exponential backoff (1s, 2s, 4s, ... capped at 30s)
//  2. Steady state: periodic polling with up/down transition callbacks
//
// Watchers only observe. Redialing is owned by the link itself
// (autopaho for the broker, the WebSocket source for the relay); the
// watcher's view feeds logs and the /healthz endpoint.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a link is up. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls retry timing.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default: 1s).
	InitialDelay time.Duration

	// MaxDelay caps backoff growth (default: 30s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries bounds the startup probe attempts (default: 8).
	MaxRetries int

	// PollInterval is the steady-state check interval (default: 15s).
	PollInterval time.Duration

	// ProbeTimeout limits each probe call (default: 5s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns 1s, 2s, 4s, ... 30s (capped), eight
// startup attempts, and 15-second polling. A race session drops and
// reloads within seconds, so the schedule is tighter than a typical
// service watchdog.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   8,
		PollInterval: 15 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// WithDefaults returns a copy of c with zero-value fields replaced by
// [DefaultBackoffConfig] values.
func (c BackoffConfig) WithDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// Next returns the delay that follows d, capped at MaxDelay.
func (c BackoffConfig) Next(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * c.Multiplier)
	if next > c.MaxDelay {
		next = c.MaxDelay
	}
	return next
}

// WatcherConfig configures a single link watcher.
type WatcherConfig struct {
	// Name identifies the link in logs and status ("mqtt", "telemetry").
	Name string

	// Probe checks link health. Must be safe for concurrent use.
	Probe ProbeFunc

	// Backoff controls retry timing. Zero fields take defaults.
	Backoff BackoffConfig

	// OnReady runs in its own goroutine when the link comes up. Optional.
	OnReady func()

	// OnDown runs in its own goroutine when the link goes down. Optional.
	OnDown func(err error)

	// Logger defaults to the manager's logger.
	Logger *slog.Logger
}

// LinkStatus is the JSON form of a watcher's state.
type LinkStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one link.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the link was up at the last probe.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error, or nil if healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current link status.
func (w *Watcher) Status() LinkStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := LinkStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config.Backoff
	logger := w.config.Logger

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		if err == nil {
			w.transition(nil)
			logger.Info("link up", "link", w.config.Name, "after_attempts", attempt)
			break
		}
		w.record(err)

		if attempt == cfg.MaxRetries {
			logger.Info("link still down after startup retries, polling",
				"link", w.config.Name,
				"attempts", attempt,
				"error", err,
			)
			break
		}

		logger.Debug("link probe failed, retrying",
			"link", w.config.Name,
			"attempt", attempt,
			"next_delay", delay.String(),
			"error", err,
		)
		if !Sleep(ctx, delay) {
			return
		}
		delay = cfg.Next(delay)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			if ctx.Err() != nil {
				return
			}
			w.transition(err)
		}
	}
}

// transition records err and fires callbacks on up/down edges.
func (w *Watcher) transition(err error) {
	w.record(err)
	wasReady := w.ready.Load()
	logger := w.config.Logger

	switch {
	case wasReady && err != nil:
		w.ready.Store(false)
		logger.Info("link down", "link", w.config.Name, "error", err)
		if w.config.OnDown != nil {
			go w.config.OnDown(err)
		}
	case !wasReady && err == nil:
		w.ready.Store(true)
		logger.Info("link ready", "link", w.config.Name)
		if w.config.OnReady != nil {
			go w.config.OnReady()
		}
	case !wasReady && err != nil:
		logger.Debug("link still down", "link", w.config.Name, "error", err)
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()
	return w.config.Probe(probeCtx)
}

func (w *Watcher) record(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}

// Sleep waits for d or until ctx is cancelled. It returns false if
// ctx was cancelled first.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher that runs until ctx is cancelled or Stop is
// called. Panics if Name is empty or Probe is nil.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.WithDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()

	return w
}

// Status returns every watcher's status keyed by name.
func (m *Manager) Status() map[string]LinkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]LinkStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Ready reports whether every watched link is up.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.watchers {
		if !w.IsReady() {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}

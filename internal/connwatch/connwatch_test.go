package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// fastBackoff keeps every wait in the low milliseconds.
func fastBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   4,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 50 * time.Millisecond,
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBackoffConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	got := BackoffConfig{MaxRetries: 3}.WithDefaults()
	want := DefaultBackoffConfig()
	want.MaxRetries = 3

	if got != want {
		t.Errorf("WithDefaults() = %+v, want %+v", got, want)
	}
}

func TestBackoffConfig_Next(t *testing.T) {
	t.Parallel()
	cfg := DefaultBackoffConfig()

	tests := []struct {
		in, want time.Duration
	}{
		{1 * time.Second, 2 * time.Second},
		{8 * time.Second, 16 * time.Second},
		{16 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Next(tt.in); got != tt.want {
			t.Errorf("Next(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()
	if !Sleep(context.Background(), time.Millisecond) {
		t.Error("Sleep() = false with live context")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) {
		t.Error("Sleep() = true with cancelled context")
	}
}

func TestWatcher_UpOnFirstProbe(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ready atomic.Int32
	m := NewManager(slog.Default())
	w := m.Watch(ctx, WatcherConfig{
		Name:    "telemetry",
		Probe:   func(context.Context) error { return nil },
		Backoff: fastBackoff(),
		OnReady: func() { ready.Add(1) },
	})

	eventually(t, w.IsReady, "watcher never became ready")
	eventually(t, func() bool { return ready.Load() == 1 }, "OnReady not called once")
	if w.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", w.LastError())
	}
}

func TestWatcher_DownThenUp(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var up atomic.Bool
	var downs atomic.Int32
	errRelay := errors.New("relay closed")

	m := NewManager(slog.Default())
	w := m.Watch(ctx, WatcherConfig{
		Name: "telemetry",
		Probe: func(context.Context) error {
			if up.Load() {
				return nil
			}
			return errRelay
		},
		Backoff: fastBackoff(),
		OnDown:  func(error) { downs.Add(1) },
	})

	eventually(t, func() bool { return errors.Is(w.LastError(), errRelay) }, "probe error not recorded")
	if w.IsReady() {
		t.Fatal("IsReady() = true while probe fails")
	}

	up.Store(true)
	eventually(t, w.IsReady, "watcher did not recover")

	up.Store(false)
	eventually(t, func() bool { return !w.IsReady() }, "watcher did not notice link loss")
	eventually(t, func() bool { return downs.Load() == 1 }, "OnDown not called once")
}

func TestWatcher_Stop(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	w := m.Watch(context.Background(), WatcherConfig{
		Name:    "mqtt",
		Probe:   func(context.Context) error { return errors.New("down") },
		Backoff: fastBackoff(),
	})

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestManager_StatusAndReady(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(slog.Default())
	defer m.Stop()

	m.Watch(ctx, WatcherConfig{
		Name:    "mqtt",
		Probe:   func(context.Context) error { return nil },
		Backoff: fastBackoff(),
	})
	m.Watch(ctx, WatcherConfig{
		Name:    "telemetry",
		Probe:   func(context.Context) error { return errors.New("relay closed") },
		Backoff: fastBackoff(),
	})

	eventually(t, func() bool {
		s := m.Status()
		return s["mqtt"].Ready && s["telemetry"].LastError == "relay closed"
	}, "statuses never settled")

	if m.Ready() {
		t.Error("Ready() = true with telemetry down")
	}
	if got := len(m.Status()); got != 2 {
		t.Errorf("len(Status()) = %d, want 2", got)
	}
}

func TestManager_WatchPanicsOnBadConfig(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	tests := []struct {
		name string
		cfg  WatcherConfig
	}{
		{"empty name", WatcherConfig{Probe: func(context.Context) error { return nil }}},
		{"nil probe", WatcherConfig{Name: "mqtt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Watch() did not panic")
				}
			}()
			m.Watch(context.Background(), tt.cfg)
		})
	}
}

package opstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger_test.db")
	l, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestEntriesEmpty(t *testing.T) {
	l := testLedger(t)

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if entries == nil {
		t.Fatal("Entries() returned nil, want empty slice")
	}
	if len(entries) != 0 {
		t.Errorf("Entries() = %d entries, want 0", len(entries))
	}
}

func TestRecordAndEntries(t *testing.T) {
	l := testLedger(t)

	topics := []string{
		"homeassistant/sensor/hairmqtt-Lap/config",
		"homeassistant/binary_sensor/hairmqtt-connection/config",
	}
	for _, topic := range topics {
		if err := l.Record(topic, "id-"+topic); err != nil {
			t.Fatalf("Record(%q) error: %v", topic, err)
		}
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Entries() = %d entries, want 2", len(entries))
	}
	// Ordered by topic.
	if entries[0].Topic != topics[1] || entries[1].Topic != topics[0] {
		t.Errorf("order = [%s %s], want sorted", entries[0].Topic, entries[1].Topic)
	}
	if entries[0].Announcements != 1 {
		t.Errorf("Announcements = %d, want 1", entries[0].Announcements)
	}
}

func TestRecordRepeatBumpsCount(t *testing.T) {
	l := testLedger(t)

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	const topic = "homeassistant/sensor/hairmqtt-AirTemp/config"
	if err := l.Record(topic, "hairmqtt-AirTemp"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	clock = clock.Add(time.Hour)
	if err := l.Record(topic, "hairmqtt-AirTemp"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Entries() = %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Announcements != 2 {
		t.Errorf("Announcements = %d, want 2", e.Announcements)
	}
	if !e.FirstSeen.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("FirstSeen = %v", e.FirstSeen)
	}
	if !e.LastSeen.Equal(clock) {
		t.Errorf("LastSeen = %v, want %v", e.LastSeen, clock)
	}
}

func TestForget(t *testing.T) {
	l := testLedger(t)

	if err := l.Record("a/config", "a"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := l.Forget("a/config"); err != nil {
		t.Fatalf("Forget() error: %v", err)
	}
	if err := l.Forget("never/config"); err != nil {
		t.Errorf("Forget() on missing topic error: %v", err)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Entries() = %d entries after Forget, want 0", len(entries))
	}
}

func TestLedger_PersistAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	l1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := l1.Record("homeassistant/sensor/hairmqtt-Lap/config", "hairmqtt-Lap"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	l1.Close()

	l2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer l2.Close()

	entries, err := l2.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 1 || entries[0].UniqueID != "hairmqtt-Lap" {
		t.Errorf("Entries() after reopen = %+v", entries)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	// A path under a regular file cannot be created.
	_, err := Open(filepath.Join(blocker, "ledger.db"))
	if err == nil {
		t.Fatal("Open() under a regular file should fail")
	}
}

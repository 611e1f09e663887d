package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// instanceFile is the name of the instance ID file inside the data dir.
const instanceFile = "instance_id"

// LoadOrCreateInstanceID reads the instance ID from dataDir, or
// generates a UUIDv7 and persists it when none exists yet. The ID
// seeds the MQTT client ID and the device serial number, so it must
// not change between runs on the same machine.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}

	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return id.String(), nil
}

// ClientID derives the MQTT client identifier from an instance ID.
// Brokers cap client IDs at 23 bytes in older protocol versions, so
// only the first eight characters of the ID are used.
func ClientID(instanceID string) string {
	short := strings.ReplaceAll(instanceID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		return "hairmqtt"
	}
	return "hairmqtt-" + short
}

package mqtt

import "github.com/treed/hairmqtt/internal/buildinfo"

// DeviceIdentifier is the Home Assistant device identifier every entity
// is grouped under.
const DeviceIdentifier = "hairmqtt"

// DeviceInfo holds the Home Assistant device registry fields shared
// across all discovery payloads so HA groups every sensor on a single
// device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version"`
	SerialNumber string   `json:"serial_number,omitempty"`
}

// EntityConfig is the JSON payload of one HA MQTT discovery message.
// It serves both sensor and binary_sensor components; fields a
// component does not use stay empty and are omitted.
type EntityConfig struct {
	Name              string     `json:"name"`
	ObjectID          string     `json:"object_id"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	Device            DeviceInfo `json:"device"`
	ValueTemplate     string     `json:"value_template,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	Icon              string     `json:"icon,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	ExpireAfter       int        `json:"expire_after,omitempty"`
	PayloadOn         string     `json:"payload_on,omitempty"`
	PayloadOff        string     `json:"payload_off,omitempty"`
}

// NewDeviceInfo returns the device block for this installation. The
// identifier is fixed so entities survive reinstalls; the instance ID
// only shows up as the serial number.
func NewDeviceInfo(instanceID string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{DeviceIdentifier},
		Name:         "Iracing Telemetry",
		Manufacturer: "Tim Reed",
		Model:        "hairmqtt",
		SWVersion:    buildinfo.Version,
		SerialNumber: instanceID,
	}
}

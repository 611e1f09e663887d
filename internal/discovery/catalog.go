package discovery

import (
	"strings"
	"time"

	"github.com/treed/hairmqtt/internal/mqtt"
	"github.com/treed/hairmqtt/internal/session"
	"github.com/treed/hairmqtt/internal/telemetry"
)

// Topics names the state topics descriptors read from.
type Topics struct {
	Telemetry string
	Session   string
	Connected string
}

// DefaultTopics returns the topics the bridge publishes to.
func DefaultTopics() Topics {
	return Topics{
		Telemetry: mqtt.TopicTelemetry,
		Session:   mqtt.TopicSession,
		Connected: mqtt.TopicConnected,
	}
}

// FlagExpiry is short because flags change within a corner.
const FlagExpiry = 5 * time.Second

// TrackNameIndex is the per-car slot used when locating TrackName.
// The field is not per-car, so the index only matters if a future
// session layout nests it under a list.
const TrackNameIndex = 3

// runtimeField is one curated variable from the live catalog.
type runtimeField struct {
	name  string
	comp  Component
	apply func(Builder) Builder
}

// radToDeg converts a radian value to degrees rounded to two places.
func radToDeg(field string) string {
	return "{{ (value_json." + field + " | float * 180 / pi) | float | round(2)}}"
}

func rounded(field string) string {
	return "{{ value_json." + field + " | float | round(2) }}"
}

// runtimeFields is the curated set of catalog variables that become
// entities. Order is announcement order.
var runtimeFields = []runtimeField{
	{"AirTemp", Sensor, func(b Builder) Builder {
		return b.WithDeviceClass("temperature").
			WithIcon("mdi:thermometer").
			WithValueTemplate(rounded("AirTemp"))
	}},
	{"TrackTempCrew", Sensor, func(b Builder) Builder {
		return b.WithDeviceClass("temperature").
			WithIcon("mdi:thermometer").
			WithName("Track Temperature").
			WithValueTemplate(rounded("TrackTempCrew"))
	}},
	{"WindDir", Sensor, func(b Builder) Builder {
		return b.WithUnit("degrees").
			WithValueTemplate(radToDeg("WindDir"))
	}},
	{"WindVel", Sensor, func(b Builder) Builder {
		return b.WithUnit("km/h").
			WithValueTemplate("{{ (value_json.WindVel | float * 3.6) | round(2)}}")
	}},
	{"IsOnTrack", BinarySensor, func(b Builder) Builder {
		return b.WithIcon("mdi:go-kart-track").
			WithPayloads("on", "off").
			WithValueTemplate("{{ 'on' if value_json.IsOnTrack == true else 'off' }}")
	}},
	{"Lap", Sensor, func(b Builder) Builder {
		return b.WithIcon("mdi:counter")
	}},
	{"SessionState", Sensor, func(b Builder) Builder {
		return b.WithIcon("mdi:state-machine").WithoutUnit()
	}},
	{"PlayerCarClassPosition", Sensor, func(b Builder) Builder {
		return b.WithIcon("mdi:podium")
	}},
	{"TrackWetness", Sensor, func(b Builder) Builder {
		return b.WithIcon("mdi:weather-rainy").WithoutUnit()
	}},
	{"SolarAzimuth", Sensor, func(b Builder) Builder {
		return b.WithIcon("mdi:sun-compass").
			WithUnit("degrees").
			WithValueTemplate(radToDeg("SolarAzimuth"))
	}},
	{"SolarAltitude", Sensor, func(b Builder) Builder {
		return b.WithIcon("mdi:sun-angle").
			WithUnit("degrees").
			WithValueTemplate(radToDeg("SolarAltitude"))
	}},
}

// RuntimeFields returns the names of the curated catalog variables.
func RuntimeFields() []string {
	names := make([]string, len(runtimeFields))
	for i, f := range runtimeFields {
		names[i] = f.name
	}
	return names
}

// RuntimeDescriptors builds descriptors for the curated variables
// present in vars. Variables the current car does not have are skipped.
func RuntimeDescriptors(vars map[string]telemetry.VarHeader, topics Topics, dev mqtt.DeviceInfo) []Descriptor {
	var out []Descriptor
	for _, f := range runtimeFields {
		v, ok := vars[f.name]
		if !ok {
			continue
		}
		out = append(out, f.apply(FromRuntimeField(v, topics.Telemetry, dev, f.comp)).Build())
	}
	return out
}

// Flags announced as binary sensors, in announcement order.
var flagNames = []string{"Yellow", "White", "Green", "Blue", "Checkered"}

// FlagDescriptors builds one binary sensor per announced flag. Each
// tests membership in the decoded SessionFlags list.
func FlagDescriptors(topic string, dev mqtt.DeviceInfo) []Descriptor {
	out := make([]Descriptor, 0, len(flagNames))
	for _, flag := range flagNames {
		out = append(out, flagDescriptor(flag, topic, dev))
	}
	return out
}

func flagDescriptor(flag, topic string, dev mqtt.DeviceInfo) Descriptor {
	lower := strings.ToLower(flag)
	return New(BinarySensor, lower+"_flag", topic, dev).
		WithUniqueID(IDPrefix + lower + "-flag").
		WithName(flag + " Flag").
		WithIcon("mdi:flag").
		WithExpireAfter(FlagExpiry).
		WithPayloads("on", "off").
		WithValueTemplate("{{ 'on' if '" + flag + "' in value_json.SessionFlags else 'off' }}").
		Build()
}

// SessionDescriptors builds the session-scoped entities: the driver's
// car index and setup, the track, and the bridge connection sensor.
// Per-car lookups use the session's own DriverCarIdx.
func SessionDescriptors(r PathResolver, s *session.Session, topics Topics, dev mqtt.DeviceInfo) []Descriptor {
	idx := s.DriverInfo.DriverCarIdx
	return []Descriptor{
		fromSessionField(r, "DriverCarIdx", topics.Session, dev, idx, Sensor).
			WithIcon("mdi:account").
			Build(),
		fromSessionField(r, "DriverSetupName", topics.Session, dev, idx, Sensor).
			WithIcon("mdi:cog").
			Build(),
		fromSessionField(r, "TrackName", topics.Session, dev, TrackNameIndex, Sensor).
			WithIcon("mdi:go-kart-track").
			Build(),
		ConnectionDescriptor(topics.Connected, dev),
	}
}

// ConnectionDescriptor builds the binary sensor that follows the
// bridge's connection topic.
func ConnectionDescriptor(topic string, dev mqtt.DeviceInfo) Descriptor {
	return New(BinarySensor, "connection", topic, dev).
		WithName("Connection").
		WithIcon("mdi:connection").
		WithPayloads(mqtt.PayloadConnected, mqtt.PayloadDisconnected).
		Build()
}

// Package discovery turns telemetry fields into Home Assistant MQTT
// discovery configs and decides when to announce them.
//
// A [Builder] assembles one [Descriptor]. Builders are values: every
// With method returns a modified copy, so a partially configured
// builder can be shared as a template without aliasing. [Pipeline]
// owns the per-session announcement state.
package discovery

import (
	"encoding/json"
	"time"

	"github.com/treed/hairmqtt/internal/mqtt"
	"github.com/treed/hairmqtt/internal/schema"
	"github.com/treed/hairmqtt/internal/session"
	"github.com/treed/hairmqtt/internal/telemetry"
)

// Component is the Home Assistant entity platform.
type Component string

// Supported components.
const (
	Sensor       Component = "sensor"
	BinarySensor Component = "binary_sensor"
)

// IDPrefix is prepended to every unique ID so that entities from this
// bridge never collide with another integration's.
const IDPrefix = "hairmqtt-"

// Expiry defaults. Runtime values arrive several times a second so a
// short expiry surfaces a stalled feed quickly; session values change
// rarely and get more slack.
const (
	RuntimeSensorExpiry       = 15 * time.Second
	RuntimeBinarySensorExpiry = 10 * time.Second
	SessionSensorExpiry       = 60 * time.Second
	SessionBinarySensorExpiry = 15 * time.Second
)

// PathResolver finds the dotted location of a session field. It is
// satisfied by [*schema.Resolver].
type PathResolver interface {
	Resolve(field string, idx int) (string, bool)
}

var _ PathResolver = (*schema.Resolver)(nil)

// Descriptor is one immutable discovery entity.
type Descriptor struct {
	component   Component
	uniqueID    string
	objectID    string
	name        string
	stateTopic  string
	device      mqtt.DeviceInfo
	template    string
	unit        string
	icon        string
	deviceClass string
	expireAfter time.Duration
	payloadOn   string
	payloadOff  string
}

// Component returns the entity platform.
func (d Descriptor) Component() Component { return d.component }

// UniqueID returns the Home Assistant unique ID.
func (d Descriptor) UniqueID() string { return d.uniqueID }

// ObjectID returns the entity ID suggestion.
func (d Descriptor) ObjectID() string { return d.objectID }

// Name returns the display name.
func (d Descriptor) Name() string { return d.name }

// StateTopic returns the topic the entity reads its state from.
func (d Descriptor) StateTopic() string { return d.stateTopic }

// Device returns the device block shared by every entity.
func (d Descriptor) Device() mqtt.DeviceInfo { return d.device }

// ValueTemplate returns the template, or "" when the value could not be located.
func (d Descriptor) ValueTemplate() string { return d.template }

// Unit returns the unit of measurement.
func (d Descriptor) Unit() string { return d.unit }

// Icon returns the mdi icon name.
func (d Descriptor) Icon() string { return d.icon }

// DeviceClass returns the Home Assistant device class.
func (d Descriptor) DeviceClass() string { return d.deviceClass }

// ExpireAfter returns how long a state stays valid without an update.
func (d Descriptor) ExpireAfter() time.Duration { return d.expireAfter }

// Payloads returns the binary sensor on and off payloads.
func (d Descriptor) Payloads() (on, off string) { return d.payloadOn, d.payloadOff }

// ConfigTopic returns the discovery topic for d under prefix. The
// topic depends only on the component and unique ID, so announcing
// the same entity again overwrites the earlier registration.
func (d Descriptor) ConfigTopic(prefix string) string {
	return prefix + "/" + string(d.component) + "/" + d.uniqueID + "/config"
}

// Config returns the wire form of d.
func (d Descriptor) Config() mqtt.EntityConfig {
	return mqtt.EntityConfig{
		Name:              d.name,
		ObjectID:          d.objectID,
		UniqueID:          d.uniqueID,
		StateTopic:        d.stateTopic,
		Device:            d.device,
		ValueTemplate:     d.template,
		UnitOfMeasurement: d.unit,
		Icon:              d.icon,
		DeviceClass:       d.deviceClass,
		ExpireAfter:       int(d.expireAfter / time.Second),
		PayloadOn:         d.payloadOn,
		PayloadOff:        d.payloadOff,
	}
}

// MarshalJSON encodes d as a discovery payload.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Config())
}

// Builder accumulates descriptor fields. The zero value is not useful;
// start from [New], [FromRuntimeField], or [FromSessionField].
type Builder struct {
	d Descriptor
}

// New starts a builder for an entity that does not map one-to-one to
// a telemetry field. id becomes the object ID, name, and the unique
// ID suffix until overridden.
func New(comp Component, id, stateTopic string, dev mqtt.DeviceInfo) Builder {
	return Builder{d: Descriptor{
		component:  comp,
		uniqueID:   IDPrefix + id,
		objectID:   id,
		name:       id,
		stateTopic: stateTopic,
		device:     dev,
	}}
}

// FromRuntimeField starts a builder for a variable from the live
// catalog. The header supplies the name and unit; the template reads
// the variable straight from the value snapshot.
func FromRuntimeField(v telemetry.VarHeader, stateTopic string, dev mqtt.DeviceInfo, comp Component) Builder {
	expiry := RuntimeSensorExpiry
	if comp == BinarySensor {
		expiry = RuntimeBinarySensorExpiry
	}
	return New(comp, v.Name, stateTopic, dev).
		WithUnit(v.Unit).
		WithTemplateLocation(v.Name).
		WithExpireAfter(expiry)
}

// FromSessionField starts a builder for a field of the session
// document, locating it with the process-wide session resolver. idx
// selects the element of any per-car list on the way.
func FromSessionField(field, stateTopic string, dev mqtt.DeviceInfo, idx int, comp Component) Builder {
	return fromSessionField(session.Resolver(), field, stateTopic, dev, idx, comp)
}

// fromSessionField leaves the template empty when the field cannot be
// located. Home Assistant still registers the entity; it just has no
// way to extract a state.
func fromSessionField(r PathResolver, field, stateTopic string, dev mqtt.DeviceInfo, idx int, comp Component) Builder {
	expiry := SessionSensorExpiry
	if comp == BinarySensor {
		expiry = SessionBinarySensorExpiry
	}
	b := New(comp, field, stateTopic, dev).WithExpireAfter(expiry)
	if path, ok := r.Resolve(field, idx); ok {
		b = b.WithTemplateLocation(path)
	}
	return b
}

// WithName sets the display name.
func (b Builder) WithName(name string) Builder {
	b.d.name = name
	return b
}

// WithIcon sets the mdi icon.
func (b Builder) WithIcon(icon string) Builder {
	b.d.icon = icon
	return b
}

// WithDeviceClass sets the device class.
func (b Builder) WithDeviceClass(class string) Builder {
	b.d.deviceClass = class
	return b
}

// WithUnit sets the unit of measurement.
func (b Builder) WithUnit(unit string) Builder {
	b.d.unit = unit
	return b
}

// WithoutUnit clears the unit. Enumerations and bitfields carry a
// catalog unit that would make Home Assistant graph them as numbers.
func (b Builder) WithoutUnit() Builder {
	b.d.unit = ""
	return b
}

// WithPayloads sets the binary sensor on and off payloads.
func (b Builder) WithPayloads(on, off string) Builder {
	b.d.payloadOn = on
	b.d.payloadOff = off
	return b
}

// WithValueTemplate sets the template verbatim.
func (b Builder) WithValueTemplate(tmpl string) Builder {
	b.d.template = tmpl
	return b
}

// WithTemplateLocation sets a template that reads the value at the
// dotted path.
func (b Builder) WithTemplateLocation(path string) Builder {
	b.d.template = TemplateFor(path)
	return b
}

// WithExpireAfter sets the state expiry. It is sent in whole seconds.
func (b Builder) WithExpireAfter(d time.Duration) Builder {
	b.d.expireAfter = d
	return b
}

// WithObjectID overrides the object ID.
func (b Builder) WithObjectID(id string) Builder {
	b.d.objectID = id
	return b
}

// WithUniqueID overrides the unique ID, and with it the config topic.
func (b Builder) WithUniqueID(id string) Builder {
	b.d.uniqueID = id
	return b
}

// Build returns the finished descriptor.
func (b Builder) Build() Descriptor {
	return b.d
}

// TemplateFor returns the value template that reads path from a JSON
// state payload.
func TemplateFor(path string) string {
	return "{{ value_json." + path + " }}"
}

package discovery

import (
	"encoding/json"
	"maps"

	"github.com/treed/hairmqtt/internal/mqtt"
	"github.com/treed/hairmqtt/internal/session"
	"github.com/treed/hairmqtt/internal/telemetry"
)

// State is where the pipeline stands in the telemetry link lifecycle.
type State int

const (
	// Disconnected holds nothing. It is the initial state and the state
	// after link loss.
	Disconnected State = iota

	// CatalogKnown means runtime descriptors have been announced for
	// the current catalog.
	CatalogKnown

	// Announced means session descriptors have been announced for the
	// current link. Later session documents only update values.
	Announced
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case CatalogKnown:
		return "catalog_known"
	case Announced:
		return "announced"
	default:
		return "unknown"
	}
}

// Emission is one discovery message ready to publish. Err is set when
// the descriptor could not be encoded; Payload is nil in that case.
type Emission struct {
	Descriptor Descriptor
	Topic      string
	Payload    []byte
	Err        error
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithResolver replaces the session path resolver.
func WithResolver(r PathResolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithTopics replaces the state topics descriptors point at.
func WithTopics(t Topics) Option {
	return func(p *Pipeline) { p.topics = t }
}

// Pipeline decides which descriptors to announce as telemetry events
// arrive. It is owned by a single goroutine and is not safe for
// concurrent use. Construct one per bridge run.
type Pipeline struct {
	prefix   string
	device   mqtt.DeviceInfo
	topics   Topics
	resolver PathResolver
	marshal  func(Descriptor) ([]byte, error)

	state   State
	catalog map[string]telemetry.VarHeader
}

// NewPipeline returns a pipeline in the Disconnected state that
// publishes configs under the discovery prefix.
func NewPipeline(prefix string, dev mqtt.DeviceInfo, opts ...Option) *Pipeline {
	p := &Pipeline{
		prefix:   prefix,
		device:   dev,
		topics:   DefaultTopics(),
		resolver: session.Resolver(),
		marshal:  func(d Descriptor) ([]byte, error) { return json.Marshal(d) },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return p.state }

// Announced reports whether session descriptors went out on this link.
func (p *Pipeline) Announced() bool { return p.state == Announced }

// Catalog returns the cached variable catalog. The map must not be
// modified.
func (p *Pipeline) Catalog() map[string]telemetry.VarHeader { return p.catalog }

// OnCatalog caches vars and announces the curated runtime descriptors
// it contains along with the flag sensors. It announces on every call,
// even when the catalog is unchanged.
func (p *Pipeline) OnCatalog(vars map[string]telemetry.VarHeader) []Emission {
	p.catalog = maps.Clone(vars)
	if p.catalog == nil {
		p.catalog = map[string]telemetry.VarHeader{}
	}
	if p.state == Disconnected {
		p.state = CatalogKnown
	}

	descs := RuntimeDescriptors(p.catalog, p.topics, p.device)
	descs = append(descs, FlagDescriptors(p.topics.Telemetry, p.device)...)
	return p.emit(descs)
}

// OnSession announces the session descriptors the first time a
// session document arrives on the current link and returns nil after
// that.
func (p *Pipeline) OnSession(s *session.Session) []Emission {
	if s == nil || p.state == Announced {
		return nil
	}
	p.state = Announced
	return p.emit(SessionDescriptors(p.resolver, s, p.topics, p.device))
}

// OnLinkLost forgets the catalog and the announcement so the next link
// announces everything again.
func (p *Pipeline) OnLinkLost() {
	p.catalog = nil
	p.state = Disconnected
}

// emit encodes each descriptor on its own so one failure costs one
// entity.
func (p *Pipeline) emit(descs []Descriptor) []Emission {
	out := make([]Emission, 0, len(descs))
	for _, d := range descs {
		payload, err := p.marshal(d)
		if err != nil {
			payload = nil
		}
		out = append(out, Emission{
			Descriptor: d,
			Topic:      d.ConfigTopic(p.prefix),
			Payload:    payload,
			Err:        err,
		})
	}
	return out
}

// Package telemetry defines the ordered event stream the bridge
// consumes from the simulator and provides sources that produce it.
//
// A source emits four kinds of events: value snapshots every tick, the
// session document whenever it changes, the variable catalog when a
// session loads, and a link-lost marker when the simulator goes away.
// Anything else arrives as [UnknownEvent] so that newer relays do not
// break older bridges.
package telemetry

// VarType is the simulator's storage type for a variable.
type VarType string

// Variable storage types reported in the catalog.
const (
	TypeChar     VarType = "char"
	TypeBool     VarType = "bool"
	TypeInt      VarType = "int"
	TypeBitfield VarType = "bitfield"
	TypeFloat    VarType = "float"
	TypeDouble   VarType = "double"
)

// VarHeader describes one variable in the live catalog.
type VarHeader struct {
	Name  string  `json:"name"`
	Desc  string  `json:"desc,omitempty"`
	Unit  string  `json:"unit,omitempty"`
	Type  VarType `json:"type"`
	Count int     `json:"count,omitempty"`
}

// Snapshot maps variable names to their values for one tick. Values
// are scalars or slices of scalars as decoded from the feed.
type Snapshot map[string]any

// Event is one item of the telemetry stream.
type Event interface {
	// Kind returns a short stable name for logging and metrics.
	Kind() string
}

// DataEvent carries the values of one tick.
type DataEvent struct {
	Values Snapshot
}

// SessionEvent carries the raw session document as YAML text.
type SessionEvent struct {
	YAML string
}

// CatalogEvent carries the variable catalog, keyed by name.
type CatalogEvent struct {
	Vars map[string]VarHeader
}

// LinkLostEvent reports that the simulator is no longer connected.
type LinkLostEvent struct{}

// UnknownEvent is any event type this build does not understand.
type UnknownEvent struct {
	Type string
}

func (DataEvent) Kind() string     { return "data" }
func (SessionEvent) Kind() string  { return "session" }
func (CatalogEvent) Kind() string  { return "catalog" }
func (LinkLostEvent) Kind() string { return "disconnected" }
func (UnknownEvent) Kind() string  { return "unknown" }

// Package schema models the default shape of the session document as a
// tree of maps, sequences, and scalars, and resolves telemetry field
// names to dotted paths inside it.
//
// The tree describes type shape, not live values. Home Assistant value
// templates use the resolved paths to pick one field out of the
// published session JSON, so a path is only as good as the match
// between the tree and what is actually serialized.
package schema

import (
	"reflect"
	"sort"
	"strings"
)

// DefaultSlots is the number of template elements given to every
// sequence built by [FromValue]. It matches the largest car field the
// simulator reports, so any per-car index resolves.
const DefaultSlots = 64

// Kind discriminates the three node variants.
type Kind int

const (
	// KindScalar is a leaf with no children.
	KindScalar Kind = iota
	// KindMap holds named entries.
	KindMap
	// KindSequence holds positional items.
	KindSequence
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindSequence:
		return "sequence"
	default:
		return "scalar"
	}
}

// Entry is one key of a map node. Name is how the telemetry feed spells
// the key (e.g. "TrackName"); Segment is how the key appears in the
// published document and therefore in dotted paths (e.g. "track_name").
type Entry struct {
	Name    string
	Segment string
	Value   *Node
}

// Node is a read-only tree node. Nodes built by this package may be
// shared between sequence items; callers must not mutate them.
type Node struct {
	Kind    Kind
	Entries []Entry
	Items   []*Node
}

// Scalar returns a leaf node.
func Scalar() *Node {
	return &Node{Kind: KindScalar}
}

// Map returns a map node whose entries are ordered by Segment. Ties keep
// their argument order.
func Map(entries ...Entry) *Node {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Segment < sorted[j].Segment
	})
	return &Node{Kind: KindMap, Entries: sorted}
}

// Seq returns a sequence node holding items in order.
func Seq(items ...*Node) *Node {
	return &Node{Kind: KindSequence, Items: items}
}

// Key is shorthand for an entry whose name and segment are the same.
func Key(name string, v *Node) Entry {
	return Entry{Name: name, Segment: name, Value: v}
}

// Field returns an entry with distinct feed and document spellings.
func Field(name, segment string, v *Node) Entry {
	return Entry{Name: name, Segment: segment, Value: v}
}

// FromValue builds the schema tree for the type of v using
// [DefaultSlots] items per sequence. See [FromType].
func FromValue(v any) *Node {
	if v == nil {
		return Scalar()
	}
	return FromType(reflect.TypeOf(v), DefaultSlots)
}

// FromType builds the schema tree for t.
//
// Struct fields become map entries: the yaml tag supplies Name and the
// json tag supplies Segment, each falling back to the Go field name.
// Fields tagged "-" in json are skipped because they never reach the
// published document. Slices and arrays become sequences of slots
// copies of their element shape. Maps with dynamic keys are empty maps.
// Recursive types are cut off as scalars at the point of recursion.
func FromType(t reflect.Type, slots int) *Node {
	return fromType(t, slots, map[reflect.Type]bool{})
}

func fromType(t reflect.Type, slots int, visiting map[reflect.Type]bool) *Node {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		if visiting[t] {
			return Scalar()
		}
		visiting[t] = true
		defer delete(visiting, t)

		entries := make([]Entry, 0, t.NumField())
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			segment := tagName(f.Tag.Get("json"), f.Name)
			if segment == "-" {
				continue
			}
			name := tagName(f.Tag.Get("yaml"), f.Name)
			if name == "-" {
				name = f.Name
			}
			entries = append(entries, Field(name, segment, fromType(f.Type, slots, visiting)))
		}
		return Map(entries...)

	case reflect.Slice, reflect.Array:
		elem := fromType(t.Elem(), slots, visiting)
		n := slots
		if t.Kind() == reflect.Array {
			n = t.Len()
		}
		items := make([]*Node, n)
		for i := range items {
			items[i] = elem
		}
		return Seq(items...)

	case reflect.Map:
		return Map()

	default:
		return Scalar()
	}
}

// tagName returns the name portion of a struct tag value, or fallback
// when the tag is empty or only carries options.
func tagName(tag, fallback string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return fallback
	}
	return name
}

// Package values shapes state payloads: the sparse per-tick telemetry
// map and the structural session snapshot. Both are published as JSON
// and read back by the value templates of discovered entities.
package values

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/treed/hairmqtt/internal/session"
	"github.com/treed/hairmqtt/internal/telemetry"
)

// ErrNoSession is returned by [SessionSnapshot] for a nil session.
var ErrNoSession = errors.New("no session document")

// ReportFunc receives a field dropped from a payload and the reason.
type ReportFunc func(field string, err error)

// Flatten returns the values of every known field present in snap.
// Fields without a value are omitted rather than sent as null, so a
// consumer sees "no update" instead of a bogus zero.
func Flatten(snap telemetry.Snapshot, known map[string]telemetry.VarHeader) map[string]any {
	return FlattenFunc(snap, known, nil)
}

// FlattenFunc is [Flatten] with a report callback. Each value is
// checked for JSON encodability on its own; one that fails (a NaN
// reading, for instance) is dropped and reported so the rest of the
// tick still goes out.
func FlattenFunc(snap telemetry.Snapshot, known map[string]telemetry.VarHeader, report ReportFunc) map[string]any {
	out := make(map[string]any, len(known))
	for name := range known {
		v, ok := snap[name]
		if !ok || v == nil {
			continue
		}
		if _, err := json.Marshal(v); err != nil {
			if report != nil {
				report(name, err)
			}
			continue
		}
		out[name] = v
	}
	return out
}

// SessionSnapshot converts s into the JSON-shaped map published on the
// session topic. Every field is included, keyed by its JSON name.
func SessionSnapshot(s *session.Session) (map[string]any, error) {
	if s == nil {
		return nil, ErrNoSession
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return out, nil
}

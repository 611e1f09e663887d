package schema

import (
	"strconv"
	"strings"
	"sync"
)

// Resolve returns the dotted path from the root of doc to the first map
// entry whose Name or Segment equals field.
//
// The search is depth-first. Map entries are visited in their stored
// order. A sequence contributes only its item at idx; other items are
// never inspected and an out-of-range idx dead-ends that branch. When
// the same key appears in more than one place the first one visited
// wins, which is a best-effort guess rather than a guarantee.
//
// The second return value is false when no entry matches.
func Resolve(doc *Node, field string, idx int) (string, bool) {
	var path []string
	if !find(doc, field, idx, &path) {
		return "", false
	}
	return strings.Join(path, "."), true
}

func find(n *Node, field string, idx int, path *[]string) bool {
	if n == nil {
		return false
	}

	switch n.Kind {
	case KindMap:
		for _, e := range n.Entries {
			*path = append(*path, e.Segment)
			if e.Name == field || e.Segment == field {
				return true
			}
			if find(e.Value, field, idx, path) {
				return true
			}
			*path = (*path)[:len(*path)-1]
		}

	case KindSequence:
		if idx < 0 || idx >= len(n.Items) {
			return false
		}
		*path = append(*path, strconv.Itoa(idx))
		if find(n.Items[idx], field, idx, path) {
			return true
		}
		*path = (*path)[:len(*path)-1]
	}

	return false
}

// Resolver memoizes [Resolve] results per (field, index) pair. The
// document is rebuilt by the factory on every cache miss so no query
// ever observes another query's tree. Safe for concurrent use.
type Resolver struct {
	build func() *Node

	mu    sync.Mutex
	cache map[lookup]result
}

type lookup struct {
	field string
	idx   int
}

type result struct {
	path string
	ok   bool
}

// NewResolver returns a Resolver over the documents produced by build.
// The factory must return the same shape on every call.
func NewResolver(build func() *Node) *Resolver {
	return &Resolver{
		build: build,
		cache: make(map[lookup]result),
	}
}

// Resolve returns the dotted path for field at the given index.
func (r *Resolver) Resolve(field string, idx int) (string, bool) {
	key := lookup{field: field, idx: idx}

	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.cache[key]; ok {
		return res.path, res.ok
	}

	path, ok := Resolve(r.build(), field, idx)
	r.cache[key] = result{path: path, ok: ok}
	return path, ok
}

// Package access resolves the permission level a path requires from the
// current set of hidden-path rules.
//
// Two queries are offered. ExactPermission only looks at a rule on the path
// itself and is what listings display as an entry's own marker.
// InheritedPermission folds in every ancestor rule and is what gates access:
// restricting a directory restricts everything beneath it.
package access

import (
	"context"
	"fmt"
	"strings"

	"oasis/internal/rules"
)

// Index is an immutable snapshot of the hidden rules, keyed by normalized
// path. Build a new one per request.
type Index struct {
	byPath map[string]int
}

// NewIndex builds an Index. When several rules share a path the most
// restrictive one wins.
func NewIndex(hidden []rules.HiddenRule) *Index {
	idx := &Index{byPath: make(map[string]int, len(hidden))}
	for _, h := range hidden {
		p := rules.Normalize(h.Path)
		if cur, ok := idx.byPath[p]; !ok || h.LeastPermission > cur {
			idx.byPath[p] = h.LeastPermission
		}
	}
	return idx
}

// Load reads a fresh snapshot from the store.
func Load(ctx context.Context, store rules.Store) (*Index, error) {
	hidden, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hidden rules: %w", err)
	}
	return NewIndex(hidden), nil
}

// ExactPermission returns the level of the rule on exactly p, or 0.
func (idx *Index) ExactPermission(p string) int {
	return idx.byPath[rules.Normalize(p)]
}

// InheritedPermission returns the maximum level over rules on p and all of its
// ancestors, or 0 when none apply.
func (idx *Index) InheritedPermission(p string) int {
	p = rules.Normalize(p)
	level := idx.byPath[""] // a root rule applies to everything
	for {
		if l, ok := idx.byPath[p]; ok && l > level {
			level = l
		}
		i := strings.LastIndexByte(p, '/')
		if i < 0 {
			break
		}
		p = p[:i]
	}
	return level
}

// Allowed reports whether a requester at level may access p.
func (idx *Index) Allowed(p string, level int) bool {
	return idx.InheritedPermission(p) <= level
}

// Package rules defines hidden-path rules and the persistent store that holds
// them. Backends live in the sqlitestore and badgerstore subpackages.
package rules

import (
	"context"
	"errors"
	"strings"

	"oasis/internal/fsutil"
)

// HiddenRule marks Path (relative to the storage root) as requiring at least
// LeastPermission to access. Higher values are more restrictive.
type HiddenRule struct {
	Path            string `json:"path"`
	LeastPermission int    `json:"leastPermission"`
}

var (
	ErrEmptyPath    = errors.New("rule path must not be the storage root")
	ErrInvalidLevel = errors.New("rule permission must be positive")
	ErrUnknownType  = errors.New("unknown rule store type")
)

// Store is the persistent rule store. DeleteTree and RenameTree must be
// atomic: either every affected rule changes or none does.
type Store interface {
	// List returns every rule.
	List(ctx context.Context) ([]HiddenRule, error)

	// Insert adds a rule, replacing an existing rule on the same path.
	Insert(ctx context.Context, rule HiddenRule) error

	// Delete removes the rule on exactly path, if any.
	Delete(ctx context.Context, path string) error

	// DeleteTree removes the rule on path and every rule nested under it.
	DeleteTree(ctx context.Context, path string) error

	// RenameTree rewrites every rule equal to or nested under oldPath so
	// that it lives under newPath instead.
	RenameTree(ctx context.Context, oldPath, newPath string) error

	Close() error
}

// Normalize cleans a rule path into the canonical form stored on disk:
// slash separated, no leading or trailing slash.
func Normalize(p string) string {
	return fsutil.CleanRelPath(p)
}

// Validate normalizes the rule in place and checks it.
func (r *HiddenRule) Validate() error {
	r.Path = Normalize(r.Path)
	if r.Path == "" {
		return ErrEmptyPath
	}
	if r.LeastPermission <= 0 {
		return ErrInvalidLevel
	}
	return nil
}

// Contains reports whether child equals parent or lies beneath it. Both
// arguments must be normalized. The empty parent (storage root) contains
// everything.
func Contains(parent, child string) bool {
	if parent == "" || parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}

// Rebase moves p from under oldPrefix to under newPrefix. p must satisfy
// Contains(oldPrefix, p).
func Rebase(p, oldPrefix, newPrefix string) string {
	if p == oldPrefix {
		return newPrefix
	}
	return fsutil.JoinRel(newPrefix, strings.TrimPrefix(p, oldPrefix+"/"))
}

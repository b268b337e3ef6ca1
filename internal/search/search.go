// Package search walks the storage tree for entries whose base names match a
// keyword query and which the requester may see.
package search

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"oasis/internal/access"
	"oasis/internal/fsutil"
)

var ErrNoKeywords = errors.New("no search keywords")

type Query struct {
	Keywords []string
	// MaxResults stops the walk after that many hits. Zero means unlimited.
	MaxResults int
	// Exclude, if set, hides rel and everything beneath it.
	Exclude func(rel string) bool
}

type Result struct {
	Entries   []fsutil.Entry `json:"entries"`
	Truncated bool           `json:"truncated,omitempty"`
}

// ParseKeywords splits raw on whitespace and '+' and lowercases every term.
func ParseKeywords(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '+' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := fields[:0]
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

// Match reports whether an entry called name satisfies every keyword.
// A keyword starting with '.' must equal the entry's extension instead and
// never matches a directory.
func Match(name string, isDir bool, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if !strings.Contains(lower, kw) {
			return false
		}
		if strings.HasPrefix(kw, ".") {
			if isDir || strings.ToLower(extension(name)) != kw {
				return false
			}
		}
	}
	return true
}

// extension is filepath.Ext except that a leading dot does not start one,
// so ".env" has no extension.
func extension(name string) string {
	if strings.LastIndexByte(name, '.') <= 0 {
		return ""
	}
	return filepath.Ext(name)
}

// Search walks the whole tree below root. Symbolic links are reported but
// never followed. Directories the requester cannot see are pruned along
// with everything beneath them, since inherited permission only grows with
// depth.
func Search(ctx context.Context, root string, q Query, idx *access.Index, level int) (Result, error) {
	if len(q.Keywords) == 0 {
		return Result{}, ErrNoKeywords
	}
	root = filepath.Clean(root)
	res := Result{Entries: []fsutil.Entry{}}

	errStop := errors.New("stop")
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == root {
				return err
			}
			// Unreadable entries are left out.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}
		rel, err := fsutil.RelFromRoot(root, p)
		if err != nil {
			return nil
		}
		if !idx.Allowed(rel, level) || (q.Exclude != nil && q.Exclude(rel)) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !Match(d.Name(), d.IsDir(), q.Keywords) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if q.MaxResults > 0 && len(res.Entries) == q.MaxResults {
			res.Truncated = true
			return errStop
		}
		e := fsutil.EntryFromInfo(rel, info)
		e.LeastPermission = idx.ExactPermission(rel)
		res.Entries = append(res.Entries, e)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return Result{}, err
	}
	return res, nil
}

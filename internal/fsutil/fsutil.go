package fsutil

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned for paths that resolve outside the storage root
// or contain NUL bytes.
var ErrPathEscape = errors.New("path escapes storage root")

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// safe, slash-based, no-leading-slash relative path ("" means root).
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// JoinWithinRoot returns an absolute filesystem path under root for a given rel
// path. It rejects escapes (..).
func JoinWithinRoot(rootAbs string, rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", ErrPathEscape
	}
	rel = CleanRelPath(rel)
	if rel == "" {
		return filepath.Clean(rootAbs), nil
	}
	abs := filepath.Join(rootAbs, filepath.FromSlash(rel))
	absClean := filepath.Clean(abs)
	rootClean := filepath.Clean(rootAbs)
	if absClean != rootClean && !strings.HasPrefix(absClean, rootClean+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return absClean, nil
}

// RelFromRoot is the inverse of JoinWithinRoot: it maps an absolute path under
// rootAbs back to its slash-separated relative form.
func RelFromRoot(rootAbs, abs string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(rootAbs), filepath.Clean(abs))
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrPathEscape
	}
	return rel, nil
}

// JoinRel appends name to a relative directory path.
func JoinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

type EntryType string

const (
	TypeFile EntryType = "file"
	TypeDir  EntryType = "dir"
)

// Entry is the listing/search view of a single file or directory. It is
// computed per response and never stored.
type Entry struct {
	Name            string    `json:"name"`
	Path            string    `json:"path"` // rel
	Type            EntryType `json:"type"`
	Size            int64     `json:"size"`
	Mtime           int64     `json:"mtime"`
	Mime            string    `json:"mime,omitempty"`
	LeastPermission int       `json:"leastPermission"`
}

// EntryFromInfo builds an Entry for rel from its stat result.
func EntryFromInfo(rel string, info fs.FileInfo) Entry {
	e := Entry{
		Name:  info.Name(),
		Path:  rel,
		Type:  TypeFile,
		Size:  info.Size(),
		Mtime: info.ModTime().Unix(),
	}
	if info.IsDir() {
		e.Type = TypeDir
		e.Size = 0
	} else {
		e.Mime = ContentTypeForName(info.Name())
	}
	return e
}

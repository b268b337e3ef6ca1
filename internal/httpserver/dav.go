package httpserver

import (
	"context"
	"io/fs"
	"net/http"
	"os"

	"golang.org/x/net/webdav"

	"oasis/internal/access"
	"oasis/internal/auth"
	"oasis/internal/fsutil"
	"oasis/internal/logger"
)

// davFS is the WebDAV view of the storage root. Paths the caller may not see
// do not exist; only admins may change anything, and structural changes are
// mirrored into the rule store.
type davFS struct {
	s   *Server
	dir webdav.Dir
}

func (s *Server) davFS() webdav.FileSystem {
	return &davFS{s: s, dir: webdav.Dir(s.root)}
}

type davIndexKey struct{}

// withDavIndex loads the rule index once per WebDAV request. A PROPFIND
// stats every entry it reports.
func (s *Server) withDavIndex(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx, err := access.Load(r.Context(), s.rules)
		if err != nil {
			logger.Error("dav %s: %v", r.URL.Path, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), davIndexKey{}, idx)))
	})
}

func (d *davFS) index(ctx context.Context) (*access.Index, error) {
	if idx, ok := ctx.Value(davIndexKey{}).(*access.Index); ok {
		return idx, nil
	}
	return access.Load(ctx, d.s.rules)
}

// check returns the normalized name after the visibility and write checks.
func (d *davFS) check(ctx context.Context, name string, write bool) (string, *access.Index, auth.Identity, error) {
	rel := fsutil.CleanRelPath(name)
	if d.s.reserved(rel) {
		return "", nil, auth.Identity{}, os.ErrNotExist
	}
	id, ok := auth.FromContext(ctx)
	if !ok {
		return "", nil, auth.Identity{}, os.ErrPermission
	}
	idx, err := d.index(ctx)
	if err != nil {
		return "", nil, auth.Identity{}, err
	}
	if !idx.Allowed(rel, id.Level) {
		return "", nil, auth.Identity{}, os.ErrNotExist
	}
	if write && !id.Admin {
		return "", nil, auth.Identity{}, os.ErrPermission
	}
	return rel, idx, id, nil
}

func (d *davFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	if _, _, _, err := d.check(ctx, name, true); err != nil {
		return err
	}
	return d.dir.Mkdir(ctx, name, perm)
}

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

func (d *davFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	rel, idx, id, err := d.check(ctx, name, flag&writeFlags != 0)
	if err != nil {
		return nil, err
	}
	f, err := d.dir.OpenFile(ctx, name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &davFile{File: f, fs: d, rel: rel, idx: idx, level: id.Level}, nil
}

func (d *davFS) RemoveAll(ctx context.Context, name string) error {
	rel, _, _, err := d.check(ctx, name, true)
	if err != nil {
		return err
	}
	if rel == "" {
		return os.ErrPermission
	}
	if err := d.dir.RemoveAll(ctx, name); err != nil {
		return err
	}
	if err := d.s.rules.DeleteTree(ctx, rel); err != nil {
		logger.Error("dav delete %s: hidden rules were not removed: %v", rel, err)
		return err
	}
	logger.Info("dav delete %s", rel)
	return nil
}

func (d *davFS) Rename(ctx context.Context, oldName, newName string) error {
	oldRel, _, _, err := d.check(ctx, oldName, true)
	if err != nil {
		return err
	}
	newRel, _, _, err := d.check(ctx, newName, true)
	if err != nil {
		return err
	}
	if oldRel == "" || newRel == "" {
		return os.ErrPermission
	}
	if err := d.dir.Rename(ctx, oldName, newName); err != nil {
		return err
	}
	if err := d.s.rules.RenameTree(ctx, oldRel, newRel); err != nil {
		logger.Error("dav rename %s -> %s: hidden rules were not updated: %v", oldRel, newRel, err)
		return err
	}
	logger.Info("dav rename %s -> %s", oldRel, newRel)
	return nil
}

func (d *davFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	if _, _, _, err := d.check(ctx, name, false); err != nil {
		return nil, err
	}
	return d.dir.Stat(ctx, name)
}

// davFile drops hidden children from directory listings.
type davFile struct {
	webdav.File
	fs    *davFS
	rel   string
	idx   *access.Index
	level int
}

func (f *davFile) Readdir(count int) ([]fs.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	out := infos[:0]
	for _, fi := range infos {
		child := fsutil.JoinRel(f.rel, fi.Name())
		if f.fs.s.reserved(child) || !f.idx.Allowed(child, f.level) {
			continue
		}
		out = append(out, fi)
	}
	return out, err
}

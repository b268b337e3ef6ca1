package httpserver

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"oasis/internal/access"
	"oasis/internal/fsops"
	"oasis/internal/fsutil"
	"oasis/internal/logger"
	"oasis/internal/rangeserve"
	"oasis/internal/rules"
	"oasis/internal/search"
)

// resolve maps a client path to its absolute location. The state dir
// resolves as missing.
func (s *Server) resolve(raw string) (rel, abs string, err error) {
	rel = fsutil.CleanRelPath(raw)
	if s.reserved(rel) {
		return "", "", fmt.Errorf("%s: %w", rel, os.ErrNotExist)
	}
	abs, err = fsutil.JoinWithinRoot(s.root, rel)
	if err != nil {
		return "", "", err
	}
	return rel, abs, nil
}

// gate loads the current rules and checks that the caller may access rel.
func (s *Server) gate(ctx context.Context, rel string, level int) (*access.Index, error) {
	idx, err := access.Load(ctx, s.rules)
	if err != nil {
		return nil, err
	}
	if !idx.Allowed(rel, level) {
		return nil, fmt.Errorf("%w: %s", errDenied, rel)
	}
	return idx, nil
}

// validName rejects names that would leave the parent directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return badRequest("invalid name %q", name)
	}
	return nil
}

func (s *Server) handleListDir(w http.ResponseWriter, r *http.Request) {
	rel, abs, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !st.IsDir() {
		s.fail(w, r, badRequest("not a directory"))
		return
	}
	id := identity(r)
	idx, err := s.gate(r.Context(), rel, id.Level)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// The directory itself passed, so a child's inherited level is its own.
	items := make([]fsutil.Entry, 0, len(ents))
	for _, e := range ents {
		childRel := fsutil.JoinRel(rel, e.Name())
		if s.reserved(childRel) {
			continue
		}
		level := idx.ExactPermission(childRel)
		if level > id.Level {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		it := fsutil.EntryFromInfo(childRel, info)
		it.LeastPermission = level
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Type != items[j].Type {
			return items[i].Type == fsutil.TypeDir
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateDir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parent string `json:"parent"`
		Name   string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validName(req.Name); err != nil {
		s.fail(w, r, err)
		return
	}
	parentRel, parentAbs, err := s.resolve(req.Parent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.gate(r.Context(), parentRel, identity(r).Level); err != nil {
		s.fail(w, r, err)
		return
	}
	if st, err := os.Stat(parentAbs); err != nil || !st.IsDir() {
		s.fail(w, r, badRequest("parent %q is not a directory", parentRel))
		return
	}
	rel, abs, err := s.resolve(fsutil.JoinRel(parentRel, req.Name))
	if err != nil {
		s.fail(w, r, badRequest("cannot create %q", req.Name))
		return
	}
	if err := os.Mkdir(abs, 0o755); err != nil {
		if os.IsExist(err) {
			err = fmt.Errorf("%s: %w", rel, fsops.ErrExists)
		}
		s.fail(w, r, err)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logger.Info("mkdir %s by %s", rel, identity(r).User)
	writeJSON(w, http.StatusCreated, fsutil.EntryFromInfo(rel, st))
}

// contentKind is the shape of a file content response, decided once per
// request.
type contentKind int

const (
	kindBinary contentKind = iota
	kindText
	kindRanged
)

func classify(name, rangeHeader string, allowText bool) contentKind {
	switch {
	case rangeHeader != "":
		return kindRanged
	case allowText && fsutil.IsText(name):
		return kindText
	default:
		return kindBinary
	}
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	rel, abs, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.gate(r.Context(), rel, identity(r).Level); err != nil {
		s.fail(w, r, err)
		return
	}
	s.serveFile(w, r, abs, true, r.URL.Query().Get("dl") == "1")
}

// serveFile writes abs as a text, binary or ranged response. Failures before
// the first byte is written become error responses.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, abs string, allowText, attachment bool) {
	name := filepath.Base(abs)
	kind := classify(name, r.Header.Get("Range"), allowText)

	if kind == kindRanged {
		rd, err := rangeserve.Open(abs, r.Header.Get("Range"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer rd.Close()
		setContentHeaders(w, name, attachment)
		n, err := rd.Serve(w, r)
		s.metrics.AddBytesServed("range", n)
		if err != nil {
			logger.Debug("range %s: %v", name, err)
		}
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !st.Mode().IsRegular() {
		s.fail(w, r, rangeserve.ErrNotRegularFile)
		return
	}

	ct := fsutil.ContentTypeForName(name)
	if kind == kindText {
		ct = "text/plain; charset=utf-8"
	} else if ct == "" {
		ct = "application/octet-stream"
	}
	setContentHeaders(w, name, attachment)
	w.Header().Set("Last-Modified", st.ModTime().UTC().Format(http.TimeFormat))
	n, err := rangeserve.ServeWhole(w, r, f, st.Size(), ct)
	s.metrics.AddBytesServed("whole", n)
	if err != nil {
		logger.Debug("serve %s: %v", name, err)
	}
}

func setContentHeaders(w http.ResponseWriter, name string, attachment bool) {
	if ct := fsutil.ContentTypeForName(name); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if attachment {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		NewName string `json:"newName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validName(req.NewName); err != nil {
		s.fail(w, r, err)
		return
	}
	rel, abs, err := s.resolve(req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rel == "" {
		s.fail(w, r, badRequest("cannot rename the storage root"))
		return
	}
	if _, err := s.gate(r.Context(), rel, identity(r).Level); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := os.Lstat(abs); err != nil {
		s.fail(w, r, err)
		return
	}
	newRel, newAbs, err := s.resolve(fsutil.JoinRel(parentRel(rel), req.NewName))
	if err != nil {
		s.fail(w, r, badRequest("cannot rename to %q", req.NewName))
		return
	}
	if _, err := os.Lstat(newAbs); err == nil {
		s.fail(w, r, fmt.Errorf("%s: %w", newRel, fsops.ErrExists))
		return
	}
	if err := os.Rename(abs, newAbs); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.rules.RenameTree(r.Context(), rel, newRel); err != nil {
		s.fail(w, r, fmt.Errorf("renamed %s, but hidden rules were not updated: %w", rel, err))
		return
	}
	logger.Info("rename %s -> %s by %s", rel, newRel, identity(r).User)
	writeJSON(w, http.StatusOK, map[string]string{"path": newRel})
}

func parentRel(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		Visible bool   `json:"visible"`
		// Level defaults to 1 when hiding.
		Level int `json:"level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rel, abs, err := s.resolve(req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rel == "" {
		s.fail(w, r, rules.ErrEmptyPath)
		return
	}
	if _, err := s.gate(r.Context(), rel, identity(r).Level); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := os.Lstat(abs); err != nil {
		s.fail(w, r, err)
		return
	}

	if req.Visible {
		if err := s.rules.Delete(r.Context(), rel); err != nil {
			s.fail(w, r, err)
			return
		}
		logger.Info("visible %s by %s", rel, identity(r).User)
		writeJSON(w, http.StatusOK, rules.HiddenRule{Path: rel})
		return
	}

	rule := rules.HiddenRule{Path: rel, LeastPermission: req.Level}
	if rule.LeastPermission == 0 {
		rule.LeastPermission = 1
	}
	if err := rule.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.rules.Insert(r.Context(), rule); err != nil {
		s.fail(w, r, err)
		return
	}
	logger.Info("hide %s at level %d by %s", rel, rule.LeastPermission, identity(r).User)
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rel, abs, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rel == "" {
		s.fail(w, r, badRequest("cannot delete the storage root"))
		return
	}
	if _, err := s.gate(r.Context(), rel, identity(r).Level); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := os.Lstat(abs); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := os.RemoveAll(abs); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.rules.DeleteTree(r.Context(), rel); err != nil {
		s.fail(w, r, fmt.Errorf("deleted %s, but hidden rules were not removed: %w", rel, err))
		return
	}
	logger.Info("delete %s by %s", rel, identity(r).User)
	w.WriteHeader(http.StatusNoContent)
}

// handleTrack returns the WebVTT subtitle track stored next to a video as
// <stem>.vtt.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	rel, _, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rel == "" {
		s.fail(w, r, badRequest("path is required"))
		return
	}
	base := path.Base(rel)
	trackRel, trackAbs, err := s.resolve(fsutil.JoinRel(parentRel(rel), strings.TrimSuffix(base, path.Ext(base))+".vtt"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	idx, err := s.gate(r.Context(), rel, identity(r).Level)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !idx.Allowed(trackRel, identity(r).Level) {
		s.fail(w, r, fmt.Errorf("%w: %s", errDenied, trackRel))
		return
	}
	b, err := os.ReadFile(trackAbs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	idx, err := access.Load(r.Context(), s.rules)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	start := time.Now()
	res, err := search.Search(r.Context(), s.root, search.Query{
		Keywords:   search.ParseKeywords(r.URL.Query().Get("keywords")),
		MaxResults: s.searchMax,
		Exclude:    s.reserved,
	}, idx, id.Level)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.RecordSearch(len(res.Entries), time.Since(start))
	writeJSON(w, http.StatusOK, res)
}

package httpserver

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"oasis/internal/archive"
	"oasis/internal/fsutil"
	"oasis/internal/logger"
	"oasis/internal/tasks"
)

func (s *Server) handleCopyMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source    string `json:"source"`
		Target    string `json:"target"`
		IsCopy    bool   `json:"isCopy"`
		Overwrite bool   `json:"overwrite"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.reserved(req.Source) || s.reserved(req.Target) || s.reserved(tasks.Destination(req.Source, req.Target)) {
		s.fail(w, r, badRequest("reserved path"))
		return
	}
	source, target := fsutil.CleanRelPath(req.Source), fsutil.CleanRelPath(req.Target)
	idx, err := s.gate(r.Context(), source, identity(r).Level)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !idx.Allowed(target, identity(r).Level) {
		s.fail(w, r, fmt.Errorf("%w: %s", errDenied, target))
		return
	}
	id, err := s.tasks.Submit(tasks.Request{
		Source:    source,
		Target:    target,
		Owner:     identity(r).UID,
		IsCopy:    req.IsCopy,
		Overwrite: req.Overwrite,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"uuid": id})
}

func (s *Server) handleCopyMoveStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.tasks.Status(r.PathValue("id"), identity(r).UID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleDownloadDir streams a directory as a ZIP archive. Once the first
// chunk is out, errors can only be logged and the client sees a truncated
// archive.
func (s *Server) handleDownloadDir(w http.ResponseWriter, r *http.Request) {
	rel, abs, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	level := identity(r).Level
	idx, err := s.gate(r.Context(), rel, level)
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

	// Hidden directories are pruned with everything beneath them.
	opts := s.archive
	opts.Exclude = func(p string, _ bool) bool {
		rel, err := fsutil.RelFromRoot(s.root, p)
		return err != nil || s.reserved(rel) || !idx.Allowed(rel, level)
	}
	opts.OnEntry = func(string, int64) { s.metrics.RecordArchiveEntry() }
	opts.OnSkip = func(p string, err error) { logger.Warn("archive %s: skipped %s: %v", rel, p, err) }

	stream := archive.New(abs, opts)
	defer stream.Close()

	name := filepath.Base(abs) + ".zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	var sent int64
	for chunk := range stream.Chunks() {
		n, err := w.Write(chunk)
		sent += int64(n)
		if err != nil {
			logger.Debug("archive %s: client went away after %d bytes: %v", rel, sent, err)
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	s.metrics.AddBytesServed("archive", sent)
	if err := stream.Err(); err != nil {
		logger.Warn("archive %s: %v", rel, err)
	}
}

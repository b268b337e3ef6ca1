package httpserver

import (
	"net/http"
	"strconv"

	"oasis/internal/logger"
	"oasis/internal/upload"
)

func (s *Server) handleUploadCreate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rel, _, err := s.resolve(q.Get("path"))
	if err != nil {
		s.fail(w, r, badRequest("invalid destination"))
		return
	}
	total := int64(-1)
	if v := q.Get("size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.fail(w, r, badRequest("invalid size"))
			return
		}
		total = n
	}
	sess, err := s.uploads.Create(rel, total, identity(r).UID, q.Get("overwrite") == "1" || q.Get("overwrite") == "true")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// session returns the caller's session named in the URL. Another user's
// session looks missing.
func (s *Server) session(r *http.Request) (upload.Session, error) {
	sess, ok := s.uploads.Get(r.PathValue("id"))
	if !ok || sess.Owner != identity(r).UID {
		return upload.Session{}, upload.ErrNotFound
	}
	return sess, nil
}

func (s *Server) handleUploadGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUploadPatch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err = s.uploads.Patch(sess.ID, r.Header.Get("Content-Range"), r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUploadFinish(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rel, size, err := s.uploads.Finish(sess.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logger.Info("upload %s finished: %s (%d bytes)", sess.ID, rel, size)
	writeJSON(w, http.StatusOK, map[string]any{"path": rel, "size": size})
}

func (s *Server) handleUploadAbort(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.uploads.Abort(sess.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

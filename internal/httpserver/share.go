package httpserver

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"oasis/internal/logger"
	"oasis/internal/ratelimiter"
	"oasis/internal/share"
)

type shareResponse struct {
	share.Token
	Query string `json:"query"`
}

func (s *Server) handleShareIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path   string `json:"path"`
		Expire int64  `json:"expire"`
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
	if _, err := s.gate(r.Context(), rel, identity(r).Level); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !st.Mode().IsRegular() {
		s.fail(w, r, badRequest("only files can be shared"))
		return
	}
	if req.Expire <= time.Now().Unix() {
		s.fail(w, r, badRequest("expire must be in the future"))
		return
	}

	tok := s.signer.Issue(rel, req.Expire)
	logger.Info("share %s until %s by %s", rel, time.Unix(req.Expire, 0).UTC().Format(time.RFC3339), identity(r).User)
	writeJSON(w, http.StatusOK, shareResponse{Token: tok, Query: tok.Query()})
}

// handleShareRedeem serves a shared file to anyone holding a valid link. The
// link itself is the capability, so hidden rules are not consulted.
func (s *Server) handleShareRedeem(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(ratelimiter.ClientIP(r, s.trustProxy)) {
		s.metrics.RecordRateLimited("share")
		w.Header().Set("Retry-After", "1")
		s.fail(w, r, errRateLimited)
		return
	}

	q := r.URL.Query()
	expire, err := strconv.ParseInt(q.Get("expire"), 10, 64)
	if err != nil {
		s.fail(w, r, badRequest("invalid expire"))
		return
	}
	if err := s.signer.Verify(q.Get("path"), expire, q.Get("hash")); err != nil {
		s.fail(w, r, err)
		return
	}
	_, abs, err := s.resolve(q.Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.serveFile(w, r, abs, false, false)
}

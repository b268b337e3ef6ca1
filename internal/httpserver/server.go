// Package httpserver exposes the storage root over HTTP: the JSON file API,
// ranged and archived downloads, share links, resumable uploads, thumbnails
// and a WebDAV view.
//
// Every path a handler touches is gated by the hidden-rule index loaded for
// that request. The server's own state directory is never visible, whatever
// the caller's level.
package httpserver

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/webdav"

	"oasis/internal/archive"
	"oasis/internal/auth"
	"oasis/internal/config"
	"oasis/internal/fsutil"
	"oasis/internal/logger"
	"oasis/internal/metrics"
	"oasis/internal/ratelimiter"
	"oasis/internal/rules"
	"oasis/internal/share"
	"oasis/internal/tasks"
	"oasis/internal/upload"
)

type Options struct {
	Config  *config.Config
	Rules   rules.Store
	Tasks   *tasks.Coordinator
	Signer  *share.Signer
	Uploads *upload.Manager
	Auth    *auth.Authenticator
	// Metrics defaults to the no-op recorder.
	Metrics metrics.Recorder
	// Limiter throttles share-link redemption. Nil disables limiting.
	Limiter *ratelimiter.KeyedLimiter
}

type Server struct {
	root       string
	stateDir   string
	stateRel   string // "" when the state dir lies outside root
	trustProxy bool
	searchMax  int
	archive    archive.Options

	rules   rules.Store
	tasks   *tasks.Coordinator
	signer  *share.Signer
	uploads *upload.Manager
	auth    *auth.Authenticator
	metrics metrics.Recorder
	limiter *ratelimiter.KeyedLimiter
}

func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Rules == nil || opts.Tasks == nil || opts.Signer == nil ||
		opts.Uploads == nil || opts.Auth == nil {
		return nil, errors.New("httpserver: config, rules, tasks, signer, uploads and auth are required")
	}
	cfg := opts.Config
	s := &Server{
		root:       cfg.Storage.Root,
		stateDir:   cfg.Storage.StateDir,
		trustProxy: cfg.Server.TrustProxy,
		searchMax:  cfg.Search.MaxResults,
		archive: archive.Options{
			BufferSize: cfg.Archive.BufferSize,
			ChunkSize:  cfg.Archive.ChunkSize,
		},
		rules:   opts.Rules,
		tasks:   opts.Tasks,
		signer:  opts.Signer,
		uploads: opts.Uploads,
		auth:    opts.Auth,
		metrics: opts.Metrics,
		limiter: opts.Limiter,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoop()
	}
	if rel, err := fsutil.RelFromRoot(s.root, s.stateDir); err == nil && rel != "" {
		s.stateRel = rel
	}
	return s, nil
}

// reserved reports whether rel is the state dir or lies beneath it.
func (s *Server) reserved(rel string) bool {
	return s.stateRel != "" && rules.Contains(s.stateRel, fsutil.CleanRelPath(rel))
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	// listing and content
	mux.Handle("GET /api/dir", s.user(s.handleListDir))
	mux.Handle("POST /api/dir", s.admin(s.handleCreateDir))
	mux.Handle("GET /api/file", s.user(s.handleFileContent))
	mux.Handle("DELETE /api/file", s.admin(s.handleDelete))
	mux.Handle("PUT /api/file/name", s.admin(s.handleRename))
	mux.Handle("PUT /api/file/visibility", s.admin(s.handleVisibility))
	mux.Handle("GET /api/file/track", s.user(s.handleTrack))
	mux.Handle("GET /api/file/search", s.user(s.handleSearch))
	mux.Handle("GET /thumb", s.user(s.handleThumb))

	// share links: issuing needs a session, redeeming only the link
	mux.Handle("POST /api/file/share", s.user(s.handleShareIssue))
	mux.HandleFunc("GET /api/file/share", s.handleShareRedeem)

	// background copy/move
	mux.Handle("POST /api/file/copy-move", s.admin(s.handleCopyMove))
	mux.Handle("GET /api/file/copy-move/{id}", s.admin(s.handleCopyMoveStatus))

	mux.Handle("GET /api/download/dir", s.admin(s.handleDownloadDir))

	// resumable uploads
	mux.Handle("POST /api/uploads", s.admin(s.handleUploadCreate))
	mux.Handle("GET /api/uploads/{id}", s.admin(s.handleUploadGet))
	mux.Handle("PATCH /api/uploads/{id}", s.admin(s.handleUploadPatch))
	mux.Handle("POST /api/uploads/{id}/finish", s.admin(s.handleUploadFinish))
	mux.Handle("DELETE /api/uploads/{id}", s.admin(s.handleUploadAbort))

	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: s.davFS(),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Debug("dav %s %s: %v", r.Method, r.URL.Path, err)
			}
		},
	}
	mux.Handle("/dav/", s.auth.Middleware(s.withDavIndex(dav)))

	if reg := metrics.GetRegistry(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return withHeaders(s.accessLog(mux))
}

// user authenticates the request (guests included when enabled).
func (s *Server) user(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		h(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// admin additionally requires the admin flag.
func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return s.user(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.RequireAdmin(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
		h(w, r)
	})
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.status = http.StatusOK
		r.wrote = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordRequest(route, rec.status, dur)
		logger.Debug("%s %s %d %s", r.Method, r.URL.Path, rec.status, dur.Round(time.Microsecond))
	})
}

package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"oasis/internal/auth"
	"oasis/internal/fsops"
	"oasis/internal/fsutil"
	"oasis/internal/logger"
	"oasis/internal/rangeserve"
	"oasis/internal/rules"
	"oasis/internal/search"
	"oasis/internal/share"
	"oasis/internal/tasks"
	"oasis/internal/upload"
)

var (
	errBadRequest  = errors.New("bad request")
	errDenied      = errors.New("permission denied")
	errRateLimited = errors.New("too many requests")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

var badRequestErrs = []error{
	errBadRequest,
	fsutil.ErrPathEscape,
	fsops.ErrExists,
	rangeserve.ErrMalformed,
	rangeserve.ErrUnsatisfiable,
	rangeserve.ErrNotRegularFile,
	tasks.ErrBusy,
	tasks.ErrForbidden,
	tasks.ErrInvalidSource,
	tasks.ErrInvalidTarget,
	tasks.ErrIntoItself,
	share.ErrInvalidSignature,
	share.ErrExpired,
	search.ErrNoKeywords,
	upload.ErrBusy,
	upload.ErrBadRange,
	upload.ErrOffset,
	upload.ErrIncomplete,
	rules.ErrEmptyPath,
	rules.ErrInvalidLevel,
}

// statusFor classifies err into the response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, os.ErrNotExist),
		errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, upload.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrForbidden),
		errors.Is(err, errDenied):
		return http.StatusUnauthorized
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	}
	for _, target := range badRequestErrs {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error. Internal errors are logged and their text
// is not sent to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
		msg = "internal server error"
	case http.StatusUnauthorized:
		if id, ok := auth.FromContext(r.Context()); !ok || id.IsGuest() {
			s.auth.SetChallenge(w.Header())
		}
	case http.StatusNotFound:
		// never echo the path back: hidden and missing look the same
		msg = "not found"
	default:
		logger.Debug("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

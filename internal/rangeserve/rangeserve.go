// Package rangeserve serves whole files and single HTTP byte ranges.
//
// Only one range per request is supported. Out-of-bounds requests are
// rejected rather than clamped.
package rangeserve

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

var (
	ErrMalformed      = errors.New("malformed range header")
	ErrUnsatisfiable  = errors.New("range not satisfiable")
	ErrNotRegularFile = errors.New("not a regular file")
)

// Span is an inclusive byte range resolved against a concrete file size.
type Span struct {
	Start int64
	End   int64
}

func (s Span) Length() int64 {
	return s.End - s.Start + 1
}

// ContentRange formats the Content-Range header value for a file of total bytes.
func (s Span) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.Start, s.End, total)
}

// Parse resolves a Range header value ("bytes=0-99", "bytes=100-", "bytes=-50")
// against size.
func Parse(header string, size int64) (Span, error) {
	v := strings.TrimSpace(header)
	if !strings.HasPrefix(v, "bytes=") {
		return Span{}, ErrMalformed
	}
	v = strings.TrimSpace(strings.TrimPrefix(v, "bytes="))
	if strings.Contains(v, ",") {
		return Span{}, fmt.Errorf("%w: multiple ranges", ErrMalformed)
	}
	first, last, ok := strings.Cut(v, "-")
	if !ok {
		return Span{}, ErrMalformed
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// suffix form: last N bytes
		n, err := parseOffset(last)
		if err != nil {
			return Span{}, err
		}
		if n == 0 || n > size {
			return Span{}, fmt.Errorf("%w: suffix %d of %d bytes", ErrUnsatisfiable, n, size)
		}
		return Span{Start: size - n, End: size - 1}, nil
	}

	start, err := parseOffset(first)
	if err != nil {
		return Span{}, err
	}
	end := size - 1
	if last != "" {
		if end, err = parseOffset(last); err != nil {
			return Span{}, err
		}
	}
	if start > end {
		return Span{}, fmt.Errorf("%w: start %d after end %d", ErrUnsatisfiable, start, end)
	}
	if end >= size {
		return Span{}, fmt.Errorf("%w: end %d beyond size %d", ErrUnsatisfiable, end, size)
	}
	return Span{Start: start, End: end}, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, ErrMalformed
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return n, nil
}

// Reader yields exactly Span.Length() bytes starting at Span.Start, even if
// the underlying file grows while it is being read.
type Reader struct {
	io.Reader
	f    *os.File
	Span Span
	Size int64
}

func (r *Reader) Close() error {
	return r.f.Close()
}

// Open stats the file, resolves header against its current size and returns a
// bounded reader.
func Open(path, header string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotRegularFile
	}
	span, err := Parse(header, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{
		Reader: io.NewSectionReader(f, span.Start, span.Length()),
		f:      f,
		Span:   span,
		Size:   st.Size(),
	}, nil
}

// WriteHeaders sets the 206 response metadata and writes the status line.
func (r *Reader) WriteHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Range", r.Span.ContentRange(r.Size))
	h.Set("Content-Length", strconv.FormatInt(r.Span.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
}

// Serve writes the ranged body. Errors after the headers are sent can only be
// returned for logging.
func (r *Reader) Serve(w http.ResponseWriter, req *http.Request) (int64, error) {
	r.WriteHeaders(w)
	if req.Method == http.MethodHead {
		return 0, nil
	}
	return io.Copy(w, r)
}

// ServeWhole writes a 200 response with the entire file.
func ServeWhole(w http.ResponseWriter, req *http.Request, f *os.File, size int64, contentType string) (int64, error) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return 0, nil
	}
	return io.CopyN(w, f, size)
}

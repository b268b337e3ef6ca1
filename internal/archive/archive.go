// Package archive streams a directory subtree as an uncompressed ZIP.
//
// A producer goroutine walks the tree and writes the archive into a bounded
// pipe; the consumer drains it as a sequence of byte chunks. Memory use is
// capped by the pipe capacity regardless of archive size.
//
// The export is best-effort: entries that cannot be opened are skipped, and
// a producer failure simply ends the chunk sequence early.
package archive

import (
	"archive/zip"
	"errors"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultBufferSize = 64 << 10
	DefaultChunkSize  = 4 << 10

	// entryMode is applied to every archived file.
	entryMode fs.FileMode = 0o644
)

// ErrClosed is the producer's error once the consumer has gone away.
var ErrClosed = errors.New("archive stream closed")

type Options struct {
	// BufferSize bounds the bytes held between producer and consumer.
	BufferSize int
	// ChunkSize is the size of each chunk handed to the consumer.
	ChunkSize int
	// OnEntry, if set, is called for every file written to the archive.
	OnEntry func(name string, size int64)
	// OnSkip, if set, is called for every entry left out of the archive.
	OnSkip func(path string, err error)
	// Exclude, if set, drops path (and everything beneath it when it is a
	// directory). It is never asked about the archive root.
	Exclude func(path string, isDir bool) bool
}

func (o *Options) normalize() {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkSize > o.BufferSize {
		o.ChunkSize = o.BufferSize
	}
}

// Stream is one in-flight archive export.
type Stream struct {
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	consumed  bool

	mu  sync.Mutex
	err error
}

// New starts producing an archive of dir in the background. The archive root
// is dir's own base name.
func New(dir string, opts Options) *Stream {
	opts.normalize()
	s := &Stream{
		chunks: make(chan []byte, opts.BufferSize/opts.ChunkSize),
		done:   make(chan struct{}),
	}
	go s.produce(dir, opts)
	return s
}

// Chunks returns the archive bytes as a lazy sequence. It can be ranged over
// once; breaking out of the loop closes the stream.
func (s *Stream) Chunks() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if s.consumed {
			return
		}
		s.consumed = true
		defer s.Close()
		for {
			select {
			case chunk, ok := <-s.chunks:
				if !ok || !yield(chunk) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

// Close detaches the consumer. The producer stops at its next write.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Err reports why the producer stopped, or nil if the archive was completed.
// It is only meaningful after Chunks has finished.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) produce(dir string, opts Options) {
	w := &chunkWriter{s: s, size: opts.ChunkSize}
	err := writeArchive(w, dir, opts)
	if err == nil {
		err = w.flush()
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.chunks)
}

func writeArchive(w io.Writer, dir string, opts Options) error {
	dir = filepath.Clean(dir)
	base := filepath.Dir(dir)
	zw := zip.NewWriter(w)

	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil || p == dir {
				return err
			}
			skip(opts, p, err)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p != dir && opts.Exclude != nil && opts.Exclude(p, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		// WalkDir never follows symlinks, so anything that is not a plain
		// file (links, devices, sockets) is dropped here.
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		name, err := filepath.Rel(base, p)
		if err != nil {
			skip(opts, p, err)
			return nil
		}
		return addFile(zw, p, filepath.ToSlash(name), opts)
	})
	if walkErr != nil {
		return walkErr
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, path, name string, opts Options) error {
	f, err := os.Open(path)
	if err != nil {
		skip(opts, path, err)
		return nil
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		if err == nil {
			err = errors.New("not a regular file")
		}
		skip(opts, path, err)
		return nil
	}

	h := &zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: info.ModTime(),
	}
	if h.Modified.IsZero() {
		h.Modified = time.Now()
	}
	h.SetMode(entryMode)
	ew, err := zw.CreateHeader(h)
	if err != nil {
		return err
	}
	n, err := io.Copy(ew, f)
	if err != nil {
		// The entry header is already out; the archive cannot be repaired.
		return err
	}
	if opts.OnEntry != nil {
		opts.OnEntry(name, n)
	}
	return nil
}

func skip(opts Options, path string, err error) {
	if opts.OnSkip != nil {
		opts.OnSkip(path, err)
	}
}

// chunkWriter accumulates bytes into fixed-size chunks and hands each full
// chunk to the bounded channel, blocking while the consumer is behind.
type chunkWriter struct {
	s    *Stream
	size int
	buf  []byte
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if c.buf == nil {
			c.buf = make([]byte, 0, c.size)
		}
		n := min(c.size-len(c.buf), len(p))
		c.buf = append(c.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(c.buf) == c.size {
			if err := c.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (c *chunkWriter) flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	select {
	case <-c.s.done:
		return ErrClosed
	default:
	}
	select {
	case c.s.chunks <- c.buf:
		c.buf = nil
		return nil
	case <-c.s.done:
		return ErrClosed
	}
}

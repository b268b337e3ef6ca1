package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"oasis/internal/fsops"
	"oasis/internal/fsutil"
	"oasis/internal/logger"
)

// A minimal resumable upload protocol:
// - POST   /api/uploads?path=<destRel>&size=<n>  => {id, offset}
// - PATCH  /api/uploads/<id> (Content-Range: bytes <start>-<end>/<total>) body=chunk
// - POST   /api/uploads/<id>/finish               => move into place
//
// State is stored on disk in <stateDir>/uploads/<id>.{part,json} so an
// interrupted upload survives a restart.

var (
	ErrNotFound   = errors.New("upload session not found")
	ErrBusy       = errors.New("upload session is being written")
	ErrBadRange   = errors.New("invalid Content-Range")
	ErrOffset     = errors.New("chunk does not start at the session offset")
	ErrIncomplete = errors.New("upload incomplete")
)

type Manager struct {
	rootAbs string
	dir     string
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	busy     map[string]bool
}

type Session struct {
	ID        string `json:"id"`
	DestRel   string `json:"destRel"`
	Owner     int64  `json:"owner"`
	Overwrite bool   `json:"overwrite"`
	Size      int64  `json:"size"`   // total if known, else -1
	Offset    int64  `json:"offset"` // written bytes
	Created   int64  `json:"created"`
	Updated   int64  `json:"updated"`
}

func New(rootAbs, stateDir string) (*Manager, error) {
	dir := filepath.Join(stateDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		rootAbs:  rootAbs,
		dir:      dir,
		now:      time.Now,
		sessions: map[string]*Session{},
		busy:     map[string]bool{},
	}
	if err := m.loadExisting(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadExisting() error {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var s Session
		if json.Unmarshal(b, &s) != nil || s.ID == "" {
			logger.Warn("upload: ignoring unreadable session file %s", e.Name())
			continue
		}
		m.sessions[s.ID] = &s
	}
	if n := len(m.sessions); n > 0 {
		logger.Info("upload: resumed %d session(s)", n)
	}
	return nil
}

// Create opens a session writing to destRel. total is the final size, or -1
// when the client does not know it yet.
func (m *Manager) Create(destRel string, total, owner int64, overwrite bool) (Session, error) {
	destRel = fsutil.CleanRelPath(destRel)
	if destRel == "" {
		return Session{}, fmt.Errorf("%w: empty destination", fsutil.ErrPathEscape)
	}
	if _, err := fsutil.JoinWithinRoot(m.rootAbs, destRel); err != nil {
		return Session{}, err
	}
	now := m.now().Unix()
	s := &Session{
		ID:        uuid.NewString(),
		DestRel:   destRel,
		Owner:     owner,
		Overwrite: overwrite,
		Size:      total,
		Created:   now,
		Updated:   now,
	}
	if err := m.save(s); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return *s, nil
}

func (m *Manager) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// acquire marks id busy so only one request writes a session at a time and
// returns a snapshot of it. Changes go back through commit.
func (m *Manager) acquire(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if m.busy[id] {
		return Session{}, ErrBusy
	}
	m.busy[id] = true
	return *s, nil
}

func (m *Manager) commit(s Session) {
	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; ok {
		m.sessions[s.ID] = &s
	}
	m.mu.Unlock()
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.busy, id)
	m.mu.Unlock()
}

// Patch appends one chunk. contentRange must start exactly at the session
// offset.
func (m *Manager) Patch(id, contentRange string, body io.Reader) (Session, error) {
	s, err := m.acquire(id)
	if err != nil {
		return Session{}, err
	}
	defer m.release(id)

	start, end, total, err := parseContentRange(contentRange)
	if err != nil {
		return Session{}, err
	}
	if start != s.Offset {
		return Session{}, fmt.Errorf("%w: have %d got %d", ErrOffset, s.Offset, start)
	}
	if s.Size < 0 && total >= 0 {
		s.Size = total
	}
	if s.Size >= 0 && total >= 0 && s.Size != total {
		return Session{}, fmt.Errorf("%w: size mismatch: have %d got %d", ErrBadRange, s.Size, total)
	}
	if s.Size >= 0 && end >= s.Size {
		return Session{}, fmt.Errorf("%w: chunk ends past size %d", ErrBadRange, s.Size)
	}

	f, err := os.OpenFile(m.partPath(id), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Session{}, err
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return Session{}, err
	}

	want := (end - start) + 1
	wrote, err := io.CopyN(f, body, want)
	if err != nil {
		return Session{}, fmt.Errorf("short chunk: %d of %d bytes: %w", wrote, want, err)
	}
	if err := f.Sync(); err != nil {
		return Session{}, err
	}

	s.Offset += wrote
	s.Updated = m.now().Unix()
	m.commit(s)
	if err := m.save(&s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Finish moves the completed upload to its destination and returns the
// destination's root-relative path and size.
func (m *Manager) Finish(id string) (string, int64, error) {
	s, err := m.acquire(id)
	if err != nil {
		return "", 0, err
	}
	defer m.release(id)

	if s.Size >= 0 && s.Offset != s.Size {
		return "", 0, fmt.Errorf("%w: offset=%d size=%d", ErrIncomplete, s.Offset, s.Size)
	}
	part := m.partPath(id)
	st, err := os.Stat(part)
	if errors.Is(err, os.ErrNotExist) && s.Offset == 0 {
		// zero-length upload: no chunk was ever written
		if err := os.WriteFile(part, nil, 0o644); err != nil {
			return "", 0, err
		}
		st, err = os.Stat(part)
	}
	if err != nil {
		return "", 0, err
	}
	if st.Size() != s.Offset {
		return "", 0, fmt.Errorf("%w: file=%d offset=%d", ErrIncomplete, st.Size(), s.Offset)
	}

	dstAbs, err := fsutil.JoinWithinRoot(m.rootAbs, s.DestRel)
	if err != nil {
		return "", 0, err
	}
	if !s.Overwrite {
		if _, err := os.Lstat(dstAbs); err == nil {
			return "", 0, fmt.Errorf("%s: %w", s.DestRel, fsops.ErrExists)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return "", 0, err
	}
	if err := os.Rename(part, dstAbs); err != nil {
		// state dir on another filesystem
		if err := fsops.CopyFile(part, dstAbs); err != nil {
			return "", 0, err
		}
		_ = os.Remove(part)
	}

	m.forget(id)
	return s.DestRel, st.Size(), nil
}

// Abort drops a session and its partial data.
func (m *Manager) Abort(id string) error {
	if _, err := m.acquire(id); err != nil {
		return err
	}
	defer m.release(id)
	_ = os.Remove(m.partPath(id))
	m.forget(id)
	return nil
}

// Prune aborts sessions not written to for longer than maxAge and returns
// how many were dropped.
func (m *Manager) Prune(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge).Unix()
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.Updated < cutoff && !m.busy[id] {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	n := 0
	for _, id := range stale {
		if m.Abort(id) == nil {
			n++
		}
	}
	if n > 0 {
		logger.Info("upload: pruned %d stale session(s)", n)
	}
	return n
}

func (m *Manager) forget(id string) {
	_ = os.Remove(filepath.Join(m.dir, id+".json"))
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) partPath(id string) string {
	return filepath.Join(m.dir, id+".part")
}

func (m *Manager) save(s *Session) error {
	b, _ := json.MarshalIndent(s, "", "  ")
	tmp := filepath.Join(m.dir, s.ID+".json.tmp")
	final := filepath.Join(m.dir, s.ID+".json")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func parseContentRange(v string) (start, end, total int64, err error) {
	// "bytes <start>-<end>/<total>" where total may be "*"
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, 0, fmt.Errorf("%w: expected bytes start-end/total", ErrBadRange)
	}
	v = strings.TrimPrefix(v, "bytes ")
	rng, tot, ok := strings.Cut(v, "/")
	if !ok {
		return 0, 0, 0, ErrBadRange
	}
	s, e, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: range", ErrBadRange)
	}
	start, err = strconv.ParseInt(s, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, 0, fmt.Errorf("%w: start", ErrBadRange)
	}
	end, err = strconv.ParseInt(e, 10, 64)
	if err != nil || end < start {
		return 0, 0, 0, fmt.Errorf("%w: end", ErrBadRange)
	}
	if tot == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(tot, 10, 64)
		if err != nil || total <= 0 || end >= total {
			return 0, 0, 0, fmt.Errorf("%w: total", ErrBadRange)
		}
	}
	return start, end, total, nil
}

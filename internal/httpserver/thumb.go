package httpserver

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"oasis/internal/fsutil"
	"oasis/internal/logger"
)

const thumbSize = 256

// handleThumb serves a JPEG thumbnail of an image, cached under the state
// dir keyed by path and modification time.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	rel, abs, err := s.resolve(r.URL.Query().Get("path"))
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
	if st.IsDir() || !fsutil.IsImageExt(filepath.Ext(abs)) {
		s.fail(w, r, badRequest("not an image"))
		return
	}

	thumbDir := filepath.Join(s.stateDir, "thumbs")
	thumbPath := filepath.Join(thumbDir, fmt.Sprintf("%s-%d.jpg", safeKey(rel), st.ModTime().Unix()))
	b, err := os.ReadFile(thumbPath)
	if err != nil {
		b, err = makeThumb(abs, thumbSize)
		if err != nil {
			logger.Debug("thumb %s: %v", rel, err)
			s.fail(w, r, badRequest("cannot decode image"))
			return
		}
		if err := os.MkdirAll(thumbDir, 0o755); err == nil {
			_ = os.WriteFile(thumbPath, b, 0o644)
		}
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(b)
}

func safeKey(rel string) string {
	rel = strings.ReplaceAll(rel, "/", "_")
	rel = strings.ReplaceAll(rel, "\\", "_")
	rel = strings.ReplaceAll(rel, "..", "_")
	if rel == "" {
		rel = "root"
	}
	return rel
}

func makeThumb(absPath string, limit int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}

	nw, nh := w, h
	if w > h {
		if w > limit {
			nw = limit
			nh = int(float64(h) * (float64(limit) / float64(w)))
		}
	} else if h > limit {
		nh = limit
		nw = int(float64(w) * (float64(limit) / float64(h)))
	}
	nw = max(nw, 1)
	nh = max(nh, 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

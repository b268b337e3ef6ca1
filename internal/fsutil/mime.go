package fsutil

import (
	"mime"
	"path/filepath"
	"strings"
)

// ContentTypeForName guesses a MIME type from the file extension, falling back
// to a built-in table for systems with sparse mime databases.
func ContentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct, ok := textExts[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	switch ext {
	// images
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	// video
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".vtt":
		return "text/vtt"
	// audio
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	default:
		return ""
	}
}

// textExts are served inline as UTF-8 text regardless of the system table.
var textExts = map[string]string{
	".txt": "text/plain; charset=utf-8", ".log": "text/plain; charset=utf-8",
	".md": "text/plain; charset=utf-8", ".json": "text/plain; charset=utf-8",
	".yaml": "text/plain; charset=utf-8", ".yml": "text/plain; charset=utf-8",
	".toml": "text/plain; charset=utf-8", ".ini": "text/plain; charset=utf-8",
	".conf": "text/plain; charset=utf-8", ".go": "text/plain; charset=utf-8",
	".js": "text/plain; charset=utf-8", ".ts": "text/plain; charset=utf-8",
	".py": "text/plain; charset=utf-8", ".rs": "text/plain; charset=utf-8",
	".java": "text/plain; charset=utf-8", ".c": "text/plain; charset=utf-8",
	".h": "text/plain; charset=utf-8", ".cpp": "text/plain; charset=utf-8",
	".sh": "text/plain; charset=utf-8", ".css": "text/plain; charset=utf-8",
	".html": "text/plain; charset=utf-8", ".csv": "text/plain; charset=utf-8",
}

// IsText reports whether the file is delivered as a text response.
func IsText(name string) bool {
	_, ok := textExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

func IsImageExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

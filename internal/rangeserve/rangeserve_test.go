package rangeserve

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   Span
		err    error
	}{
		{"first byte", "bytes=0-0", Span{0, 0}, nil},
		{"closed", "bytes=10-19", Span{10, 19}, nil},
		{"open ended", "bytes=90-", Span{90, 99}, nil},
		{"suffix", "bytes=-10", Span{90, 99}, nil},
		{"whole suffix", "bytes=-100", Span{0, 99}, nil},
		{"last byte", "bytes=99-99", Span{99, 99}, nil},
		{"end beyond size", "bytes=90-200", Span{}, ErrUnsatisfiable},
		{"end equals size", "bytes=0-100", Span{}, ErrUnsatisfiable},
		{"start after end", "bytes=20-10", Span{}, ErrUnsatisfiable},
		{"start beyond size", "bytes=150-", Span{}, ErrUnsatisfiable},
		{"suffix too long", "bytes=-101", Span{}, ErrUnsatisfiable},
		{"zero suffix", "bytes=-0", Span{}, ErrUnsatisfiable},
		{"wrong unit", "items=0-1", Span{}, ErrMalformed},
		{"multi range", "bytes=0-1,5-6", Span{}, ErrMalformed},
		{"no dash", "bytes=5", Span{}, ErrMalformed},
		{"garbage", "bytes=a-b", Span{}, ErrMalformed},
		{"empty", "bytes=-", Span{}, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.header, 100)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func writeFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	p := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p, data
}

func TestServeSingleByte(t *testing.T) {
	p, _ := writeFile(t, 100)

	r, err := Open(p, "bytes=0-0")
	require.NoError(t, err)
	defer r.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	n, err := r.Serve(rec, req)
	require.NoError(t, err)

	assert.EqualValues(t, 1, n)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-0/100", rec.Header().Get("Content-Range"))
	assert.Equal(t, "1", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, []byte{0}, rec.Body.Bytes())
}

func TestOpenRejectsOutOfBounds(t *testing.T) {
	p, _ := writeFile(t, 100)
	_, err := Open(p, "bytes=90-200")
	assert.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestReaderDoesNotReadPastEndWhenFileGrows(t *testing.T) {
	p, data := writeFile(t, 100)

	r, err := Open(p, "bytes=95-")
	require.NoError(t, err)
	defer r.Close()

	f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte{0xff}, 50))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[95:], got)
}

func TestOpenDirectory(t *testing.T) {
	_, err := Open(t.TempDir(), "bytes=0-0")
	assert.ErrorIs(t, err, ErrNotRegularFile)
}

func TestServeWhole(t *testing.T) {
	p, data := writeFile(t, 64)
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	rec := httptest.NewRecorder()
	_, err = ServeWhole(rec, httptest.NewRequest(http.MethodGet, "/", nil), f, int64(len(data)), "application/octet-stream")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "64", rec.Header().Get("Content-Length"))
	assert.Equal(t, data, rec.Body.Bytes())
}

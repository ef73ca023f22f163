package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerClientBoundsHeaderWait(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRunner(nil, nil, Config{}, &logger)

	// Long transfers keep running, but a hung server must not block a
	// worker slot before response headers arrive.
	tr, ok := r.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Greater(t, tr.ResponseHeaderTimeout, time.Duration(0))
	assert.Zero(t, r.httpClient.Timeout)
}

func TestFetchFile(t *testing.T) {
	content := strings.Repeat("x", 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		fmt.Fprint(w, content)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")

	var lastPercent float64
	progress := func(percent float64, downloaded, total int64, speed float64, eta int64) {
		lastPercent = percent
	}

	err := fetchFile(context.Background(), server.Client(), server.URL, "", dest, 1024, progress)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
	assert.InDelta(t, 100, lastPercent, 0.001)
}

func TestFetchFileResumesPartial(t *testing.T) {
	content := "0123456789abcdef"
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if gotRange == "" {
			fmt.Fprint(w, content)
			return
		}
		var offset int
		fmt.Sscanf(gotRange, "bytes=%d-", &offset)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, content[offset:])
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(dest, []byte(content[:8]), 0o644))

	err := fetchFile(context.Background(), server.Client(), server.URL, "", dest, 4, nil)
	require.NoError(t, err)

	assert.Equal(t, "bytes=8-", gotRange)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestFetchFileRestartsWhenRangeIgnored(t *testing.T) {
	content := "full content from scratch"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 despite the Range header: the partial must be discarded.
		fmt.Fprint(w, content)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(dest, []byte("stale partial"), 0o644))

	err := fetchFile(context.Background(), server.Client(), server.URL, "", dest, 8, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestFetchFileErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	err := fetchFile(context.Background(), server.Client(), server.URL, "", dest, 8, nil)
	assert.ErrorContains(t, err, "status 403")
}

func TestFetchFileForwardsReferer(t *testing.T) {
	var gotReferer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	err := fetchFile(context.Background(), server.Client(), server.URL, "https://voe.sx/e/abc", dest, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://voe.sx/e/abc", gotReferer)
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		url  string
		hls  bool
		want string
	}{
		{"https://cdn/video.mp4", false, ".mp4"},
		{"https://cdn/video.MKV?token=abc", false, ".mkv"},
		{"https://cdn/video.webm#frag", false, ".webm"},
		{"https://cdn/master.m3u8", true, ".mkv"},
		{"https://cdn/stream", false, ".mp4"},
		{"https://cdn/file.exe", false, ".mp4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extensionFor(tt.url, tt.hls), "url %s", tt.url)
	}
}

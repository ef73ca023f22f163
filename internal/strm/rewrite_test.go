package strm

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proxyWrap(t *testing.T) WrapFunc {
	t.Helper()
	return func(absolute string) (string, bool) {
		if strings.Contains(absolute, "bridge.local") {
			return "", false
		}
		return "http://bridge.local/strm/proxy?u=" + url.QueryEscape(absolute), true
	}
}

func TestRewriteMasterPlaylist(t *testing.T) {
	body := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080",
		"1080p/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720",
		"https://cdn.example.com/hls/720p/index.m3u8",
		"",
	}, "\n")

	base, err := url.Parse("https://cdn.example.com/hls/master.m3u8")
	require.NoError(t, err)

	out := RewritePlaylist(body, base, proxyWrap(t))
	lines := strings.Split(out, "\n")

	assert.True(t, IsMasterPlaylist(body))
	// Tag lines pass through byte for byte.
	assert.Equal(t, "#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080", lines[1])
	// Relative variant resolved against the playlist URL, then wrapped.
	assert.Equal(t,
		"http://bridge.local/strm/proxy?u="+url.QueryEscape("https://cdn.example.com/hls/1080p/index.m3u8"),
		lines[2])
	assert.Equal(t,
		"http://bridge.local/strm/proxy?u="+url.QueryEscape("https://cdn.example.com/hls/720p/index.m3u8"),
		lines[4])
	// Trailing empty line preserved.
	assert.Equal(t, "", lines[5])
}

func TestRewriteMediaPlaylistWithKeyAndMap(t *testing.T) {
	body := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:7",
		"#EXT-X-TARGETDURATION:6",
		`#EXT-X-KEY:METHOD=AES-128,URI="enc.key",IV=0x9c7db8778570d29d`,
		`#EXT-X-MAP:URI="init.mp4"`,
		"#EXTINF:6.000,",
		"seg-001.ts",
		"#EXTINF:6.000,",
		"seg-002.ts",
		"#EXT-X-ENDLIST",
	}, "\n")

	base, err := url.Parse("https://cdn.example.com/hls/1080p/index.m3u8")
	require.NoError(t, err)

	out := RewritePlaylist(body, base, proxyWrap(t))

	assert.False(t, IsMasterPlaylist(body))
	assert.Contains(t, out,
		`#EXT-X-KEY:METHOD=AES-128,URI="http://bridge.local/strm/proxy?u=`+
			url.QueryEscape("https://cdn.example.com/hls/1080p/enc.key")+`",IV=0x9c7db8778570d29d`)
	assert.Contains(t, out,
		`#EXT-X-MAP:URI="http://bridge.local/strm/proxy?u=`+
			url.QueryEscape("https://cdn.example.com/hls/1080p/init.mp4")+`"`)
	assert.Contains(t, out,
		"http://bridge.local/strm/proxy?u="+url.QueryEscape("https://cdn.example.com/hls/1080p/seg-001.ts"))
	// Non-URI tags untouched.
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:6")
	assert.Contains(t, out, "#EXT-X-ENDLIST")
}

func TestRewriteAlternateRenditions(t *testing.T) {
	body := `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="German",URI="audio/de/index.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=5000000,AUDIO="aud"
video/index.m3u8`

	base, err := url.Parse("https://cdn.example.com/hls/master.m3u8")
	require.NoError(t, err)

	out := RewritePlaylist(body, base, proxyWrap(t))
	assert.Contains(t, out,
		`URI="http://bridge.local/strm/proxy?u=`+
			url.QueryEscape("https://cdn.example.com/hls/audio/de/index.m3u8")+`"`)
	// Attributes around the URI survive.
	assert.Contains(t, out, `TYPE=AUDIO,GROUP-ID="aud",NAME="German"`)
}

func TestRewriteSkipsBridgeURLs(t *testing.T) {
	body := "#EXTM3U\nhttp://bridge.local/strm/proxy?u=already-wrapped\nseg.ts"

	base, err := url.Parse("https://cdn.example.com/hls/index.m3u8")
	require.NoError(t, err)

	out := RewritePlaylist(body, base, proxyWrap(t))
	lines := strings.Split(out, "\n")

	assert.Equal(t, "http://bridge.local/strm/proxy?u=already-wrapped", lines[1])
	assert.Equal(t,
		"http://bridge.local/strm/proxy?u="+url.QueryEscape("https://cdn.example.com/hls/seg.ts"),
		lines[2])
}

func TestRewritePreservesCarriageReturns(t *testing.T) {
	body := "#EXTM3U\r\nseg.ts\r\n"

	base, err := url.Parse("https://cdn.example.com/hls/index.m3u8")
	require.NoError(t, err)

	out := RewritePlaylist(body, base, proxyWrap(t))
	assert.Equal(t,
		"#EXTM3U\r\n"+
			"http://bridge.local/strm/proxy?u="+url.QueryEscape("https://cdn.example.com/hls/seg.ts")+"\r\n",
		out)
}

func TestIsPlaylistContentType(t *testing.T) {
	tests := []struct {
		contentType string
		urlPath     string
		want        bool
	}{
		{"application/vnd.apple.mpegurl", "/x", true},
		{"application/x-mpegURL; charset=utf-8", "/x", true},
		{"audio/mpegurl", "/x", true},
		{"video/mp2t", "/hls/index.m3u8", true},
		{"video/mp2t", "/hls/seg-001.ts", false},
		{"application/octet-stream", "/file.mp4", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPlaylistContentType(tt.contentType, tt.urlPath),
			"ct=%q path=%q", tt.contentType, tt.urlPath)
	}
}

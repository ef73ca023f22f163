package strm

import (
	"net/url"
	"regexp"
	"strings"
)

// WrapFunc turns an absolute upstream URL into a bridge proxy URL. A
// false return leaves the line untouched (loop prevention: URLs already
// pointing at this bridge must not be wrapped twice).
type WrapFunc func(absoluteURL string) (string, bool)

// uriBearingTags carry a URI="..." attribute that points at fetchable
// content and must be rewritten like a URI line.
var uriBearingTags = []string{
	"#EXT-X-KEY",
	"#EXT-X-MAP",
	"#EXT-X-MEDIA",
	"#EXT-X-I-FRAME-STREAM-INF",
	"#EXT-X-SESSION-KEY",
	"#EXT-X-SESSION-DATA",
	"#EXT-X-PRELOAD-HINT",
	"#EXT-X-RENDITION-REPORT",
}

var uriAttrPattern = regexp.MustCompile(`URI="([^"]*)"`)

// IsMasterPlaylist reports whether a playlist body is a master playlist
// (lists variant streams) rather than a media playlist (lists segments).
func IsMasterPlaylist(body string) bool {
	return strings.Contains(body, "#EXT-X-STREAM-INF") ||
		strings.Contains(body, "#EXT-X-I-FRAME-STREAM-INF")
}

// IsPlaylistContentType reports whether an upstream response looks like
// an HLS playlist by media type or URL path.
func IsPlaylistContentType(contentType, urlPath string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "application/vnd.apple.mpegurl") ||
		strings.Contains(ct, "application/x-mpegurl") ||
		strings.Contains(ct, "audio/mpegurl") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(urlPath), ".m3u8")
}

// RewritePlaylist rewrites every fetchable URI in an HLS playlist to
// point at the bridge. Applies to master and media playlists alike:
// bare URI lines and the URI attributes of URI-bearing tags are
// resolved against the playlist URL, wrapped, and replaced; every other
// byte passes through unchanged.
func RewritePlaylist(body string, playlistURL *url.URL, wrap WrapFunc) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		suffix := line[len(trimmed):]

		stripped := strings.TrimSpace(trimmed)
		if stripped == "" {
			continue
		}

		if strings.HasPrefix(stripped, "#") {
			if !hasURIBearingTag(stripped) {
				continue
			}
			rewritten := uriAttrPattern.ReplaceAllStringFunc(trimmed, func(attr string) string {
				m := uriAttrPattern.FindStringSubmatch(attr)
				if len(m) != 2 || m[1] == "" {
					return attr
				}
				wrapped, ok := wrapURI(m[1], playlistURL, wrap)
				if !ok {
					return attr
				}
				return `URI="` + wrapped + `"`
			})
			lines[i] = rewritten + suffix
			continue
		}

		// A non-comment, non-empty line is a URI.
		if wrapped, ok := wrapURI(stripped, playlistURL, wrap); ok {
			lines[i] = wrapped + suffix
		}
	}
	return strings.Join(lines, "\n")
}

func hasURIBearingTag(line string) bool {
	for _, tag := range uriBearingTags {
		if strings.HasPrefix(line, tag+":") || line == tag {
			return true
		}
	}
	return false
}

// wrapURI resolves a possibly relative reference against the playlist
// URL and hands the absolute form to the wrap function.
func wrapURI(ref string, playlistURL *url.URL, wrap WrapFunc) (string, bool) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	absolute := playlistURL.ResolveReference(parsed).String()
	return wrap(absolute)
}

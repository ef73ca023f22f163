package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// VOE hides the HLS URL base64-encoded in an inline script, sometimes
// behind one more window.location hop to a mirror domain.
var (
	voeRedirectPattern = regexp.MustCompile(`window\.location\.href\s*=\s*'(https?://[^']+)'`)
	voeHLSPattern      = regexp.MustCompile(`'hls'\s*:\s*'([A-Za-z0-9+/=]+)'`)
	voeSourcePattern   = regexp.MustCompile(`'mp4'\s*:\s*'([A-Za-z0-9+/=]+)'`)
)

func extractVOE(ctx context.Context, s *Service, embedURL string) (*Result, error) {
	body, err := s.fetchEmbed(ctx, embedURL, "")
	if err != nil {
		return nil, err
	}

	if m := voeRedirectPattern.FindStringSubmatch(body); len(m) == 2 {
		embedURL = m[1]
		body, err = s.fetchEmbed(ctx, embedURL, "")
		if err != nil {
			return nil, err
		}
	}

	if m := voeHLSPattern.FindStringSubmatch(body); len(m) == 2 {
		decoded, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return nil, fmt.Errorf("decode hls payload: %w", err)
		}
		return &Result{URL: string(decoded), IsHLS: true, Referer: embedURL}, nil
	}
	if m := voeSourcePattern.FindStringSubmatch(body); len(m) == 2 {
		decoded, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return nil, fmt.Errorf("decode mp4 payload: %w", err)
		}
		return &Result{URL: string(decoded), Referer: embedURL}, nil
	}

	return nil, ErrNoStream
}

// Filemoon ships a packed jwplayer setup; the m3u8 URL survives packing
// literally, split at most by string concatenation.
var filemoonFilePattern = regexp.MustCompile(`file\s*:\s*"(https?://[^"]+\.m3u8[^"]*)"`)

func extractFilemoon(ctx context.Context, s *Service, embedURL string) (*Result, error) {
	body, err := s.fetchEmbed(ctx, embedURL, "")
	if err != nil {
		return nil, err
	}

	unpacked := body
	if packed := findPackedScript(body); packed != "" {
		unpacked = body + "\n" + unpackEval(packed)
	}

	if m := filemoonFilePattern.FindStringSubmatch(unpacked); len(m) == 2 {
		return &Result{URL: m[1], IsHLS: true, Referer: embedURL}, nil
	}
	return nil, ErrNoStream
}

// Vidoza inlines plain mp4 sources.
var vidozaSourcePattern = regexp.MustCompile(`src\s*:\s*"(https?://[^"]+\.mp4[^"]*)"`)

func extractVidoza(ctx context.Context, s *Service, embedURL string) (*Result, error) {
	body, err := s.fetchEmbed(ctx, embedURL, "")
	if err != nil {
		return nil, err
	}
	if m := vidozaSourcePattern.FindStringSubmatch(body); len(m) == 2 {
		return &Result{URL: m[1], Referer: embedURL}, nil
	}
	if m := regexp.MustCompile(`<source[^>]+src="(https?://[^"]+)"`).FindStringSubmatch(body); len(m) == 2 {
		return &Result{URL: m[1], Referer: embedURL}, nil
	}
	return nil, ErrNoStream
}

// Streamtape builds the video URL from a base link plus a token that the
// page assembles with substring tricks.
var (
	streamtapeLinkPattern  = regexp.MustCompile(`id="botlink"[^>]*>([^<]+)<`)
	streamtapeTokenPattern = regexp.MustCompile(`\('xcd([^']+)'\)`)
)

func extractStreamtape(ctx context.Context, s *Service, embedURL string) (*Result, error) {
	body, err := s.fetchEmbed(ctx, embedURL, "")
	if err != nil {
		return nil, err
	}

	link := streamtapeLinkPattern.FindStringSubmatch(body)
	token := streamtapeTokenPattern.FindStringSubmatch(body)
	if len(link) != 2 || len(token) != 2 {
		return nil, ErrNoStream
	}

	videoURL := strings.TrimSpace(link[1]) + token[1] + "&stream=1"
	if strings.HasPrefix(videoURL, "//") {
		videoURL = "https:" + videoURL
	}
	return &Result{URL: videoURL, Referer: embedURL}, nil
}

// Doodstream requires a pass_md5 round trip; the final URL appends a
// token and expiry from the pass response.
var doodPassPattern = regexp.MustCompile(`\$\.get\('(/pass_md5/[^']+)'`)

func extractDoodstream(ctx context.Context, s *Service, embedURL string) (*Result, error) {
	body, err := s.fetchEmbed(ctx, embedURL, "")
	if err != nil {
		return nil, err
	}

	m := doodPassPattern.FindStringSubmatch(body)
	if len(m) != 2 {
		return nil, ErrNoStream
	}

	base, err := url.Parse(embedURL)
	if err != nil {
		return nil, err
	}
	passURL := base.Scheme + "://" + base.Host + m[1]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, passURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", embedURL)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pass_md5: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pass_md5: status %d", resp.StatusCode)
	}

	buf := make([]byte, 1024)
	n, _ := resp.Body.Read(buf)
	streamBase := strings.TrimSpace(string(buf[:n]))
	if streamBase == "" {
		return nil, ErrNoStream
	}

	token := m[1][strings.LastIndex(m[1], "/")+1:]
	return &Result{
		URL:     fmt.Sprintf("%szUEJeL3mUN?token=%s", streamBase, token),
		Referer: embedURL,
	}, nil
}

// LoadX answers a POST with a JSON body carrying the stream URL.
func extractLoadX(ctx context.Context, s *Service, embedURL string) (*Result, error) {
	parsed, err := url.Parse(embedURL)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return nil, ErrNoStream
	}
	fileCode := parts[len(parts)-1]

	apiURL := fmt.Sprintf("%s://%s/player/index.php?data=%s&do=getVideo", parsed.Scheme, parsed.Host, fileCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getVideo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getVideo: status %d", resp.StatusCode)
	}

	var payload struct {
		VideoSource string `json:"videoSource"`
		SecuredLink string `json:"securedLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("getVideo: decode: %w", err)
	}

	streamURL := payload.VideoSource
	if streamURL == "" {
		streamURL = payload.SecuredLink
	}
	if streamURL == "" {
		return nil, ErrNoStream
	}
	return &Result{URL: streamURL, IsHLS: strings.Contains(streamURL, ".m3u8")}, nil
}

// findPackedScript pulls the eval(function(p,a,c,k,e,d)...) blob out of
// a page, if present.
func findPackedScript(body string) string {
	start := strings.Index(body, "eval(function(p,a,c,k,e,d)")
	if start < 0 {
		return ""
	}
	end := strings.Index(body[start:], "</script>")
	if end < 0 {
		return body[start:]
	}
	return body[start : start+end]
}

// unpackEval reverses Dean Edwards' p.a.c.k.e.r blob. Best effort:
// extraction falls back to scanning the raw page when unpacking fails.
var packedArgsPattern = regexp.MustCompile(`\}\('(.*)',(\d+),(\d+),'([^']*)'\.split\('\|'\)`)

func unpackEval(packed string) string {
	m := packedArgsPattern.FindStringSubmatch(packed)
	if len(m) != 5 {
		return ""
	}
	payload := m[1]
	radix := parseIntDefault(m[2], 36)
	words := strings.Split(m[4], "|")

	return regexp.MustCompile(`\b\w+\b`).ReplaceAllStringFunc(payload, func(token string) string {
		idx := parseRadix(token, radix)
		if idx >= 0 && idx < len(words) && words[idx] != "" {
			return words[idx]
		}
		return token
	})
}

func parseIntDefault(s string, def int) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return def
	}
	return n
}

func parseRadix(s string, radix int) int {
	n := 0
	for _, r := range s {
		var d int
		switch {
		case r >= '0' && r <= '9':
			d = int(r - '0')
		case r >= 'a' && r <= 'z':
			d = int(r-'a') + 10
		case r >= 'A' && r <= 'Z':
			d = int(r-'A') + 36
		default:
			return -1
		}
		if d >= radix {
			return -1
		}
		n = n*radix + d
	}
	return n
}

// Package release builds scene-style release names for completed
// downloads and STRM files, e.g.
// Series.Name.S01E05.1080p.WEB.H264.GER-ANIWORLD.
package release

import (
	"fmt"
	"regexp"
	"strings"
)

// Params carries everything that goes into a release name.
type Params struct {
	Title    string
	Season   int
	Episode  int
	Height   int    // probed pixel height, 0 when unknown
	VCodec   string // ffprobe codec name, "" when unknown
	Language string // language tag, e.g. "GER", "GER.SUB", "ENG"
	Group    string // release group, per site
	// TitleHint, when set, is the display name the initiating client
	// grabbed. Its SxxEyy token overrides Season/Episode so the final
	// file matches what that client expects to import.
	TitleHint string
}

var seasonEpisodePattern = regexp.MustCompile(`(?i)S(\d{1,4})E(\d{1,4})`)

// Name assembles the dotted release name, without extension.
func Name(p Params) string {
	season, episode := p.Season, p.Episode
	if p.TitleHint != "" {
		if m := seasonEpisodePattern.FindStringSubmatch(p.TitleHint); len(m) == 3 {
			season = atoiOr(m[1], season)
			episode = atoiOr(m[2], episode)
		}
	}

	parts := []string{
		DotTitle(p.Title),
		fmt.Sprintf("S%02dE%02d", season, episode),
		qualityToken(p.Height),
		"WEB",
		codecToken(p.VCodec),
	}

	name := strings.Join(parts, ".")
	if p.Language != "" {
		name += "." + p.Language
	}
	if p.Group != "" {
		name += "-" + p.Group
	}
	return name
}

func qualityToken(height int) string {
	switch {
	case height >= 2000:
		return "2160p"
	case height >= 1000:
		return "1080p"
	case height >= 700:
		return "720p"
	case height > 0:
		return "480p"
	default:
		// Unknown quality still needs a token or arr quality parsers
		// downgrade the release; claim the catalogue's common case.
		return "1080p"
	}
}

func codecToken(vcodec string) string {
	switch strings.ToLower(vcodec) {
	case "hevc", "h265", "x265":
		return "H265"
	case "av1":
		return "AV1"
	default:
		return "H264"
	}
}

// DotTitle converts a display title to its dotted scene form: illegal
// characters dropped, word gaps collapsed to single dots. Hyphens inside
// a word survive ("9-1-1", "Eighty-Six"); standalone ones are gaps.
func DotTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastDot := true
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDot = false
		case r == '-':
			if !lastDot {
				b.WriteRune(r)
			}
		case r == '\'', r == '´', r == '`':
			// drop apostrophes without a gap
		default:
			if !lastDot {
				b.WriteByte('.')
				lastDot = true
			}
		}
	}
	return strings.TrimRight(b.String(), ".-")
}

// TitleFromSlug converts a catalogue slug to a display title:
// "attack-on-titan" becomes "Attack On Titan". Runs of numeric words
// keep their hyphens so titles like "9-1-1" round-trip.
func TitleFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	var b strings.Builder
	b.Grow(len(slug))
	prevNumeric := false
	for _, w := range words {
		if w == "" {
			continue
		}
		numeric := isDigits(w)
		if b.Len() > 0 {
			if numeric && prevNumeric {
				b.WriteByte('-')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(strings.ToUpper(w[:1]) + w[1:])
		prevNumeric = numeric
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SanitizeFilename strips path separators and traversal from a file
// name so catalogue-derived titles can never escape the download dir.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "\x00", "")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.Trim(name, ". ")
	if name == "" {
		name = "unnamed"
	}
	return name
}

func atoiOr(s string, def int) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}

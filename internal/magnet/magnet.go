// Package magnet encodes episode identity into synthetic BitTorrent
// magnet URIs. The magnets carry no real torrent; they are the transport
// between the Torznab indexer façade and the qBittorrent control façade.
package magnet

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/anibridge/anibridge/internal/catalog"
)

// Mode selects what the job produced from a magnet does.
type Mode string

const (
	ModeDownload Mode = "download"
	ModeStrm     Mode = "strm"
)

// Typed decode failures.
var (
	ErrNotMagnet      = errors.New("magnet: not a magnet URI")
	ErrMissingPayload = errors.New("magnet: missing episode payload")
	ErrBadPayload     = errors.New("magnet: malformed episode payload")
)

// Payload is the episode identity carried by a synthetic magnet.
type Payload struct {
	Site        catalog.Site
	Slug        string
	Season      int
	Episode     int
	Language    string
	Provider    string
	Mode        Mode
	DisplayName string
	Size        int64 // plausible fake byte count for arr size filters
	Absolute    int   // absolute episode number, 0 when absent
}

// InfoHash derives the deterministic 40-hex digest for a payload.
// Distinct modes yield distinct hashes so download and STRM variants of
// one episode coexist in the client façade.
func (p *Payload) InfoHash() string {
	canonical := fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s",
		p.Site, p.Slug, p.Season, p.Episode, p.Language, p.Provider, p.mode())
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func (p *Payload) mode() Mode {
	if p.Mode == "" {
		return ModeDownload
	}
	return p.Mode
}

// prefix returns the query-parameter prefix for the payload's site.
func (p *Payload) prefix() string {
	return catalog.Describe(p.Site).MagnetPrefix
}

// Encode renders the payload as a magnet URI.
func (p *Payload) Encode() string {
	pre := p.prefix()

	params := url.Values{}
	params.Set("dn", p.DisplayName)
	params.Set("xl", strconv.FormatInt(p.Size, 10))
	params.Set(pre+"_slug", p.Slug)
	params.Set(pre+"_s", strconv.Itoa(p.Season))
	params.Set(pre+"_e", strconv.Itoa(p.Episode))
	params.Set(pre+"_lang", p.Language)
	params.Set(pre+"_provider", p.Provider)
	params.Set(pre+"_site", string(p.Site))
	if p.mode() == ModeStrm {
		params.Set(pre+"_mode", string(ModeStrm))
	}
	if p.Absolute > 0 {
		params.Set(pre+"_abs", strconv.Itoa(p.Absolute))
	}

	return fmt.Sprintf("magnet:?xt=urn:btih:%s&%s", p.InfoHash(), params.Encode())
}

// Decode parses a magnet URI back into a payload. It is the inverse of
// Encode over well-formed payloads and rejects anything else with a
// typed error.
func Decode(raw string) (*Payload, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "magnet:?") {
		return nil, ErrNotMagnet
	}

	params, err := url.ParseQuery(strings.TrimPrefix(raw, "magnet:?"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	prefix, err := detectPrefix(params)
	if err != nil {
		return nil, err
	}

	slug := params.Get(prefix + "_slug")
	siteParam := params.Get(prefix + "_site")
	if slug == "" || siteParam == "" {
		return nil, ErrMissingPayload
	}

	site, err := catalog.ParseSite(siteParam)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	season, err := strconv.Atoi(params.Get(prefix + "_s"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad season", ErrBadPayload)
	}
	episode, err := strconv.Atoi(params.Get(prefix + "_e"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad episode", ErrBadPayload)
	}

	mode := ModeDownload
	switch params.Get(prefix + "_mode") {
	case "":
	case string(ModeStrm):
		mode = ModeStrm
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrBadPayload, params.Get(prefix+"_mode"))
	}

	absolute := 0
	if abs := params.Get(prefix + "_abs"); abs != "" {
		absolute, err = strconv.Atoi(abs)
		if err != nil || absolute < 0 {
			return nil, fmt.Errorf("%w: bad absolute number", ErrBadPayload)
		}
	}

	size := int64(0)
	if xl := params.Get("xl"); xl != "" {
		size, err = strconv.ParseInt(xl, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad size", ErrBadPayload)
		}
	}

	return &Payload{
		Site:        site,
		Slug:        slug,
		Season:      season,
		Episode:     episode,
		Language:    params.Get(prefix + "_lang"),
		Provider:    params.Get(prefix + "_provider"),
		Mode:        mode,
		DisplayName: params.Get("dn"),
		Size:        size,
		Absolute:    absolute,
	}, nil
}

// detectPrefix finds which parameter prefix the magnet carries. A magnet
// carrying both prefixes is ambiguous and rejected.
func detectPrefix(params url.Values) (string, error) {
	hasAw := params.Has("aw_slug")
	hasSto := params.Has("sto_slug")

	switch {
	case hasAw && hasSto:
		return "", fmt.Errorf("%w: both aw_ and sto_ payloads present", ErrBadPayload)
	case hasAw:
		return "aw", nil
	case hasSto:
		return "sto", nil
	default:
		return "", ErrMissingPayload
	}
}

// InfoHashFromMagnet extracts the xt urn:btih digest without decoding the
// full payload. Used for delete/info lookups keyed by hash alone.
func InfoHashFromMagnet(raw string) (string, error) {
	if !strings.HasPrefix(raw, "magnet:?") {
		return "", ErrNotMagnet
	}
	params, err := url.ParseQuery(strings.TrimPrefix(raw, "magnet:?"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	xt := params.Get("xt")
	const urnPrefix = "urn:btih:"
	if !strings.HasPrefix(xt, urnPrefix) {
		return "", fmt.Errorf("%w: missing xt", ErrBadPayload)
	}
	hash := strings.ToLower(strings.TrimPrefix(xt, urnPrefix))
	if len(hash) != 40 {
		return "", fmt.Errorf("%w: infohash length %d", ErrBadPayload, len(hash))
	}
	return hash, nil
}

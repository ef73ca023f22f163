// Package catalog models the streaming catalogue sites the bridge fronts
// and provides clients for their public pages: title indices, episode
// pages, search suggestions, and special-episode listings.
package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// Site identifies a configured catalogue site.
type Site string

const (
	SiteAniWorld Site = "aniworld.to"
	SiteSTO      Site = "s.to"
	SiteMegakino Site = "megakino"
)

// ParseSite normalises a site name or host into a Site.
func ParseSite(s string) (Site, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aniworld", "aniworld.to", "www.aniworld.to":
		return SiteAniWorld, nil
	case "s.to", "sto", "serienstream", "186.2.175.5":
		return SiteSTO, nil
	case "megakino", "megakino.me", "megakino.to":
		return SiteMegakino, nil
	}
	return "", fmt.Errorf("unknown site %q", s)
}

// Capabilities describes what a catalogue adapter supports.
type Capabilities struct {
	IndexFetch     bool // alphabet/landing page title index
	SearchSuggest  bool // remote suggest API fallback
	EpisodeListing bool // per-episode language/provider listing
	SpecialParsing bool // /filme special-episode page
}

// Descriptor is the static description of one catalogue site.
type Descriptor struct {
	Site             Site
	BaseURL          string
	DefaultLanguages []string
	ReleaseGroup     string // group token in release names, e.g. ANIWORLD
	MagnetPrefix     string // query-parameter prefix in synthetic magnets
	HasAlphabetIndex bool
	Caps             Capabilities

	// slugPattern extracts a slug from a site URL.
	slugPattern *regexp.Regexp
	// streamPath formats the series page path for a slug.
	streamPath string
}

var descriptors = map[Site]Descriptor{
	SiteAniWorld: {
		Site:             SiteAniWorld,
		BaseURL:          "https://aniworld.to",
		DefaultLanguages: []string{"German Dub", "German Sub", "English Sub"},
		ReleaseGroup:     "ANIWORLD",
		MagnetPrefix:     "aw",
		HasAlphabetIndex: true,
		Caps: Capabilities{
			IndexFetch:     true,
			EpisodeListing: true,
			SpecialParsing: true,
		},
		slugPattern: regexp.MustCompile(`(?:aniworld\.to)?/anime/stream/([a-z0-9-]+)`),
		streamPath:  "/anime/stream/%s",
	},
	SiteSTO: {
		Site:             SiteSTO,
		BaseURL:          "https://s.to",
		DefaultLanguages: []string{"German Dub", "German Sub", "English Sub"},
		ReleaseGroup:     "STO",
		MagnetPrefix:     "sto",
		HasAlphabetIndex: true,
		Caps: Capabilities{
			IndexFetch:     true,
			SearchSuggest:  true,
			EpisodeListing: true,
		},
		slugPattern: regexp.MustCompile(`(?:s\.to)?/serie(?:/stream)?/([a-z0-9-]+)`),
		streamPath:  "/serie/%s",
	},
	SiteMegakino: {
		Site:             SiteMegakino,
		BaseURL:          "https://megakino.me",
		DefaultLanguages: []string{"German Dub"},
		ReleaseGroup:     "MEGAKINO",
		MagnetPrefix:     "aw",
		HasAlphabetIndex: false,
		Caps:             Capabilities{EpisodeListing: true},
		slugPattern:      regexp.MustCompile(`megakino\.[a-z]+/([a-z0-9-]+)\.html`),
		streamPath:       "/%s.html",
	},
}

// Describe returns the descriptor for a site.
func Describe(site Site) Descriptor {
	return descriptors[site]
}

// SeriesURL returns the series page URL for a slug.
func (d Descriptor) SeriesURL(slug string) string {
	return d.BaseURL + fmt.Sprintf(d.streamPath, slug)
}

// EpisodeURL returns the episode page URL. Season 0 maps to the /filme
// special listing where episode is the film index.
func (d Descriptor) EpisodeURL(slug string, season, episode int) string {
	if season == 0 && d.Site == SiteAniWorld {
		return fmt.Sprintf("%s/anime/stream/%s/filme/film-%d", d.BaseURL, slug, episode)
	}
	return fmt.Sprintf("%s/staffel-%d/episode-%d", d.SeriesURL(slug), season, episode)
}

// SlugFromURL extracts a slug from a URL belonging to this site.
// Returns "" when the URL does not match.
func (d Descriptor) SlugFromURL(raw string) string {
	if d.slugPattern == nil {
		return ""
	}
	m := d.slugPattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Language keys used by the episode pages' data-lang-key attributes.
var langKeyLabels = map[string]string{
	"1": "German Dub",
	"2": "English Sub",
	"3": "German Sub",
}

// LanguageLabel maps a site language key to its display label.
func LanguageLabel(key string) string {
	if label, ok := langKeyLabels[key]; ok {
		return label
	}
	return ""
}

// LanguageKey maps a display label back to the site language key.
func LanguageKey(label string) string {
	for k, v := range langKeyLabels {
		if strings.EqualFold(v, label) {
			return k
		}
	}
	return ""
}

// LanguageTag returns the short release-name token for a language label.
func LanguageTag(label string) string {
	switch strings.ToLower(label) {
	case "german dub":
		return "GER"
	case "german sub":
		return "GER.SUB"
	case "english sub", "english dub":
		return "ENG"
	default:
		return "MULTI"
	}
}

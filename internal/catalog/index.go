package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IndexEntry is one series in a site's title index.
type IndexEntry struct {
	Slug      string
	Title     string
	AltTitles []string
}

// FetchIndex scrapes the full title index of a site. Sites without an
// alphabet index (megakino) return an error; the resolver treats them as
// search-only.
func (c *Client) FetchIndex(ctx context.Context, site Site) ([]IndexEntry, error) {
	desc := Describe(site)
	if !desc.Caps.IndexFetch {
		return nil, fmt.Errorf("site %s has no title index", site)
	}

	doc, fromSnapshot := c.snapshotDocument(site)
	if !fromSnapshot {
		var pageURL string
		switch site {
		case SiteAniWorld:
			pageURL = desc.BaseURL + "/animes-alphabet"
		case SiteSTO:
			pageURL = desc.BaseURL + "/serien?by=alpha"
		default:
			return nil, fmt.Errorf("site %s has no index page", site)
		}

		var err error
		doc, err = c.fetchDocument(ctx, pageURL)
		if err != nil {
			return nil, err
		}
	}

	var entries []IndexEntry
	switch site {
	case SiteAniWorld:
		entries = parseAniWorldIndex(doc, desc)
	case SiteSTO:
		entries = parseSTOIndex(doc, desc)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("index parse for %s yielded no entries", site)
	}

	c.logger.Debug().
		Str("site", string(site)).
		Int("entries", len(entries)).
		Bool("snapshot", fromSnapshot).
		Msg("fetched title index")

	return entries, nil
}

// parseAniWorldIndex parses the /animes-alphabet listing. Each series is
// an anchor under the genre lists with an optional data-alternative-title
// attribute holding comma-separated aliases.
func parseAniWorldIndex(doc *goquery.Document, desc Descriptor) []IndexEntry {
	var entries []IndexEntry

	doc.Find("#seriesContainer ul li a, .genre ul li a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		slug := desc.SlugFromURL(href)
		if slug == "" {
			return
		}

		entry := IndexEntry{
			Slug:  slug,
			Title: strings.TrimSpace(sel.Text()),
		}
		if alt, ok := sel.Attr("data-alternative-title"); ok {
			entry.AltTitles = splitAltTitles(alt)
		}
		entries = append(entries, entry)
	})

	return dedupeBySlug(entries)
}

// parseSTOIndex parses the v2 layout /serien?by=alpha listing with
// /serie/<slug> links.
func parseSTOIndex(doc *goquery.Document, desc Descriptor) []IndexEntry {
	var entries []IndexEntry

	doc.Find("a[href*='/serie/']").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		slug := desc.SlugFromURL(href)
		if slug == "" {
			return
		}
		title := strings.TrimSpace(sel.Text())
		if title == "" {
			if t, ok := sel.Attr("title"); ok {
				title = strings.TrimSpace(t)
			}
		}
		if title == "" {
			return
		}

		entry := IndexEntry{Slug: slug, Title: title}
		if alt, ok := sel.Attr("data-alternative-title"); ok {
			entry.AltTitles = splitAltTitles(alt)
		}
		entries = append(entries, entry)
	})

	return dedupeBySlug(entries)
}

func splitAltTitles(raw string) []string {
	var titles []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			titles = append(titles, part)
		}
	}
	return titles
}

func dedupeBySlug(entries []IndexEntry) []IndexEntry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if seen[e.Slug] {
			continue
		}
		seen[e.Slug] = true
		out = append(out, e)
	}
	return out
}

package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SpecialEntry is one film/OVA on an AniWorld /filme page. FilmIndex is
// the site's film-N numbering, unrelated to any canonical schedule.
type SpecialEntry struct {
	FilmIndex int
	EpisodeID string
	DeTitle   string
	AltTitle  string
	Tags      []string
}

var filmHrefPattern = regexp.MustCompile(`/filme/film-(\d+)`)

// FetchSpecials parses the /filme listing of an AniWorld series.
func (c *Client) FetchSpecials(ctx context.Context, site Site, slug string) ([]SpecialEntry, error) {
	desc := Describe(site)
	if !desc.Caps.SpecialParsing {
		return nil, fmt.Errorf("site %s has no specials listing", site)
	}

	pageURL := desc.SeriesURL(slug) + "/filme"
	doc, err := c.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	entries := ParseSpecials(doc)
	if len(entries) == 0 {
		return nil, fmt.Errorf("series %s lists no specials", slug)
	}

	c.logger.Debug().
		Str("slug", slug).
		Int("specials", len(entries)).
		Msg("fetched specials listing")

	return entries, nil
}

// ParseSpecials extracts the film rows from a /filme document. Exported
// for snapshot-based tests.
func ParseSpecials(doc *goquery.Document) []SpecialEntry {
	var entries []SpecialEntry
	seen := make(map[int]bool)

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a[href*='/filme/film-']").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		m := filmHrefPattern.FindStringSubmatch(href)
		if len(m) < 2 {
			return
		}
		index, err := strconv.Atoi(m[1])
		if err != nil || seen[index] {
			return
		}
		seen[index] = true

		entry := SpecialEntry{FilmIndex: index}
		if id, ok := row.Attr("data-episode-id"); ok {
			entry.EpisodeID = id
		}

		entry.DeTitle = strings.TrimSpace(row.Find(".seasonEpisodeTitle strong").First().Text())
		if entry.DeTitle == "" {
			entry.DeTitle = strings.TrimSpace(link.Text())
		}
		entry.AltTitle = strings.TrimSpace(row.Find(".seasonEpisodeTitle span").First().Text())

		row.Find("img[title]").Each(func(_ int, img *goquery.Selection) {
			if tag, ok := img.Attr("title"); ok && tag != "" {
				entry.Tags = append(entry.Tags, tag)
			}
		})

		entries = append(entries, entry)
	})

	return entries
}

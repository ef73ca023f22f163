package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Hoster is one provider offering on an episode page.
type Hoster struct {
	Provider    string // display name, e.g. "VOE"
	Language    string // display label, e.g. "German Dub"
	RedirectURL string // absolute site redirect URL to the provider embed
}

// Offerings is the parsed language/provider listing of one episode page.
type Offerings struct {
	Languages []string
	Hosters   []Hoster
}

// HostersFor returns the hosters carrying the given language, preserving
// page order.
func (o *Offerings) HostersFor(language string) []Hoster {
	var out []Hoster
	for _, h := range o.Hosters {
		if strings.EqualFold(h.Language, language) {
			out = append(out, h)
		}
	}
	return out
}

// FetchEpisodeOfferings fetches an episode page and parses which
// languages and providers it lists.
func (c *Client) FetchEpisodeOfferings(ctx context.Context, site Site, slug string, season, episode int) (*Offerings, error) {
	desc := Describe(site)
	if !desc.Caps.EpisodeListing {
		return nil, fmt.Errorf("site %s has no episode listing", site)
	}

	pageURL := desc.EpisodeURL(slug, season, episode)
	doc, err := c.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	offerings := parseOfferings(doc, desc)
	if len(offerings.Hosters) == 0 {
		return nil, fmt.Errorf("episode %s S%02dE%02d lists no providers", slug, season, episode)
	}

	c.logger.Debug().
		Str("site", string(site)).
		Str("slug", slug).
		Int("season", season).
		Int("episode", episode).
		Int("hosters", len(offerings.Hosters)).
		Msg("fetched episode offerings")

	return offerings, nil
}

// parseOfferings reads the hoster list shared by the AniWorld and s.to
// episode layouts: <li data-lang-key=N> entries carrying an <h4> provider
// name and a data-link-target redirect.
func parseOfferings(doc *goquery.Document, desc Descriptor) *Offerings {
	offerings := &Offerings{}
	seenLang := make(map[string]bool)

	doc.Find("li[data-lang-key]").Each(func(_ int, sel *goquery.Selection) {
		langKey, _ := sel.Attr("data-lang-key")
		language := LanguageLabel(langKey)
		if language == "" {
			return
		}

		provider := strings.TrimSpace(sel.Find("h4").First().Text())
		if provider == "" {
			return
		}

		target, ok := sel.Attr("data-link-target")
		if !ok {
			if a := sel.Find("a[href]").First(); a.Length() > 0 {
				target, _ = a.Attr("href")
			}
		}
		if target == "" {
			return
		}

		if !seenLang[language] {
			seenLang[language] = true
			offerings.Languages = append(offerings.Languages, language)
		}
		offerings.Hosters = append(offerings.Hosters, Hoster{
			Provider:    provider,
			Language:    language,
			RedirectURL: resolveHref(desc.BaseURL, target),
		})
	})

	return offerings
}

// SeasonEpisode is one entry in a series' season listing.
type SeasonEpisode struct {
	Season  int
	Episode int
	Title   string
}

var episodeHrefPattern = regexp.MustCompile(`staffel-(\d+)/episode-(\d+)`)

// FetchSeasonEpisodes lists the episodes of one season from the series'
// season page, in page order.
func (c *Client) FetchSeasonEpisodes(ctx context.Context, site Site, slug string, season int) ([]SeasonEpisode, error) {
	desc := Describe(site)
	pageURL := fmt.Sprintf("%s/staffel-%d", desc.SeriesURL(slug), season)

	doc, err := c.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	episodes := parseSeasonTable(doc, season)
	if len(episodes) == 0 {
		return nil, fmt.Errorf("season %d of %s lists no episodes", season, slug)
	}
	return episodes, nil
}

// FetchAllEpisodes walks every season linked from the series page and
// returns the full episode listing in catalogue order. Used to build
// absolute-number mappings.
func (c *Client) FetchAllEpisodes(ctx context.Context, site Site, slug string) ([]SeasonEpisode, error) {
	desc := Describe(site)
	doc, err := c.fetchDocument(ctx, desc.SeriesURL(slug))
	if err != nil {
		return nil, err
	}

	seasons := parseSeasonNumbers(doc)
	if len(seasons) == 0 {
		// Single-season layouts list episodes directly on the series page.
		episodes := parseSeasonTable(doc, 1)
		if len(episodes) == 0 {
			return nil, fmt.Errorf("series %s lists no seasons", slug)
		}
		return episodes, nil
	}

	var all []SeasonEpisode
	for _, season := range seasons {
		episodes, err := c.FetchSeasonEpisodes(ctx, site, slug, season)
		if err != nil {
			return nil, err
		}
		all = append(all, episodes...)
	}
	return all, nil
}

func parseSeasonNumbers(doc *goquery.Document) []int {
	seen := make(map[int]bool)
	var seasons []int

	doc.Find("a[href*='/staffel-']").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		m := regexp.MustCompile(`/staffel-(\d+)$`).FindStringSubmatch(href)
		if len(m) < 2 {
			return
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			return
		}
		seen[n] = true
		seasons = append(seasons, n)
	})

	return seasons
}

func parseSeasonTable(doc *goquery.Document, fallbackSeason int) []SeasonEpisode {
	var episodes []SeasonEpisode
	seen := make(map[int]bool)

	doc.Find("table.seasonEpisodesList tbody tr, tr[data-episode-season-id]").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a[href*='/episode-']").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		m := episodeHrefPattern.FindStringSubmatch(href)
		if len(m) < 3 {
			return
		}
		season, _ := strconv.Atoi(m[1])
		episode, err := strconv.Atoi(m[2])
		if err != nil || seen[episode] {
			return
		}
		if season == 0 {
			season = fallbackSeason
		}
		seen[episode] = true

		title := strings.TrimSpace(row.Find(".seasonEpisodeTitle").First().Text())
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}

		episodes = append(episodes, SeasonEpisode{
			Season:  season,
			Episode: episode,
			Title:   title,
		})
	})

	return episodes
}

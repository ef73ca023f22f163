package torznab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/magnet"
	"github.com/anibridge/anibridge/internal/metadata/sonarr"
	"github.com/anibridge/anibridge/internal/probe"
	"github.com/anibridge/anibridge/internal/release"
	"github.com/anibridge/anibridge/internal/resolver"
	"github.com/anibridge/anibridge/internal/specials"
	"github.com/anibridge/anibridge/internal/store"
)

// ErrCannotMap means an absolute-number request had no unambiguous
// canonical mapping.
var ErrCannotMap = errors.New("torznab: cannot map absolute episode number")

// StrmFilesMode controls which variants a search emits.
const (
	StrmNo   = "no"   // media releases only
	StrmBoth = "both" // media and .strm variants
	StrmOnly = "only" // .strm variants only
)

// Config tunes the indexer façade.
type Config struct {
	APIKey               string
	MaxEpisodes          int
	MaxConsecutiveMisses int
	ConnectivityItem     bool
	StrmFilesMode        string
	FallbackAllEpisodes  bool
	FakeSize             int64
	Version              string
}

// supportedTVParams is advertised in caps; the ID params let clients
// send deterministic identifiers for specials mapping.
const supportedTVParams = "q,season,ep,tvdbid,tmdbid,imdbid,rid,tvmazeid"

// Service builds Torznab responses over the resolver, the availability
// prober, and the specials mapper.
type Service struct {
	resolver *resolver.Service
	probe    *probe.Service
	specials *specials.Service
	sonarr   *sonarr.Client
	store    *store.Store
	catalog  *catalog.Client
	cfg      Config
	logger   *zerolog.Logger
}

// NewService creates the indexer service. The Sonarr client may be nil.
func NewService(rs *resolver.Service, pb *probe.Service, sp *specials.Service, sc *sonarr.Client, st *store.Store, cat *catalog.Client, cfg Config, logger *zerolog.Logger) *Service {
	subLogger := logger.With().Str("component", "torznab").Logger()
	if cfg.MaxEpisodes <= 0 {
		cfg.MaxEpisodes = 400
	}
	if cfg.MaxConsecutiveMisses <= 0 {
		cfg.MaxConsecutiveMisses = 3
	}
	if cfg.FakeSize <= 0 {
		cfg.FakeSize = 2 << 30
	}
	if cfg.StrmFilesMode == "" {
		cfg.StrmFilesMode = StrmNo
	}
	return &Service{
		resolver: rs,
		probe:    pb,
		specials: sp,
		sonarr:   sc,
		store:    st,
		catalog:  cat,
		cfg:      cfg,
		logger:   &subLogger,
	}
}

// Caps builds the capabilities document.
func (s *Service) Caps() *CapsResponse {
	return &CapsResponse{
		Server: CapsServer{Title: "AniBridge", Version: s.cfg.Version},
		Limits: CapsLimits{Max: 100, Default: 100},
		Searching: CapsSearching{
			Search:      CapsSearch{Available: "yes", SupportedParams: "q"},
			TVSearch:    CapsSearch{Available: "yes", SupportedParams: supportedTVParams},
			MovieSearch: CapsSearch{Available: "yes", SupportedParams: "q"},
		},
		Categories: CapsCategories{Categories: []CapsCategory{
			{ID: 2000, Name: "Movies"},
			{ID: 5000, Name: "TV", Subcats: []CapsCategory{{ID: 5070, Name: "TV/Anime"}}},
		}},
	}
}

// TVParams are the recognised tvsearch query parameters. Season and
// Episode are nil when absent, which is distinct from zero: season 0 is
// the specials season.
type TVParams struct {
	Query    string
	Season   *int
	Episode  *int
	TvdbID   int
	TmdbID   int
	RID      int
	TvMazeID int
	ImdbID   string
}

// Search handles t=search.
func (s *Service) Search(ctx context.Context, query string) (*Feed, error) {
	feed := NewFeed("AniBridge")

	if query == "" {
		if s.cfg.ConnectivityItem {
			feed.Channel.Items = append(feed.Channel.Items, s.connectivityItem())
		}
		return feed, nil
	}

	match, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		if errors.Is(err, resolver.ErrNoMatch) {
			return feed, nil
		}
		return nil, err
	}

	// A text query hitting a special title lists the matched specials at
	// their source numbering.
	if mappings, err := s.specials.MatchAll(ctx, match.Site, match.Slug, query); err == nil {
		for _, m := range mappings {
			items, err := s.episodeItems(ctx, match.Site, match.Slug, m.SourceSeason, m.SourceEpisode, 0, false)
			if err != nil {
				continue
			}
			feed.Channel.Items = append(feed.Channel.Items, items...)
		}
		if len(feed.Channel.Items) > 0 {
			return feed, nil
		}
	}

	// Lightweight preview so clients can confirm connectivity without a
	// probing storm.
	desc := catalog.Describe(match.Site)
	if len(desc.DefaultLanguages) > 0 {
		feed.Channel.Items = append(feed.Channel.Items,
			s.buildItem(match.Site, match.Slug, desc.DefaultLanguages[0], 1, 1, nil, 0, false, magnet.ModeDownload))
	}
	return feed, nil
}

// TVSearch handles t=tvsearch in its three shapes: episode search,
// season search, and absolute-number search.
func (s *Service) TVSearch(ctx context.Context, p TVParams) (*Feed, error) {
	feed := NewFeed("AniBridge")

	match, err := s.resolveSeries(ctx, p)
	if err != nil {
		if errors.Is(err, resolver.ErrNoMatch) {
			return feed, nil
		}
		return nil, err
	}

	switch {
	case p.Season != nil && p.Episode != nil && *p.Season == 0 &&
		p.TvdbID > 0 && s.sonarr != nil && catalog.Describe(match.Site).Caps.SpecialParsing:
		// Season zero uses catalogue film numbering, which is unrelated to
		// the canonical episode number: map by title first, never probe
		// film-<episode> blind.
		items, err := s.specialItems(ctx, match.Site, match.Slug, p.TvdbID, *p.Episode)
		if err != nil {
			return nil, err
		}
		feed.Channel.Items = items

	case p.Season != nil && p.Episode != nil:
		items, err := s.episodeItems(ctx, match.Site, match.Slug, *p.Season, *p.Episode, 0, false)
		if err != nil {
			return nil, err
		}
		feed.Channel.Items = items

	case p.Season == nil && p.Episode != nil:
		items, err := s.absoluteItems(ctx, match.Site, match.Slug, *p.Episode)
		if err != nil {
			return nil, err
		}
		feed.Channel.Items = items

	case p.Season != nil:
		if *p.Season == 0 && p.Query != "" && catalog.Describe(match.Site).Caps.SpecialParsing {
			if items, ok := s.querySpecialItems(ctx, match.Site, match.Slug, p.Query, p.TvdbID); ok {
				feed.Channel.Items = items
				return feed, nil
			}
		}
		items, err := s.seasonItems(ctx, match.Site, match.Slug, *p.Season, p.TvdbID)
		if err != nil {
			return nil, err
		}
		feed.Channel.Items = items

	default:
		return s.Search(ctx, p.Query)
	}

	return feed, nil
}

// specialItems serves a canonical season-zero episode request. The
// episode number resolves to a film index through the title-level
// specials mapping; ErrNoMapping yields an empty feed.
func (s *Service) specialItems(ctx context.Context, site catalog.Site, slug string, tvdbID, aliasEpisode int) ([]Item, error) {
	m, err := s.specials.MapByCanonical(ctx, site, slug, tvdbID, aliasEpisode)
	if err != nil {
		if errors.Is(err, specials.ErrNoMapping) {
			return nil, nil
		}
		return nil, err
	}
	return s.mappedItems(ctx, site, slug, m)
}

// querySpecialItems tries a title-level specials match for a season-zero
// text search. Reports false when nothing cleared the threshold so the
// caller falls back to listing the season.
func (s *Service) querySpecialItems(ctx context.Context, site catalog.Site, slug, query string, tvdbID int) ([]Item, bool) {
	m, err := s.specials.MapByQuery(ctx, site, slug, query, tvdbID)
	if err != nil {
		return nil, false
	}
	items, err := s.mappedItems(ctx, site, slug, m)
	if err != nil || len(items) == 0 {
		return nil, false
	}
	return items, true
}

// mappedItems probes the mapping's source pair and emits releases named
// with the alias pair: the payload addresses the film page while the
// display name files the release under its canonical number.
func (s *Service) mappedItems(ctx context.Context, site catalog.Site, slug string, m *specials.Mapping) ([]Item, error) {
	var items []Item
	for _, language := range catalog.Describe(site).DefaultLanguages {
		av, err := s.probe.Availability(ctx, site, slug, m.SourceSeason, m.SourceEpisode, language)
		if err != nil {
			return nil, err
		}
		if !av.Available {
			continue
		}
		if s.cfg.StrmFilesMode != StrmOnly {
			items = append(items, s.buildMappedItem(site, slug, language, m, av, magnet.ModeDownload))
		}
		if s.cfg.StrmFilesMode == StrmBoth || s.cfg.StrmFilesMode == StrmOnly {
			items = append(items, s.buildMappedItem(site, slug, language, m, av, magnet.ModeStrm))
		}
	}
	return items, nil
}

// resolveSeries maps tvsearch parameters to a catalogue series: a
// textual query resolves directly, ID-only requests go through the
// metadata service for a title first.
func (s *Service) resolveSeries(ctx context.Context, p TVParams) (*resolver.Match, error) {
	if p.Query != "" {
		return s.resolver.Resolve(ctx, p.Query)
	}
	if p.TvdbID > 0 && s.sonarr != nil {
		series, err := s.sonarr.SeriesByTvdbID(ctx, p.TvdbID)
		if err == nil {
			return s.resolver.Resolve(ctx, series.Title)
		}
		s.logger.Debug().Err(err).Int("tvdbid", p.TvdbID).Msg("metadata lookup failed")
	}
	return nil, resolver.ErrNoMatch
}

// episodeItems probes every candidate language of one episode and emits
// releases per available language.
func (s *Service) episodeItems(ctx context.Context, site catalog.Site, slug string, season, episode, absolute int, fallback bool) ([]Item, error) {
	if absolute == 0 {
		// Annotate with the absolute number when a mapping already exists.
		if m, err := s.store.GetMappingByEpisode(ctx, slug, season, episode); err == nil {
			absolute = m.AbsoluteNumber
		}
	}

	var items []Item
	for _, language := range catalog.Describe(site).DefaultLanguages {
		av, err := s.probe.Availability(ctx, site, slug, season, episode, language)
		if err != nil {
			return nil, err
		}
		if !av.Available {
			continue
		}
		items = append(items, s.variantItems(site, slug, language, season, episode, av, absolute, fallback)...)
	}
	return items, nil
}

// seasonItems discovers a season's episode numbers and emits releases
// for each. Discovery order: metadata service, availability-cache
// hints, then bounded sequential probing.
func (s *Service) seasonItems(ctx context.Context, site catalog.Site, slug string, season, tvdbID int) ([]Item, error) {
	numbers := s.discoverEpisodes(ctx, site, slug, season, tvdbID)

	var items []Item
	for _, episode := range numbers {
		epItems, err := s.episodeItems(ctx, site, slug, season, episode, 0, false)
		if err != nil {
			return nil, err
		}
		items = append(items, epItems...)
	}
	return items, nil
}

func (s *Service) discoverEpisodes(ctx context.Context, site catalog.Site, slug string, season, tvdbID int) []int {
	if tvdbID > 0 && s.sonarr != nil {
		if series, err := s.sonarr.SeriesByTvdbID(ctx, tvdbID); err == nil {
			if episodes, err := s.sonarr.EpisodesBySeries(ctx, series.ID); err == nil {
				var numbers []int
				for _, ep := range episodes {
					if ep.SeasonNumber == season {
						numbers = append(numbers, ep.EpisodeNumber)
					}
				}
				if len(numbers) > 0 {
					return numbers
				}
			}
		}
	}

	primary := catalog.Describe(site).DefaultLanguages
	if len(primary) > 0 {
		if cached, err := s.store.ListAvailableEpisodes(ctx, string(site), slug, season, primary[0]); err == nil && len(cached) > 0 {
			return cached
		}
	}

	// Cold cache: probe sequentially with guardrails.
	var numbers []int
	misses := 0
	for episode := 1; episode <= s.cfg.MaxEpisodes; episode++ {
		language := "German Dub"
		if len(primary) > 0 {
			language = primary[0]
		}
		av, err := s.probe.Availability(ctx, site, slug, season, episode, language)
		if err != nil || !av.Available {
			misses++
			if misses >= s.cfg.MaxConsecutiveMisses {
				break
			}
			continue
		}
		misses = 0
		numbers = append(numbers, episode)
	}
	return numbers
}

// absoluteItems serves an absolute-numbered request by mapping it onto
// canonical (season, episode) via the stored numbering table.
func (s *Service) absoluteItems(ctx context.Context, site catalog.Site, slug string, absolute int) ([]Item, error) {
	if err := s.ensureNumberMap(ctx, site, slug); err != nil {
		return nil, err
	}

	m, err := s.store.GetMappingByAbsolute(ctx, slug, absolute)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if !s.cfg.FallbackAllEpisodes {
			return nil, fmt.Errorf("%w: %s abs=%d", ErrCannotMap, slug, absolute)
		}
		// Fallback: list the whole catalogue in canonical numbering,
		// flagged so clients can tell these are not the asked-for item.
		return s.fallbackAllItems(ctx, site, slug)
	}

	return s.episodeItems(ctx, site, slug, m.Season, m.Episode, absolute, false)
}

func (s *Service) fallbackAllItems(ctx context.Context, site catalog.Site, slug string) ([]Item, error) {
	episodes, err := s.catalog.FetchAllEpisodes(ctx, site, slug)
	if err != nil {
		return nil, err
	}

	desc := catalog.Describe(site)
	if len(desc.DefaultLanguages) == 0 {
		return nil, nil
	}
	language := desc.DefaultLanguages[0]

	var items []Item
	for _, ep := range episodes {
		items = append(items, s.buildItem(site, slug, language, ep.Season, ep.Episode, nil, 0, true, magnet.ModeDownload))
	}
	return items, nil
}

// ensureNumberMap lazily builds the absolute-number mapping for a
// series from the catalogue's full episode walk.
func (s *Service) ensureNumberMap(ctx context.Context, site catalog.Site, slug string) error {
	n, err := s.store.CountMappings(ctx, slug)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	episodes, err := s.catalog.FetchAllEpisodes(ctx, site, slug)
	if err != nil {
		return err
	}

	mappings := make([]store.EpisodeNumberMapping, 0, len(episodes))
	for i, ep := range episodes {
		mappings = append(mappings, store.EpisodeNumberMapping{
			SeriesSlug:     slug,
			AbsoluteNumber: i + 1,
			Season:         ep.Season,
			Episode:        ep.Episode,
			Title:          ep.Title,
		})
	}
	return s.store.ReplaceMappings(ctx, slug, mappings)
}

// variantItems emits the media and/or .strm variants of one available
// episode per the configured mode.
func (s *Service) variantItems(site catalog.Site, slug, language string, season, episode int, av *store.EpisodeAvailability, absolute int, fallback bool) []Item {
	var items []Item
	if s.cfg.StrmFilesMode != StrmOnly {
		items = append(items, s.buildItem(site, slug, language, season, episode, av, absolute, fallback, magnet.ModeDownload))
	}
	if s.cfg.StrmFilesMode == StrmBoth || s.cfg.StrmFilesMode == StrmOnly {
		items = append(items, s.buildItem(site, slug, language, season, episode, av, absolute, fallback, magnet.ModeStrm))
	}
	return items
}

func (s *Service) buildItem(site catalog.Site, slug, language string, season, episode int, av *store.EpisodeAvailability, absolute int, fallback bool, mode magnet.Mode) Item {
	desc := catalog.Describe(site)

	height, vcodec, provider := 0, "", ""
	if av != nil {
		height, vcodec, provider = av.Height, av.VCodec, av.Provider
	}

	display := release.Name(release.Params{
		Title:    release.TitleFromSlug(slug),
		Season:   season,
		Episode:  episode,
		Height:   height,
		VCodec:   vcodec,
		Language: catalog.LanguageTag(language),
		Group:    desc.ReleaseGroup,
	})
	if mode == magnet.ModeStrm {
		display += ".STRM"
	}

	payload := magnet.Payload{
		Site:        site,
		Slug:        slug,
		Season:      season,
		Episode:     episode,
		Language:    language,
		Provider:    provider,
		Mode:        mode,
		DisplayName: display,
		Size:        s.cfg.FakeSize,
		Absolute:    absolute,
	}
	return s.wireItem(site, payload, absolute, fallback)
}

// buildMappedItem builds a specials release: display name and filename
// carry the alias pair, the payload carries the source pair.
func (s *Service) buildMappedItem(site catalog.Site, slug, language string, m *specials.Mapping, av *store.EpisodeAvailability, mode magnet.Mode) Item {
	desc := catalog.Describe(site)

	display := release.Name(release.Params{
		Title:    release.TitleFromSlug(slug),
		Season:   m.AliasSeason,
		Episode:  m.AliasEpisode,
		Height:   av.Height,
		VCodec:   av.VCodec,
		Language: catalog.LanguageTag(language),
		Group:    desc.ReleaseGroup,
	})
	if mode == magnet.ModeStrm {
		display += ".STRM"
	}

	payload := magnet.Payload{
		Site:        site,
		Slug:        slug,
		Season:      m.SourceSeason,
		Episode:     m.SourceEpisode,
		Language:    language,
		Provider:    av.Provider,
		Mode:        mode,
		DisplayName: display,
		Size:        s.cfg.FakeSize,
	}
	return s.wireItem(site, payload, 0, false)
}

// wireItem assembles the feed entry around an encoded payload.
func (s *Service) wireItem(site catalog.Site, payload magnet.Payload, absolute int, fallback bool) Item {
	magnetURI := payload.Encode()

	item := Item{
		Title:    payload.DisplayName,
		GUID:     payload.InfoHash(),
		Link:     magnetURI,
		Size:     s.cfg.FakeSize,
		PubDate:  time.Now().Format(time.RFC1123Z),
		Category: categoryFor(site),
		Enclosure: Enclosure{
			URL:    magnetURI,
			Length: s.cfg.FakeSize,
			Type:   "application/x-bittorrent;x-scheme-handler/magnet",
		},
		Attrs: []Attr{
			{Name: "seeders", Value: "99"},
			{Name: "peers", Value: "99"},
			{Name: "infohash", Value: payload.InfoHash()},
			{Name: "language", Value: payload.Language},
			{Name: "category", Value: strconv.Itoa(categoryFor(site))},
		},
	}
	if absolute > 0 {
		item.Attrs = append(item.Attrs, Attr{Name: "absoluteNumber", Value: strconv.Itoa(absolute)})
	}
	if fallback {
		item.Attrs = append(item.Attrs, Attr{Name: "anibridgeFallback", Value: "true"})
	}
	return item
}

func categoryFor(site catalog.Site) int {
	switch site {
	case catalog.SiteAniWorld:
		return 5070
	case catalog.SiteMegakino:
		return 2000
	default:
		return 5000
	}
}

// connectivityItem is the synthetic release returned for empty
// searches so client connection tests pass without touching any site.
func (s *Service) connectivityItem() Item {
	payload := magnet.Payload{
		Site:        catalog.SiteAniWorld,
		Slug:        "anibridge-connectivity-test",
		Season:      1,
		Episode:     1,
		Language:    "German Dub",
		DisplayName: "AniBridge.Connectivity.Test.S01E01.1080p.WEB.H264.GER-ANIBRIDGE",
		Size:        s.cfg.FakeSize,
	}
	return Item{
		Title:    payload.DisplayName,
		GUID:     payload.InfoHash(),
		Link:     payload.Encode(),
		Size:     s.cfg.FakeSize,
		PubDate:  time.Now().Format(time.RFC1123Z),
		Category: 5070,
		Enclosure: Enclosure{
			URL:    payload.Encode(),
			Length: s.cfg.FakeSize,
			Type:   "application/x-bittorrent;x-scheme-handler/magnet",
		},
		Attrs: []Attr{
			{Name: "seeders", Value: "99"},
			{Name: "peers", Value: "99"},
			{Name: "infohash", Value: payload.InfoHash()},
		},
	}
}

package specials

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/metadata/sonarr"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

const filmePage = `<html><body><table>
<tr data-episode-id="9001">
  <td><a href="/anime/stream/demon-slayer/filme/film-1">
    <span class="seasonEpisodeTitle"><strong>Mugen Train</strong> <span>Der Film: Mugen Train</span></span>
  </a></td>
</tr>
<tr data-episode-id="9002">
  <td><a href="/anime/stream/demon-slayer/filme/film-2">
    <span class="seasonEpisodeTitle"><strong>Schwertschmiededorf Rueckblick</strong></span>
  </a></td>
</tr>
</table></body></html>`

func filmeCatalogClient(t *testing.T) *catalog.Client {
	t.Helper()
	logger := zerolog.Nop()
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Host == "aniworld.to" && strings.HasSuffix(r.URL.Path, "/demon-slayer/filme") {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(filmePage)),
				Header:     make(http.Header),
			}, nil
		}
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	})}
	return catalog.NewClient(httpClient, "", &logger)
}

func fakeSonarr(t *testing.T) *sonarr.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/series", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]sonarr.Series{
			{ID: 7, Title: "Demon Slayer", TvdbID: 123},
		})
	})
	mux.HandleFunc("/api/v3/episode", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]sonarr.Episode{
			{SeasonNumber: 1, EpisodeNumber: 1, Title: "Cruelty"},
			{SeasonNumber: 0, EpisodeNumber: 2, Title: "Mugen Train"},
			{SeasonNumber: 0, EpisodeNumber: 3, Title: "Hashira Recap Collection"},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	logger := zerolog.Nop()
	client, err := sonarr.NewClient(sonarr.ClientConfig{
		URL:    server.URL,
		APIKey: "test-key",
		Logger: &logger,
	})
	require.NoError(t, err)
	return client
}

func TestMapByCanonicalResolvesFilmIndex(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(filmeCatalogClient(t), fakeSonarr(t), &logger)

	// Canonical S00E02 is titled "Mugen Train"; on the catalogue that
	// special sits at film-1, not film-2.
	m, err := s.MapByCanonical(context.Background(), catalog.SiteAniWorld, "demon-slayer", 123, 2)
	require.NoError(t, err)

	assert.Equal(t, 0, m.SourceSeason)
	assert.Equal(t, 1, m.SourceEpisode)
	assert.Equal(t, 0, m.AliasSeason)
	assert.Equal(t, 2, m.AliasEpisode)
	assert.Equal(t, "Mugen Train", m.Title)
}

func TestMapByCanonicalNoConfidentMatch(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(filmeCatalogClient(t), fakeSonarr(t), &logger)

	// Canonical S00E03 has no counterpart on the /filme listing.
	_, err := s.MapByCanonical(context.Background(), catalog.SiteAniWorld, "demon-slayer", 123, 3)
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestMapByCanonicalUnknownEpisode(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(filmeCatalogClient(t), fakeSonarr(t), &logger)

	_, err := s.MapByCanonical(context.Background(), catalog.SiteAniWorld, "demon-slayer", 123, 9)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMapping)
}

func TestMapByCanonicalWithoutMetadata(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(filmeCatalogClient(t), nil, &logger)

	_, err := s.MapByCanonical(context.Background(), catalog.SiteAniWorld, "demon-slayer", 123, 2)
	assert.Error(t, err)
}

func TestMapByQueryMirrorsSourceWithoutMetadata(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(filmeCatalogClient(t), nil, &logger)

	m, err := s.MapByQuery(context.Background(), catalog.SiteAniWorld, "demon-slayer", "Mugen Train", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, m.SourceEpisode)
	assert.Equal(t, 1, m.AliasEpisode)
}

func TestMapByQueryReversesAliasThroughMetadata(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(filmeCatalogClient(t), fakeSonarr(t), &logger)

	m, err := s.MapByQuery(context.Background(), catalog.SiteAniWorld, "demon-slayer", "Mugen Train", 123)
	require.NoError(t, err)

	assert.Equal(t, 1, m.SourceEpisode)
	assert.Equal(t, 2, m.AliasEpisode)
	assert.Equal(t, "Mugen Train", m.Title)
}

package resolver

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anibridge/anibridge/internal/catalog"
)

func seededService(t *testing.T, sites ...catalog.Site) *Service {
	t.Helper()
	logger := zerolog.Nop()
	s := NewService(nil, Config{Sites: sites}, &logger)
	s.SeedIndex(catalog.SiteAniWorld, []catalog.IndexEntry{
		{Slug: "attack-on-titan", Title: "Attack on Titan", AltTitles: []string{"Shingeki no Kyojin"}},
		{Slug: "frieren", Title: "Frieren: Beyond Journey's End", AltTitles: []string{"Sousou no Frieren"}},
		{Slug: "one-piece", Title: "One Piece"},
	})
	return s
}

func TestResolveExactTitle(t *testing.T) {
	s := seededService(t, catalog.SiteAniWorld)

	m, err := s.Resolve(context.Background(), "Attack on Titan")
	require.NoError(t, err)
	assert.Equal(t, catalog.SiteAniWorld, m.Site)
	assert.Equal(t, "attack-on-titan", m.Slug)
	assert.GreaterOrEqual(t, m.Score, 3.5)
}

func TestResolveAltTitle(t *testing.T) {
	s := seededService(t, catalog.SiteAniWorld)

	m, err := s.Resolve(context.Background(), "Shingeki no Kyojin")
	require.NoError(t, err)
	assert.Equal(t, "attack-on-titan", m.Slug)
}

func TestResolveFuzzyTitle(t *testing.T) {
	s := seededService(t, catalog.SiteAniWorld)

	// Punctuation and casing differences must not matter.
	m, err := s.Resolve(context.Background(), "frieren - beyond JOURNEY'S end")
	require.NoError(t, err)
	assert.Equal(t, "frieren", m.Slug)

	// A query with an extra trailing token still clears the floor.
	m, err = s.Resolve(context.Background(), "attack on titan season")
	require.NoError(t, err)
	assert.Equal(t, "attack-on-titan", m.Slug)
}

func TestResolveNoMatch(t *testing.T) {
	s := seededService(t, catalog.SiteAniWorld)

	_, err := s.Resolve(context.Background(), "Completely Unrelated Cooking Show XYZ")
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = s.Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolveURLWinsOutright(t *testing.T) {
	s := seededService(t, catalog.SiteAniWorld, catalog.SiteSTO)

	tests := []struct {
		url  string
		site catalog.Site
		slug string
	}{
		{"https://aniworld.to/anime/stream/attack-on-titan", catalog.SiteAniWorld, "attack-on-titan"},
		{"https://s.to/serie/stream/dark", catalog.SiteSTO, "dark"},
		{"https://s.to/serie/dark", catalog.SiteSTO, "dark"},
	}
	for _, tt := range tests {
		m, err := s.Resolve(context.Background(), tt.url)
		require.NoError(t, err, "url %s", tt.url)
		assert.Equal(t, tt.site, m.Site)
		assert.Equal(t, tt.slug, m.Slug)
	}
}

func TestResolveMegakinoSlugFallback(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(nil, Config{Sites: []catalog.Site{catalog.SiteMegakino}}, &logger)

	m, err := s.Resolve(context.Background(), "der-film")
	require.NoError(t, err)
	assert.Equal(t, catalog.SiteMegakino, m.Site)
	assert.Equal(t, "der-film", m.Slug)

	// Queries that cannot be slugs do not fall through.
	_, err = s.Resolve(context.Background(), "Der Film!")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestScoreTitleOrdering(t *testing.T) {
	// An exact match must dominate a partial one.
	exact := ScoreTitle("One Piece", "One Piece")
	partial := ScoreTitle("One Piece", "One Piece Film Red")
	unrelated := ScoreTitle("One Piece", "Breaking Bad")

	assert.Greater(t, exact, partial)
	assert.Greater(t, partial, unrelated)
	assert.GreaterOrEqual(t, exact, 3.5)
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Frieren: Beyond Journey's End", "frieren beyond journey s end"},
		{"  Attack   on  Titan ", "attack on titan"},
		{"Re:ZERO", "re zero"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.in), "input %q", tt.in)
	}
}

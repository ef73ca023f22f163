package specials

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anibridge/anibridge/internal/catalog"
)

func TestScoreSpecialExactMatch(t *testing.T) {
	assert.Equal(t, 1.0, scoreSpecial("Mugen Train", "Mugen Train"))
	assert.Equal(t, 1.0, scoreSpecial("  mugen TRAIN ", "Mugen-Train"))
	assert.Equal(t, 0.0, scoreSpecial("", "Mugen Train"))
}

func TestScoreSpecialRejectsNumberedSiblings(t *testing.T) {
	// "OVA 1" and "OVA 2" are lexically near-identical; the matcher must
	// not cross-map them at the acceptance threshold.
	cross := scoreSpecial("OVA 1", "OVA 2")
	same := scoreSpecial("OVA 1", "OVA 1")

	assert.Equal(t, 1.0, same)
	assert.Less(t, cross, matchThreshold)
}

func TestScoreSpecialWeakTokenOverlapDamped(t *testing.T) {
	// High character similarity with poor token agreement gets damped
	// below the threshold.
	score := scoreSpecial("Movie 1", "Movie 2")
	assert.Less(t, score, matchThreshold)
}

func TestTokenAgreement(t *testing.T) {
	assert.Equal(t, 1.0, tokenAgreement("a b c", "a b c"))
	assert.Equal(t, 0.5, tokenAgreement("a b c", "a b d"))
	assert.Equal(t, 0.0, tokenAgreement("a b", "c d"))
	assert.Equal(t, 0.0, tokenAgreement("", "a"))
}

func TestBestEntryPicksHighestAcrossTitles(t *testing.T) {
	entries := []catalog.SpecialEntry{
		{FilmIndex: 1, DeTitle: "Film: Zu keiner Zeit", AltTitle: "The Movie: Timeless"},
		{FilmIndex: 2, DeTitle: "OVA: Strandepisode", AltTitle: "Beach Episode OVA"},
		{FilmIndex: 3, DeTitle: "Special: Weihnachten", AltTitle: "Christmas Special"},
	}

	// German title match.
	entry, score := bestEntry("OVA Strandepisode", entries)
	assert.Equal(t, 2, entry.FilmIndex)
	assert.GreaterOrEqual(t, score, matchThreshold)

	// Alternative title match.
	entry, score = bestEntry("Christmas Special", entries)
	assert.Equal(t, 3, entry.FilmIndex)
	assert.GreaterOrEqual(t, score, matchThreshold)

	// No entry clears the threshold for an unrelated query.
	_, score = bestEntry("Completely Different Show", entries)
	assert.Less(t, score, matchThreshold)
}

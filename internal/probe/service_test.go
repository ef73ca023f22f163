package probe

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/anibridge/anibridge/internal/catalog"
)

func hosterNames(hosters []catalog.Hoster) []string {
	names := make([]string, len(hosters))
	for i, h := range hosters {
		names[i] = h.Provider
	}
	return names
}

func TestOrderHostersFollowsConfiguredOrder(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(nil, nil, nil, Config{
		ProviderOrder: []string{"VOE", "Filemoon", "Vidoza"},
		SkipFFprobe:   true,
	}, &logger)

	hosters := []catalog.Hoster{
		{Provider: "Vidoza"},
		{Provider: "SpeedFiles"},
		{Provider: "VOE"},
		{Provider: "Filemoon"},
	}

	ordered := s.orderHosters(hosters, "")
	assert.Equal(t, []string{"VOE", "Filemoon", "Vidoza", "SpeedFiles"}, hosterNames(ordered))
	// Input order untouched.
	assert.Equal(t, "Vidoza", hosters[0].Provider)
}

func TestOrderHostersPromotesPreferred(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(nil, nil, nil, Config{
		ProviderOrder: []string{"VOE", "Filemoon"},
		SkipFFprobe:   true,
	}, &logger)

	hosters := []catalog.Hoster{
		{Provider: "VOE"},
		{Provider: "Filemoon"},
	}

	ordered := s.orderHosters(hosters, "filemoon")
	assert.Equal(t, []string{"Filemoon", "VOE"}, hosterNames(ordered))
}

func TestOrderHostersKeepsPageOrderForUnranked(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(nil, nil, nil, Config{SkipFFprobe: true}, &logger)

	hosters := []catalog.Hoster{
		{Provider: "Alpha"},
		{Provider: "Beta"},
		{Provider: "Gamma"},
	}

	ordered := s.orderHosters(hosters, "")
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, hosterNames(ordered))
}

package magnet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anibridge/anibridge/internal/catalog"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
	}{
		{
			name: "aniworld download",
			payload: Payload{
				Site:        catalog.SiteAniWorld,
				Slug:        "attack-on-titan",
				Season:      4,
				Episode:     28,
				Language:    "German Dub",
				Provider:    "VOE",
				DisplayName: "Attack.On.Titan.S04E28.1080p.WEB.H264.GER-ANIWORLD",
				Size:        2 << 30,
			},
		},
		{
			name: "sto strm mode",
			payload: Payload{
				Site:        catalog.SiteSTO,
				Slug:        "breaking-bad",
				Season:      2,
				Episode:     3,
				Language:    "German Sub",
				Provider:    "Filemoon",
				Mode:        ModeStrm,
				DisplayName: "Breaking.Bad.S02E03.1080p.WEB.H264.GER.SUB.STRM-STO",
				Size:        1024,
			},
		},
		{
			name: "absolute numbering carried",
			payload: Payload{
				Site:        catalog.SiteAniWorld,
				Slug:        "one-piece",
				Season:      21,
				Episode:     12,
				Language:    "German Sub",
				Provider:    "VOE",
				DisplayName: "One.Piece.S21E12",
				Absolute:    904,
			},
		},
		{
			name: "specials season zero",
			payload: Payload{
				Site:        catalog.SiteAniWorld,
				Slug:        "naruto",
				Season:      0,
				Episode:     2,
				Language:    "German Dub",
				Provider:    "VOE",
				DisplayName: "Naruto.S00E02",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.payload.Encode()
			require.True(t, strings.HasPrefix(raw, "magnet:?xt=urn:btih:"))

			decoded, err := Decode(raw)
			require.NoError(t, err)

			assert.Equal(t, tt.payload.Site, decoded.Site)
			assert.Equal(t, tt.payload.Slug, decoded.Slug)
			assert.Equal(t, tt.payload.Season, decoded.Season)
			assert.Equal(t, tt.payload.Episode, decoded.Episode)
			assert.Equal(t, tt.payload.Language, decoded.Language)
			assert.Equal(t, tt.payload.Provider, decoded.Provider)
			assert.Equal(t, tt.payload.DisplayName, decoded.DisplayName)
			assert.Equal(t, tt.payload.Size, decoded.Size)
			assert.Equal(t, tt.payload.Absolute, decoded.Absolute)
			assert.Equal(t, tt.payload.InfoHash(), decoded.InfoHash())
		})
	}
}

func TestInfoHashStability(t *testing.T) {
	p := Payload{
		Site:     catalog.SiteAniWorld,
		Slug:     "frieren",
		Season:   1,
		Episode:  5,
		Language: "German Sub",
		Provider: "VOE",
	}

	first := p.InfoHash()
	assert.Len(t, first, 40)
	assert.Equal(t, first, p.InfoHash())

	// Display name and size must not influence identity.
	p.DisplayName = "renamed"
	p.Size = 999
	assert.Equal(t, first, p.InfoHash())
}

func TestInfoHashDistinguishesModes(t *testing.T) {
	p := Payload{
		Site:     catalog.SiteAniWorld,
		Slug:     "frieren",
		Season:   1,
		Episode:  5,
		Language: "German Sub",
		Provider: "VOE",
	}
	download := p.InfoHash()

	p.Mode = ModeStrm
	assert.NotEqual(t, download, p.InfoHash())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not a magnet", "https://example.com/file.torrent", ErrNotMagnet},
		{"empty payload", "magnet:?xt=urn:btih:aaaa", ErrMissingPayload},
		{"missing slug", "magnet:?aw_site=aniworld.to&aw_s=1&aw_e=1", ErrMissingPayload},
		{"bad season", "magnet:?aw_slug=x&aw_site=aniworld.to&aw_s=abc&aw_e=1", ErrBadPayload},
		{"unknown mode", "magnet:?aw_slug=x&aw_site=aniworld.to&aw_s=1&aw_e=1&aw_mode=seed", ErrBadPayload},
		{"ambiguous prefixes", "magnet:?aw_slug=x&sto_slug=y&aw_site=aniworld.to&aw_s=1&aw_e=1", ErrBadPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestInfoHashFromMagnet(t *testing.T) {
	p := Payload{
		Site:     catalog.SiteSTO,
		Slug:     "dark",
		Season:   1,
		Episode:  1,
		Language: "German Dub",
		Provider: "VOE",
	}

	hash, err := InfoHashFromMagnet(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p.InfoHash(), hash)

	_, err = InfoHashFromMagnet("magnet:?dn=nohash")
	assert.ErrorIs(t, err, ErrBadPayload)
}

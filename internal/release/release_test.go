package release

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{
			name: "full metadata",
			params: Params{
				Title:    "Attack On Titan",
				Season:   4,
				Episode:  28,
				Height:   1080,
				VCodec:   "h264",
				Language: "GER",
				Group:    "ANIWORLD",
			},
			want: "Attack.On.Titan.S04E28.1080p.WEB.H264.GER-ANIWORLD",
		},
		{
			name: "hevc maps to H265",
			params: Params{
				Title:    "Frieren",
				Season:   1,
				Episode:  5,
				Height:   2160,
				VCodec:   "hevc",
				Language: "GER.SUB",
				Group:    "ANIWORLD",
			},
			want: "Frieren.S01E05.2160p.WEB.H265.GER.SUB-ANIWORLD",
		},
		{
			name: "unknown quality defaults to 1080p",
			params: Params{
				Title:   "Dark",
				Season:  1,
				Episode: 1,
				Group:   "STO",
			},
			want: "Dark.S01E01.1080p.WEB.H264-STO",
		},
		{
			name: "title hint overrides numbering",
			params: Params{
				Title:     "One Piece",
				Season:    21,
				Episode:   12,
				Height:    720,
				Language:  "GER.SUB",
				Group:     "ANIWORLD",
				TitleHint: "[ABS 904] One.Piece.S01E904.720p",
			},
			want: "One.Piece.S01E904.720p.WEB.H264.GER.SUB-ANIWORLD",
		},
		{
			name: "numeric hyphen title survives",
			params: Params{
				Title:    TitleFromSlug("9-1-1"),
				Season:   1,
				Episode:  3,
				Height:   1080,
				VCodec:   "h264",
				Language: "GER",
				Group:    "STO",
			},
			want: "9-1-1.S01E03.1080p.WEB.H264.GER-STO",
		},
		{
			name: "apostrophes dropped without gap",
			params: Params{
				Title:   "Don't Toy With Me",
				Season:  1,
				Episode: 2,
				Height:  1080,
				Group:   "ANIWORLD",
			},
			want: "Dont.Toy.With.Me.S01E02.1080p.WEB.H264-ANIWORLD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.params))
		})
	}
}

func TestDotTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Attack on Titan", "Attack.on.Titan"},
		{"Re:Zero - Starting Life", "Re.Zero.Starting.Life"},
		{"86: Eighty-Six", "86.Eighty-Six"},
		{"9-1-1", "9-1-1"},
		{"  trailing  ", "trailing"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DotTitle(tt.in), "input %q", tt.in)
	}
}

func TestTitleFromSlug(t *testing.T) {
	assert.Equal(t, "Attack On Titan", TitleFromSlug("attack-on-titan"))
	assert.Equal(t, "Dark", TitleFromSlug("dark"))
	assert.Equal(t, "86 Eighty Six", TitleFromSlug("86-eighty-six"))
	assert.Equal(t, "9-1-1", TitleFromSlug("9-1-1"))
	assert.Equal(t, "Mob Psycho 100", TitleFromSlug("mob-psycho-100"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"normal.S01E01.mkv", "normal.S01E01.mkv"},
		{"../../etc/passwd", "_._etc_passwd"},
		{"a/b\\c", "a_b_c"},
		{"....", "unnamed"},
		{"", "unnamed"},
		{"trailing. ", "trailing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

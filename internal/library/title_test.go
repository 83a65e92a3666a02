package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"dotted release", "Show.S01.1080p", "show s01"},
		{"release group suffix", "Show S01 2160p-GROUP", "show s01"},
		{"full release name", "The.Matrix.1999.1080p.BluRay.x264-SPARKS.mkv", "the matrix"},
		{"year parentheses", "The Matrix (1999)", "the matrix"},
		{"web-dl and channels", "Movie.Name.2021.WEB-DL.DDP5.1.H.264-NTb", "movie name"},
		{"leading year kept", "1917.2019.2160p.UHD", "1917"},
		{"hyphenated title without noise", "Spider-Man", "spider man"},
		{"hyphenated title with noise", "Spider-Man.1080p", "spider man"},
		{"curly braces", "Title {tmdb-1234} 720p", "title"},
		{"fullwidth", "ＳＨＯＷ．Ｓ０１", "show s01"},
		{"cjk", "流浪地球.2019.1080p", "流浪地球"},
		{"only noise falls back", "1080p", "1080p"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Show.S01.1080p",
		"Show S01 2160p-GROUP",
		"The.Matrix.1999.1080p.BluRay.x264-SPARKS.mkv",
		"web_dl.thing",
		"Movie.Name.2021.WEB-DL.DDP5.1.H.264-NTb",
		"1080p.x264",
		"[Group] Some Anime - 01 (1080p) [ABCD1234].mkv",
		"2001 A Space Odyssey 1968",
		"流浪地球.2019.1080p",
		"Random.Unrelated.Name",
		// made only of noise
		"WEB-DL",
		"DTS-HD",
		"1080p (2020)",
		"x264-GRP",
		"BluRay.Remux.2160p",
		"{tmdb-603}",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
		assert.NotEmpty(t, once, "input %q", in)
	}
}

func TestNormalizeNoiseOnlyNames(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"WEB-DL", "dl"},
		{"DTS-HD", "hd"},
		{"1080p (2020)", "2020"},
		{"x264-GRP", "grp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestNormalizeInvariance(t *testing.T) {
	pairs := [][2]string{
		{"Show.S01", "SHOW s01"},
		{"Show.S01", "show_s01"},
		{"Show.S01", "Show S01 1080p"},
		{"Show.S01.720p", "show-s01-2160p"},
		{"The Matrix", "the.matrix.1080p"},
	}
	for _, p := range pairs {
		assert.Equal(t, Normalize(p[0]), Normalize(p[1]), "%q vs %q", p[0], p[1])
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"The.Matrix.1999.1080p.BluRay.x264.mkv", "The Matrix"},
		{"Breaking.Bad.S01.1080p.mkv", "Breaking Bad"},
		{"Breaking.Bad.2008.S01.mkv", "Breaking Bad"},
		{"Some.Show.S02.2019.WEB-DL", "Some Show"},
		{"[权力的游戏 第一季].Game.of.Thrones.S01", "权力的游戏"},
		{"[三体 Three-Body].2023.mkv", "三体"},
		{"[Oppenheimer].2023.mkv", "Oppenheimer"},
		{"流浪地球2.The.Wandering.Earth.II.2023.mkv", "流浪地球"},
		{"斗罗大陆之燃魂战.2022.mp4", "斗罗大陆"},
		{"Inception_2010_BluRay.mkv", "Inception"},
		{"Arrival", "Arrival"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTitle(tt.raw))
		})
	}
}

func TestTorrentTitle(t *testing.T) {
	assert.Equal(t, "Dune Part Two", TorrentTitle("[PTSite].Dune.Part.Two.2024.2160p.torrent"))
	assert.Equal(t, "Show", TorrentTitle("Show S01 2160p-GROUP.torrent"))
	// A lone tag is kept rather than returning nothing
	assert.Equal(t, "[X]", StripTrackerTag("[X]"))
}

package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"curator/internal/database/models"
	"curator/internal/library"
	"curator/internal/testsupport"
	"curator/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func folder(name string, files int) LibraryFolder {
	return LibraryFolder{
		Name:         name,
		Path:         "/library/欧美剧/" + name,
		CleanTitle:   library.Normalize(name),
		FileCount:    files,
		DownloadPath: "/library/欧美剧",
		Category:     "欧美剧",
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"show s01", "show s01", 1},
		{"", "", 0},
		{"abc", "", 0},
		{"kitten", "sitting", 1 - 3.0/7.0},
		{"the show s01", "show s01", 1 - 4.0/12.0},
		{"abc", "xyz", 0},
		{"流浪地球", "流浪地球2", 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, Similarity(tt.b, tt.a), 1e-9)
		})
	}
}

func TestMatchScenario(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "Show S01 2160p-GROUP.torrent"), "Show.S01.2160p-GROUP",
		testsupport.TorrentFile{Path: "Show.S01E01.2160p-GROUP.mkv", Length: 4000},
		testsupport.TorrentFile{Path: "Show.S01E02.2160p-GROUP.mkv", Length: 4100},
	)
	testsupport.WriteTorrent(t, filepath.Join(dir, "Random.Unrelated.Name.torrent"), "Random.Unrelated.Name.mkv")

	matcher := NewMatcher(testConfig(), utils.Discard())
	report, err := matcher.Match(context.Background(), dir, []LibraryFolder{folder("Show.S01.1080p", 10)})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, report.Matched, 1)
	c := report.Matched[0]
	assert.Equal(t, "Show S01 2160p-GROUP.torrent", c.Torrent.Name)
	assert.Equal(t, "show s01", c.Torrent.CleanTitle)
	assert.Equal(t, "Show.S01.1080p", c.Folder.Name)
	assert.GreaterOrEqual(t, c.Similarity, 0.6)
	assert.Equal(t, 1.0, c.Similarity)
	assert.Equal(t, MatchFolderSimilar, c.MatchType)
	assert.True(t, c.Selected)
	assert.True(t, c.AutoAccepted)
	assert.False(t, c.NeedsConfirmation)
	assert.Equal(t, 2, c.Torrent.FileCount)
	assert.Equal(t, "Show.S01E02.2160p-GROUP.mkv", c.Torrent.SampleFile)

	require.Len(t, report.Unmatched, 1)
	u := report.Unmatched[0]
	assert.Equal(t, "Random Unrelated Name", u.Title)
	assert.Less(t, u.BestScore, 0.6)
	assert.Equal(t, "Show.S01.1080p", u.BestFolder)
}

func TestMatchNeedsConfirmationBelowExact(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "The.Show.S01.720p.torrent"), "Completely.Other.Name")

	report, err := NewMatcher(testConfig(), utils.Discard()).Match(context.Background(), dir, []LibraryFolder{folder("Show.S01.1080p", 1)})
	require.NoError(t, err)
	require.Len(t, report.Matched, 1)
	c := report.Matched[0]
	assert.InDelta(t, 1-4.0/12.0, c.Similarity, 1e-9)
	assert.True(t, c.Selected)
	assert.False(t, c.AutoAccepted)
	assert.True(t, c.NeedsConfirmation)
	assert.Equal(t, MatchFolderDifferent, c.MatchType)
}

func TestMatchFolderSimilarNeverBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"Show S01 2160p-GROUP",
		"The.Show.S01.720p",
		"Shows.S01.1080p",
		"Show.S02.1080p",
		"Movie.2020.1080p",
		"Movie.2021.2160p",
	}
	for _, n := range names {
		testsupport.WriteTorrent(t, filepath.Join(dir, n+".torrent"), n)
	}
	folders := []LibraryFolder{folder("Show.S01.1080p", 3), folder("Movie.2020.720p", 1), folder("Movi", 1)}

	cfg := testConfig()
	report, err := NewMatcher(cfg, utils.Discard()).Match(context.Background(), dir, folders)
	require.NoError(t, err)
	require.NotEmpty(t, report.Matched)
	for _, c := range report.Matched {
		if c.MatchType == MatchFolderSimilar {
			assert.GreaterOrEqual(t, c.Similarity, cfg.Matching.FolderSimilarThreshold, c.Torrent.Name)
			assert.GreaterOrEqual(t, c.SampleSimilarity, cfg.Matching.FolderSimilarThreshold, c.Torrent.Name)
		}
		assert.Equal(t, c.Similarity == 1.0, c.AutoAccepted, c.Torrent.Name)
	}
	assert.Equal(t, len(names), len(report.Matched)+len(report.Unmatched))
}

func TestMatchTieBreak(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "Movie.2020.2160p.torrent"), "Movie.2020.2160p.mkv")
	matcher := NewMatcher(testConfig(), utils.Discard())

	report, err := matcher.Match(context.Background(), dir, []LibraryFolder{
		folder("Movie.2020.1080p", 1),
		folder("Movie.2020.720p", 3),
	})
	require.NoError(t, err)
	require.Len(t, report.Matched, 1)
	assert.Equal(t, "Movie.2020.720p", report.Matched[0].Folder.Name)

	report, err = matcher.Match(context.Background(), dir, []LibraryFolder{
		folder("Movie.2020.WEB", 2),
		folder("Movie.2020.BluRay", 2),
	})
	require.NoError(t, err)
	require.Len(t, report.Matched, 1)
	assert.Equal(t, "Movie.2020.BluRay", report.Matched[0].Folder.Name)
}

func TestMatchEmptyLibrary(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "A.torrent"), "A.mkv")
	testsupport.WriteTorrent(t, filepath.Join(dir, "B.torrent"), "B.mkv")

	report, err := NewMatcher(testConfig(), utils.Discard()).Match(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Matched)
	require.Len(t, report.Unmatched, 2)
	assert.Equal(t, "A.torrent", report.Unmatched[0].Torrent.Name)
	assert.Zero(t, report.Unmatched[0].BestScore)
}

func TestMatchMissingFolder(t *testing.T) {
	_, err := NewMatcher(testConfig(), utils.Discard()).Match(context.Background(), filepath.Join(t.TempDir(), "none"), nil)
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestMatchEnumeratesSources(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "B.Folder", "inner.torrent"), "B.Folder.Inner")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "C.Empty.Folder"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.magnet"),
		[]byte("magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=A.Show.S01"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "D.broken.torrent"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "E.notes.txt"), []byte("x"), 0o644))

	report, err := NewMatcher(testConfig(), utils.Discard()).Match(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Len(t, report.Unmatched, 2)

	magnet := report.Unmatched[0].Torrent
	assert.Equal(t, "A.magnet", magnet.Name)
	assert.Equal(t, "c12fe1c06bba254a9dc9f519b335aa7c1367a88a", magnet.InfoHash)
	assert.Contains(t, magnet.SourceRef, "magnet:?")

	folderEntry := report.Unmatched[1].Torrent
	assert.Equal(t, "B.Folder", folderEntry.Name)
	assert.Equal(t, filepath.Join(dir, "B.Folder", "inner.torrent"), folderEntry.SourceRef)
	assert.Equal(t, "B.Folder.Inner", folderEntry.InternalName)

	require.Len(t, report.Invalid, 1)
	assert.Equal(t, "D.broken.torrent", report.Invalid[0].Name)
}

func TestMatchDuplicateSourcesReportedOnce(t *testing.T) {
	dir := t.TempDir()
	link := []byte("magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=Show.S01")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.magnet"), link, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.magnet"), link, 0o644))

	cfg := testConfig()
	cfg.Matching.MinSimilarity = 0
	report, err := NewMatcher(cfg, utils.Discard()).Match(context.Background(), dir, []LibraryFolder{folder("Show.S01.1080p", 1)})
	require.NoError(t, err)

	require.Len(t, report.Matched, 1)
	assert.Equal(t, "a.magnet", report.Matched[0].Torrent.Name)
	require.Len(t, report.Invalid, 1)
	assert.Equal(t, "b.magnet", report.Invalid[0].Name)
	assert.Contains(t, report.Invalid[0].Error, "a.magnet")

	ledger := NewLedger(nil)
	ledger.Replace(report)
	assert.Equal(t, report.Matched, ledger.Candidates())
}

func TestMatchCandidateIDsAreStable(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "Show.S01.torrent"), "Show.S01")
	folders := []LibraryFolder{folder("Show.S01.1080p", 1)}
	matcher := NewMatcher(testConfig(), utils.Discard())

	first, err := matcher.Match(context.Background(), dir, folders)
	require.NoError(t, err)
	second, err := matcher.Match(context.Background(), dir, folders)
	require.NoError(t, err)

	require.Len(t, first.Matched, 1)
	require.Len(t, second.Matched, 1)
	assert.Equal(t, first.Matched[0].ID, second.Matched[0].ID)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, CandidateID(filepath.Join(dir, "Show.S01.torrent"), "/library/欧美剧/Show.S01.1080p"), first.Matched[0].ID)
}

func TestFoldersFromRecords(t *testing.T) {
	lib := t.TempDir()
	showPath := filepath.Join(lib, "欧美剧", "Show.S01.1080p")
	testsupport.WriteFile(t, filepath.Join(showPath, "Show.S01E01.mkv"), 10)
	testsupport.WriteFile(t, filepath.Join(showPath, "Show.S01E02.mkv"), 30)
	testsupport.WriteFile(t, filepath.Join(showPath, "cover.jpg"), 100)

	records := []models.ProcessedRecord{
		{Name: "Show.S01.1080p", ItemType: models.ItemDirectory, Category: "欧美剧", NewPath: showPath},
		{Name: "Heat.1995.mkv", ItemType: models.ItemFile, Category: "欧美电影", NewPath: filepath.Join(lib, "欧美电影", "Heat.1995.mkv")},
	}
	folders := FoldersFromRecords(records, videoFilter(testConfig().Library.VideoExtensions), utils.Discard())
	require.Len(t, folders, 2)

	assert.Equal(t, "show s01", folders[0].CleanTitle)
	assert.Equal(t, 2, folders[0].FileCount)
	assert.Equal(t, "Show.S01E02.mkv", folders[0].SampleFile)
	assert.Equal(t, filepath.Join(lib, "欧美剧"), folders[0].DownloadPath)

	assert.Equal(t, "heat", folders[1].CleanTitle)
	assert.Equal(t, 1, folders[1].FileCount)
	assert.Equal(t, filepath.Join(lib, "欧美电影"), folders[1].DownloadPath)
}

package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"curator/internal/config"
	"curator/internal/utils"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/errgroup"
)

type MatchType string

const (
	MatchFolderSimilar   MatchType = "folder_similar"
	MatchFolderDifferent MatchType = "folder_different"
)

// candidateNamespace scopes the name based candidate ids.
var candidateNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("curator:match-candidate"))

// MatchCandidate pairs a torrent with the library folder it most resembles.
// Similarity and MatchType never change once the candidate exists.
type MatchCandidate struct {
	ID                string        `json:"id"`
	Torrent           TorrentEntry  `json:"torrent"`
	Folder            LibraryFolder `json:"folder"`
	Similarity        float64       `json:"similarity"`
	SampleSimilarity  float64       `json:"sample_similarity"`
	MatchType         MatchType     `json:"match_type"`
	Selected          bool          `json:"selected"`
	AutoAccepted      bool          `json:"auto_accepted"`
	NeedsConfirmation bool          `json:"needs_confirmation"`
	RemovedReason     string        `json:"removed_reason,omitempty"`
}

type UnmatchedTorrent struct {
	Torrent    TorrentEntry `json:"torrent"`
	Title      string       `json:"title"`
	BestScore  float64      `json:"best_score"`
	BestFolder string       `json:"best_folder,omitempty"`
}

type MatchReport struct {
	RunID     string             `json:"run_id"`
	Matched   []MatchCandidate   `json:"matched"`
	Unmatched []UnmatchedTorrent `json:"unmatched"`
	Invalid   []InvalidTorrent   `json:"invalid,omitempty"`
}

type Matcher struct {
	logger          *utils.Logger
	workers         int
	minSimilarity   float64
	folderThreshold float64
	keepVideo       func(string) bool
	progress        ProgressFunc
}

func NewMatcher(cfg *config.Config, logger *utils.Logger) *Matcher {
	workers := cfg.Workers.Match
	if workers < 1 {
		workers = 1
	}
	return &Matcher{
		logger:          logger,
		workers:         workers,
		minSimilarity:   cfg.Matching.MinSimilarity,
		folderThreshold: cfg.Matching.FolderSimilarThreshold,
		keepVideo:       videoFilter(cfg.Library.VideoExtensions),
	}
}

func (m *Matcher) OnProgress(fn ProgressFunc) {
	m.progress = fn
}

// Match scores every torrent of torrentFolder against folders. Matched and
// unmatched entries keep the enumeration order of the torrent folder.
func (m *Matcher) Match(ctx context.Context, torrentFolder string, folders []LibraryFolder) (*MatchReport, error) {
	entries, invalid, err := ListTorrents(torrentFolder, m.keepVideo, m.logger)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Starting torrent matching with", len(entries), "torrents and", len(folders), "library folders")

	runID := uuid.New().String()
	type outcome struct {
		candidate *MatchCandidate
		unmatched *UnmatchedTorrent
	}
	outcomes := make([]outcome, len(entries))

	var mu sync.Mutex
	finished := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, u := m.score(entry, folders)
			outcomes[i] = outcome{candidate: c, unmatched: u}
			mu.Lock()
			finished++
			done := finished
			mu.Unlock()
			if m.progress != nil {
				m.progress("match", done, len(entries))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("matching interrupted: %w", err)
	}

	report := &MatchReport{RunID: runID, Matched: []MatchCandidate{}, Unmatched: []UnmatchedTorrent{}, Invalid: invalid}
	seen := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		if o.candidate != nil {
			// Two sources for the same content and folder, e.g. copies of one magnet link
			if first, dup := seen[o.candidate.ID]; dup {
				m.logger.Warn("Skipping", o.candidate.Torrent.Name, "- same torrent as", first)
				report.Invalid = append(report.Invalid, InvalidTorrent{
					Name:  o.candidate.Torrent.Name,
					Error: "duplicate of " + first,
				})
				continue
			}
			seen[o.candidate.ID] = o.candidate.Torrent.Name
			report.Matched = append(report.Matched, *o.candidate)
		} else {
			report.Unmatched = append(report.Unmatched, *o.unmatched)
		}
	}
	m.logger.Info("Torrent matching finished - matched:", len(report.Matched), "unmatched:", len(report.Unmatched))
	return report, nil
}

// score picks the best folder for entry. The highest similarity wins, then
// the folder with more files, then the lexically smaller folder name.
func (m *Matcher) score(entry TorrentEntry, folders []LibraryFolder) (*MatchCandidate, *UnmatchedTorrent) {
	best := -1
	bestScore := 0.0
	for i, f := range folders {
		s := Similarity(entry.CleanTitle, f.CleanTitle)
		if best < 0 || s > bestScore || (s == bestScore && betterTieBreak(f, folders[best])) {
			best, bestScore = i, s
		}
	}

	if best < 0 || bestScore < m.minSimilarity {
		u := &UnmatchedTorrent{Torrent: entry, Title: entry.Title, BestScore: bestScore}
		if best >= 0 {
			u.BestFolder = folders[best].Name
		}
		m.logger.Debug(fmt.Sprintf("No match for '%s' (best %.2f)", entry.Name, bestScore))
		return nil, u
	}

	folder := folders[best]
	sample := 0.0
	for _, t := range entry.sampleTitles() {
		sample = max(sample, Similarity(t, folder.CleanTitle))
	}
	matchType := MatchFolderDifferent
	if sample >= m.folderThreshold && bestScore >= m.folderThreshold {
		matchType = MatchFolderSimilar
	}

	exact := bestScore == 1.0
	c := &MatchCandidate{
		ID:                CandidateID(entry.SourceRef, folder.Path),
		Torrent:           entry,
		Folder:            folder,
		Similarity:        bestScore,
		SampleSimilarity:  sample,
		MatchType:         matchType,
		Selected:          true,
		AutoAccepted:      exact,
		NeedsConfirmation: !exact,
	}
	m.logger.Info(fmt.Sprintf("Matched '%s' -> '%s' (%.2f, %s)", entry.Name, folder.Name, bestScore, matchType))
	return c, nil
}

func betterTieBreak(a, b LibraryFolder) bool {
	if a.FileCount != b.FileCount {
		return a.FileCount > b.FileCount
	}
	return a.Name < b.Name
}

// CandidateID derives the stable id of a torrent and folder pairing.
func CandidateID(torrentSource, folderPath string) string {
	return uuid.NewSHA1(candidateNamespace, []byte(torrentSource+"\x00"+folderPath)).String()
}

// Similarity is 1 - Levenshtein distance / longer length, over runes.
// Identical titles score 1 and an empty title scores 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	d := fuzzy.LevenshteinDistance(a, b)
	if d >= longest {
		return 0
	}
	return 1 - float64(d)/float64(longest)
}

func videoFilter(exts []string) func(string) bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[utils.NormalizeExtension("x."+strings.TrimPrefix(e, "."))] = true
	}
	return func(name string) bool {
		return set[utils.NormalizeExtension(name)]
	}
}

package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"curator/internal/database/models"

	"github.com/google/uuid"
)

// RemovalSink persists removal events.
type RemovalSink interface {
	Append(ctx context.Context, e *models.RemovalEntry) error
}

// Ledger holds the selection state of one match run and the removal audit
// trail. The candidate universe changes only through Replace and Reset.
type Ledger struct {
	mu         sync.Mutex
	runID      string
	order      []string
	candidates map[string]*MatchCandidate
	unmatched  []UnmatchedTorrent
	invalid    []InvalidTorrent
	audit      []models.RemovalEntry
	sink       RemovalSink
	now        func() time.Time
}

// NewLedger creates an empty ledger. sink may be nil when removals need not
// outlive the process.
func NewLedger(sink RemovalSink) *Ledger {
	return &Ledger{
		candidates: make(map[string]*MatchCandidate),
		sink:       sink,
		now:        time.Now,
	}
}

// Replace installs the candidates of a new match run. A candidate that was
// removed in the previous run stays removed, since its id names the same
// torrent and folder.
func (l *Ledger) Replace(report *MatchReport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	previous := l.candidates
	l.runID = report.RunID
	l.order = nil
	l.candidates = make(map[string]*MatchCandidate, len(report.Matched))
	for _, c := range report.Matched {
		if _, dup := l.candidates[c.ID]; dup {
			continue
		}
		if old, ok := previous[c.ID]; ok && !old.Selected {
			c.Selected = false
			c.RemovedReason = old.RemovedReason
		}
		l.order = append(l.order, c.ID)
		l.candidates[c.ID] = &c
	}
	l.unmatched = append([]UnmatchedTorrent(nil), report.Unmatched...)
	l.invalid = append([]InvalidTorrent(nil), report.Invalid...)
}

// Remove deselects a candidate and records why. Removing a candidate that is
// already deselected changes nothing.
func (l *Ledger) Remove(ctx context.Context, id, reason string) (MatchCandidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.candidates[id]
	if !ok {
		return MatchCandidate{}, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	if !c.Selected {
		return *c, nil
	}

	entry := models.RemovalEntry{
		ID:            uuid.New().String(),
		RunID:         l.runID,
		CandidateID:   c.ID,
		TorrentName:   c.Torrent.Name,
		TorrentSource: c.Torrent.SourceRef,
		FolderName:    c.Folder.Name,
		DownloadPath:  c.Folder.DownloadPath,
		Similarity:    c.Similarity,
		MatchType:     string(c.MatchType),
		Reason:        reason,
		RemovedAt:     l.now().UTC(),
	}
	if l.sink != nil {
		if err := l.sink.Append(ctx, &entry); err != nil {
			return *c, fmt.Errorf("record removal: %w", err)
		}
	}

	c.Selected = false
	c.RemovedReason = reason
	l.audit = append(l.audit, entry)
	return *c, nil
}

// Restore selects a candidate again. The audit trail keeps the removal.
func (l *Ledger) Restore(id string) (MatchCandidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.candidates[id]
	if !ok {
		return MatchCandidate{}, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	c.Selected = true
	c.RemovedReason = ""
	return *c, nil
}

// AcceptedSet returns the selected candidates in creation order.
func (l *Ledger) AcceptedSet() []MatchCandidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []MatchCandidate
	for _, id := range l.order {
		if c := l.candidates[id]; c.Selected {
			out = append(out, *c)
		}
	}
	return out
}

// Candidates returns every candidate of the run in creation order.
func (l *Ledger) Candidates() []MatchCandidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.candidatesLocked()
}

func (l *Ledger) candidatesLocked() []MatchCandidate {
	out := make([]MatchCandidate, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.candidates[id])
	}
	return out
}

// Get returns the candidates named by ids, in the order given.
func (l *Ledger) Get(ids []string) ([]MatchCandidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MatchCandidate, 0, len(ids))
	for _, id := range ids {
		c, ok := l.candidates[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
		}
		out = append(out, *c)
	}
	return out, nil
}

// Snapshot rebuilds the report of the current run with the live selection.
func (l *Ledger) Snapshot() *MatchReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &MatchReport{
		RunID:     l.runID,
		Matched:   l.candidatesLocked(),
		Unmatched: append([]UnmatchedTorrent{}, l.unmatched...),
		Invalid:   append([]InvalidTorrent(nil), l.invalid...),
	}
}

func (l *Ledger) Audit() []models.RemovalEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.RemovalEntry(nil), l.audit...)
}

// Reset forgets the run and the in-memory audit trail, returning how many
// candidates were dropped.
func (l *Ledger) Reset() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.candidates)
	l.runID = ""
	l.order = nil
	l.candidates = make(map[string]*MatchCandidate)
	l.unmatched = nil
	l.invalid = nil
	l.audit = nil
	return n
}

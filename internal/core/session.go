package core

import (
	"sort"
	"sync"
	"time"

	"curator/internal/library"
)

// DefaultSession is used when a request names no session.
const DefaultSession = "default"

// Session is the per-client pipeline state: the selection ledger of the
// last match run plus the last scan and batch reports.
type Session struct {
	ID     string
	Ledger *Ledger

	mu           sync.Mutex
	lastScan     *library.ScanResult
	lastClassify *ClassifyReport
	lastDispatch *DispatchReport
	updated      time.Time
}

// SessionSummary is a session's last results in brief.
type SessionSummary struct {
	ID         string          `json:"id"`
	Updated    time.Time       `json:"updated"`
	Scan       *ScanSummary    `json:"last_scan,omitempty"`
	Classify   *ClassifyReport `json:"last_classify,omitempty"`
	Dispatch   *DispatchReport `json:"last_dispatch,omitempty"`
	Candidates int             `json:"candidates"`
	Accepted   int             `json:"accepted"`
}

type ScanSummary struct {
	Root       string `json:"root"`
	TotalFiles int    `json:"total_files"`
	TotalDirs  int    `json:"total_dirs"`
	Errors     int    `json:"errors"`
}

func (s *Session) Summary() SessionSummary {
	snap := s.Ledger.Snapshot()
	accepted := len(s.Ledger.AcceptedSet())

	s.mu.Lock()
	defer s.mu.Unlock()
	sum := SessionSummary{
		ID:         s.ID,
		Updated:    s.updated,
		Classify:   s.lastClassify,
		Dispatch:   s.lastDispatch,
		Candidates: len(snap.Matched),
		Accepted:   accepted,
	}
	if s.lastScan != nil {
		sum.Scan = &ScanSummary{
			Root:       s.lastScan.Root,
			TotalFiles: s.lastScan.TotalFiles,
			TotalDirs:  s.lastScan.TotalDirs,
			Errors:     len(s.lastScan.Errors),
		}
	}
	return sum
}

func (s *Session) record(fn func(s *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
	s.updated = time.Now()
}

func (s *Session) clear() int {
	n := s.Ledger.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScan = nil
	s.lastClassify = nil
	s.lastDispatch = nil
	s.updated = time.Now()
	return n
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	sink     RemovalSink
}

func newSessionStore(sink RemovalSink) *sessionStore {
	return &sessionStore{sessions: make(map[string]*Session), sink: sink}
}

// get returns the session named id, creating it on first use.
func (st *sessionStore) get(id string) *Session {
	if id == "" {
		id = DefaultSession
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		s = &Session{ID: id, Ledger: NewLedger(st.sink), updated: time.Now()}
		st.sessions[id] = s
	}
	return s
}

func (st *sessionStore) ids() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// clearAll resets every session and returns the number of ledger
// candidates dropped.
func (st *sessionStore) clearAll() int {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.Unlock()
	n := 0
	for _, s := range all {
		n += s.clear()
	}
	return n
}

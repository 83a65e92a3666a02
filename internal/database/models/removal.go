package models

import (
	"context"
	"database/sql"
	"time"
)

// RemovalEntry is one operator removal of a match candidate. Entries are
// never updated.
type RemovalEntry struct {
	ID            string    `json:"id" db:"id"`
	RunID         string    `json:"run_id" db:"run_id"`
	CandidateID   string    `json:"candidate_id" db:"candidate_id"`
	TorrentName   string    `json:"torrent_name" db:"torrent_name"`
	TorrentSource string    `json:"torrent_source" db:"torrent_source"`
	FolderName    string    `json:"folder_name" db:"folder_name"`
	DownloadPath  string    `json:"download_path" db:"download_path"`
	Similarity    float64   `json:"similarity" db:"similarity"`
	MatchType     string    `json:"match_type" db:"match_type"`
	Reason        string    `json:"reason" db:"reason"`
	RemovedAt     time.Time `json:"removed_at" db:"removed_at"`
}

type RemovalRepository struct {
	db *sql.DB
}

func NewRemovalRepository(db *sql.DB) *RemovalRepository {
	return &RemovalRepository{db: db}
}

func (r *RemovalRepository) Append(ctx context.Context, e *RemovalEntry) error {
	query := `
        INSERT INTO removal_log (id, run_id, candidate_id, torrent_name, torrent_source, folder_name,
                                 download_path, similarity, match_type, reason, removed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query, e.ID, e.RunID, e.CandidateID, e.TorrentName, e.TorrentSource,
		e.FolderName, e.DownloadPath, e.Similarity, e.MatchType, e.Reason, e.RemovedAt.UTC())
	return err
}

// GetAll returns the log oldest first.
func (r *RemovalRepository) GetAll(ctx context.Context) ([]RemovalEntry, error) {
	query := `
        SELECT id, run_id, candidate_id, torrent_name, torrent_source, folder_name,
               download_path, similarity, match_type, reason, removed_at
        FROM removal_log ORDER BY removed_at, rowid
    `
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RemovalEntry
	for rows.Next() {
		var e RemovalEntry
		err := rows.Scan(&e.ID, &e.RunID, &e.CandidateID, &e.TorrentName, &e.TorrentSource, &e.FolderName,
			&e.DownloadPath, &e.Similarity, &e.MatchType, &e.Reason, &e.RemovedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *RemovalRepository) Clear(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM removal_log")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

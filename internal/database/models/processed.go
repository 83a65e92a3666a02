package models

import (
	"context"
	"database/sql"
	"time"
)

type ItemType string

const (
	ItemFile      ItemType = "file"
	ItemDirectory ItemType = "directory"
)

// ProcessedRecord marks a source that has been classified into the library.
type ProcessedRecord struct {
	ID             int64     `json:"id" db:"id"`
	SourcePath     string    `json:"source_path" db:"source_path"`
	Name           string    `json:"name" db:"name"`
	ItemType       ItemType  `json:"item_type" db:"item_type"`
	Category       string    `json:"category" db:"category"`
	NewPath        string    `json:"new_path" db:"new_path"`
	MetadataID     string    `json:"metadata_id,omitempty" db:"metadata_id"`
	MetadataSource string    `json:"metadata_source" db:"metadata_source"`
	MediaType      string    `json:"media_type,omitempty" db:"media_type"`
	MatchedTitle   string    `json:"matched_title,omitempty" db:"matched_title"`
	ProcessedAt    time.Time `json:"processed_at" db:"processed_at"`
}

type ProcessedRepository struct {
	db *sql.DB
}

func NewProcessedRepository(db *sql.DB) *ProcessedRepository {
	return &ProcessedRepository{db: db}
}

// Add records rec. Recording the same source again replaces the older row.
func (r *ProcessedRepository) Add(ctx context.Context, rec *ProcessedRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO processed_files (source_path, name, item_type, category, new_path,
                                     metadata_id, metadata_source, media_type, matched_title, processed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(source_path) DO UPDATE SET
            name = excluded.name,
            item_type = excluded.item_type,
            category = excluded.category,
            new_path = excluded.new_path,
            metadata_id = excluded.metadata_id,
            metadata_source = excluded.metadata_source,
            media_type = excluded.media_type,
            matched_title = excluded.matched_title,
            processed_at = excluded.processed_at
    `
	_, err := r.db.ExecContext(ctx, query, rec.SourcePath, rec.Name, rec.ItemType, rec.Category, rec.NewPath,
		rec.MetadataID, rec.MetadataSource, rec.MediaType, rec.MatchedTitle, rec.ProcessedAt)
	if err != nil {
		return err
	}
	return r.db.QueryRowContext(ctx, "SELECT id FROM processed_files WHERE source_path = ?", rec.SourcePath).Scan(&rec.ID)
}

// Contains reports whether path was classified already, either as the
// original source or as the placed item.
func (r *ProcessedRepository) Contains(ctx context.Context, path string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM processed_files WHERE source_path = ? OR new_path = ?", path, path).Scan(&n)
	return n > 0, err
}

func (r *ProcessedRepository) GetAll(ctx context.Context) ([]ProcessedRecord, error) {
	query := `
        SELECT id, source_path, name, item_type, category, new_path, metadata_id,
               metadata_source, media_type, matched_title, processed_at
        FROM processed_files ORDER BY id
    `
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ProcessedRecord
	for rows.Next() {
		var rec ProcessedRecord
		err := rows.Scan(&rec.ID, &rec.SourcePath, &rec.Name, &rec.ItemType, &rec.Category, &rec.NewPath,
			&rec.MetadataID, &rec.MetadataSource, &rec.MediaType, &rec.MatchedTitle, &rec.ProcessedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *ProcessedRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM processed_files").Scan(&n)
	return n, err
}

// Clear deletes every record and reports how many were removed.
func (r *ProcessedRepository) Clear(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM processed_files")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

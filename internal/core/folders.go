package core

import (
	"io/fs"
	"path/filepath"

	"curator/internal/database/models"
	"curator/internal/library"
	"curator/internal/utils"
)

// LibraryFolder is a classified library item that torrents are matched
// against.
type LibraryFolder struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	CleanTitle string `json:"clean_title"`
	SampleFile string `json:"sample_file,omitempty"`
	FileCount  int    `json:"file_count"`
	// DownloadPath is where a matching torrent is saved: the category folder
	// holding the item.
	DownloadPath string `json:"download_path"`
	Category     string `json:"category"`
}

// FoldersFromRecords derives the library folders of the processed record.
// Placed folders are walked for their video files; placed files count as a
// folder of one.
func FoldersFromRecords(records []models.ProcessedRecord, keepVideo func(string) bool, logger *utils.Logger) []LibraryFolder {
	folders := make([]LibraryFolder, 0, len(records))
	for _, rec := range records {
		f := LibraryFolder{
			Name:         rec.Name,
			Path:         rec.NewPath,
			CleanTitle:   library.Normalize(rec.Name),
			DownloadPath: filepath.Dir(rec.NewPath),
			Category:     rec.Category,
		}
		if rec.ItemType == models.ItemDirectory {
			f.SampleFile, f.FileCount = sampleOf(rec.NewPath, keepVideo, logger)
		} else {
			f.SampleFile, f.FileCount = rec.Name, 1
		}
		folders = append(folders, f)
	}
	return folders
}

// sampleOf returns the largest video file below dir and the video file count.
func sampleOf(dir string, keepVideo func(string) bool, logger *utils.Logger) (string, int) {
	var sample string
	var sampleSize int64
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() || !keepVideo(d.Name()) {
			return nil
		}
		count++
		if info, err := d.Info(); err == nil && info.Size() >= sampleSize {
			sample, sampleSize = d.Name(), info.Size()
		}
		return nil
	})
	if err != nil {
		logger.Debug("Library folder not readable:", dir, err)
	}
	return sample, count
}

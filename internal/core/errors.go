package core

import (
	"context"
	"errors"

	"curator/internal/clients/metadata"
	"curator/internal/clients/torrent"
	"curator/internal/config"
	"curator/internal/library"
)

var (
	ErrPathNotFound        = library.ErrPathNotFound
	ErrPermission          = library.ErrPermission
	ErrInvalidConfig       = config.ErrInvalidConfig
	ErrDuplicateTarget     = errors.New("target already exists")
	ErrLookupTimeout       = errors.New("metadata lookup timed out")
	ErrClientUnreachable   = errors.New("download client unreachable")
	ErrDuplicateSubmission = errors.New("torrent already submitted")
	ErrCandidateNotFound   = errors.New("candidate not found")
	ErrNoTorrentClient     = errors.New("no torrent client configured")
	ErrNoMetadataClient    = errors.New("no metadata api key configured")
)

// ErrorKind maps an item error to the stable name stored in results.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateTarget):
		return "duplicate_target"
	case errors.Is(err, ErrDuplicateSubmission), errors.Is(err, torrent.ErrDuplicate):
		return "duplicate_submission"
	case errors.Is(err, ErrClientUnreachable), errors.Is(err, torrent.ErrUnreachable):
		return "client_unreachable"
	case errors.Is(err, ErrLookupTimeout), errors.Is(err, metadata.ErrTimeout):
		return "lookup_timeout"
	case errors.Is(err, ErrPathNotFound):
		return "path_not_found"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrCandidateNotFound):
		return "candidate_not_found"
	case errors.Is(err, torrent.ErrInvalidSource):
		return "invalid_source"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"curator/internal/clients/metadata"
	"curator/internal/config"
	"curator/internal/database/models"
	"curator/internal/library"
	"curator/internal/utils"

	"github.com/moistari/rls"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	SourceTMDB      = "tmdb"
	SourceHeuristic = "heuristic"
)

// ProcessedStore is the persistence the Classifier needs from the processed
// record.
type ProcessedStore interface {
	Contains(ctx context.Context, path string) (bool, error)
	Add(ctx context.Context, rec *models.ProcessedRecord) error
}

// ClassificationResult is the outcome for one item. It is not modified after
// the Classifier returns it.
type ClassificationResult struct {
	Source         library.FileEntry  `json:"source"`
	Category       string             `json:"category,omitempty"`
	TargetPath     string             `json:"target_path,omitempty"`
	Status         Status             `json:"status"`
	Error          string             `json:"error,omitempty"`
	ErrorKind      string             `json:"error_kind,omitempty"`
	MetadataSource string             `json:"metadata_source,omitempty"`
	MetadataID     string             `json:"metadata_id,omitempty"`
	MediaType      metadata.MediaType `json:"media_type,omitempty"`
	MatchedTitle   string             `json:"matched_title,omitempty"`
	Rule           RuleKind           `json:"rule,omitempty"`
	Method         string             `json:"method,omitempty"`
}

type ClassifyReport struct {
	Results   []ClassificationResult `json:"results"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Skipped   int                    `json:"skipped"`
}

// Classifier sorts scanned items into category folders below a library root.
type Classifier struct {
	lookup    metadata.Client
	processed ProcessedStore
	mover     *Mover
	logger    *utils.Logger
	workers   int
	timeout   time.Duration
	progress  ProgressFunc
}

// NewClassifier creates a Classifier. lookup may be nil, in which case every
// item is classified from its name alone.
func NewClassifier(cfg *config.Config, logger *utils.Logger, lookup metadata.Client, processed ProcessedStore) *Classifier {
	workers := cfg.Workers.Classify
	if workers < 1 {
		workers = 1
	}
	return &Classifier{
		lookup:    lookup,
		processed: processed,
		mover:     NewMover(cfg.Library.MoveMethods, logger),
		logger:    logger,
		workers:   workers,
		timeout:   cfg.MetadataTimeout(),
	}
}

// OnProgress registers fn to be called after every finished item.
func (c *Classifier) OnProgress(fn ProgressFunc) {
	c.progress = fn
}

// Classify places items below basePath. Results follow the order of items;
// items already in the processed record are only counted as skipped.
func (c *Classifier) Classify(ctx context.Context, items []library.FileEntry, basePath string, rules *RuleSet) (*ClassifyReport, error) {
	if rules == nil {
		return nil, fmt.Errorf("%w: no category rules loaded", ErrInvalidConfig)
	}
	if info, err := os.Stat(basePath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, basePath)
	}

	c.logger.Info("Starting classification of", len(items), "items into", basePath)

	var pending []library.FileEntry
	report := &ClassifyReport{}
	for _, item := range items {
		done, err := c.processed.Contains(ctx, item.ID())
		if err != nil {
			return nil, fmt.Errorf("check processed record: %w", err)
		}
		if done {
			c.logger.Debug("Skipping already processed item:", item.Path)
			report.Skipped++
			continue
		}
		pending = append(pending, item)
	}

	results := make([]ClassificationResult, len(pending))
	filled := make([]bool, len(pending))
	claims := newClaimSet()

	var mu sync.Mutex
	finished := 0

	g := new(errgroup.Group)
	g.SetLimit(c.workers)
	for i, item := range pending {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = c.classifyItem(ctx, item, basePath, rules, claims)
			mu.Lock()
			filled[i] = true
			finished++
			done := finished
			mu.Unlock()
			if c.progress != nil {
				c.progress("classify", done, len(pending))
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if !filled[i] {
			continue
		}
		report.Results = append(report.Results, r)
		if r.Status == StatusSuccess {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	c.logger.Info("Classification finished - succeeded:", report.Succeeded, "failed:", report.Failed, "skipped:", report.Skipped)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("classification interrupted: %w", err)
	}
	return report, nil
}

func (c *Classifier) classifyItem(ctx context.Context, item library.FileEntry, basePath string, rules *RuleSet, claims *claimSet) ClassificationResult {
	res := ClassificationResult{Source: item}

	meta, mediaType, title := c.identify(ctx, item)
	res.MediaType = mediaType
	res.MatchedTitle = title
	if meta != nil {
		res.MetadataSource = SourceTMDB
		res.MetadataID = meta.ID
	} else {
		res.MetadataSource = SourceHeuristic
	}

	decision := rules.Decide(item, mediaType, meta)
	folder := utils.SanitizeFilename(decision.Category)
	if folder == "" {
		folder = utils.SanitizeFilename(rules.Default(mediaType))
	}
	res.Category = decision.Category
	res.Rule = decision.Kind
	res.TargetPath = filepath.Join(basePath, folder, item.Name)

	if !claims.claim(res.TargetPath) {
		return c.fail(res, fmt.Errorf("%w: %s", ErrDuplicateTarget, res.TargetPath))
	}

	method, err := c.mover.Place(ctx, item.Path, res.TargetPath)
	if err != nil {
		return c.fail(res, err)
	}
	res.Method = method

	itemType := models.ItemFile
	if item.IsDir() {
		itemType = models.ItemDirectory
	}
	rec := &models.ProcessedRecord{
		SourcePath:     item.ID(),
		Name:           item.Name,
		ItemType:       itemType,
		Category:       res.Category,
		NewPath:        library.Identity(res.TargetPath),
		MetadataID:     res.MetadataID,
		MetadataSource: res.MetadataSource,
		MediaType:      string(mediaType),
		MatchedTitle:   title,
	}
	if err := c.processed.Add(ctx, rec); err != nil {
		return c.fail(res, fmt.Errorf("placed at %s but not recorded: %w", res.TargetPath, err))
	}

	res.Status = StatusSuccess
	c.logger.Info(fmt.Sprintf("Classified '%s' -> %s (%s, %s)", item.Name, res.Category, res.MetadataSource, method))
	return res
}

func (c *Classifier) fail(res ClassificationResult, err error) ClassificationResult {
	res.Status = StatusError
	res.Error = err.Error()
	res.ErrorKind = ErrorKind(err)
	c.logger.Error(fmt.Sprintf("Failed to classify '%s': %v", res.Source.Name, err))
	return res
}

// identify works out the media type and, when possible, the metadata of
// item. A failed lookup falls back to what the release name tells.
func (c *Classifier) identify(ctx context.Context, item library.FileEntry) (*metadata.Result, metadata.MediaType, string) {
	title := library.ExtractTitle(item.Name)
	mediaType, year := releaseHints(item.Name)

	if c.lookup == nil {
		return nil, mediaType, title
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	meta, err := c.lookup.Search(lookupCtx, metadata.Query{Title: title, Year: year, MediaType: mediaType})
	switch {
	case err == nil:
		if meta.MediaType != "" {
			mediaType = meta.MediaType
		}
		if meta.Title != "" {
			title = meta.Title
		}
		return meta, mediaType, title
	case errors.Is(err, metadata.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.logger.Warn("Metadata lookup timed out, using heuristics:", title, fmt.Errorf("%w: %v", ErrLookupTimeout, err))
	case errors.Is(err, metadata.ErrNotFound):
		c.logger.Warn("No metadata match, using heuristics:", title)
	default:
		c.logger.Warn("Metadata lookup failed, using heuristics:", title, err)
	}
	return nil, mediaType, title
}

// releaseHints reads the media type and year from a release name.
func releaseHints(name string) (metadata.MediaType, int) {
	r := rls.ParseString(name)
	mediaType := metadata.MediaTypeMovie
	if r.Type == rls.Series || r.Type == rls.Episode || r.Series > 0 || r.Episode > 0 {
		mediaType = metadata.MediaTypeTV
	}
	return mediaType, r.Year
}

// claimSet hands out each key once per run, so two workers never race for
// the same target path or info hash.
type claimSet struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newClaimSet() *claimSet {
	return &claimSet{claimed: make(map[string]bool)}
}

func (s *claimSet) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[key] {
		return false
	}
	s.claimed[key] = true
	return true
}

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"curator/internal/utils"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/time/rate"
)

const (
	defaultTMDBBaseURL = "https://api.themoviedb.org/3"
	posterBaseURL      = "https://image.tmdb.org/t/p/w500"
)

type TMDBClient struct {
	apiKey     string
	language   string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	cache      *ristretto.Cache
	logger     *utils.Logger
}

type TMDBOption func(*TMDBClient)

func WithBaseURL(u string) TMDBOption {
	return func(t *TMDBClient) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithRequestInterval spaces consecutive requests at least d apart.
func WithRequestInterval(d time.Duration) TMDBOption {
	return func(t *TMDBClient) {
		if d > 0 {
			t.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithTimeout(d time.Duration) TMDBOption {
	return func(t *TMDBClient) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithRetries sets the attempt count and the linear backoff step between them.
func WithRetries(attempts int, backoff time.Duration) TMDBOption {
	return func(t *TMDBClient) {
		if attempts > 0 {
			t.maxRetries = attempts
		}
		t.backoff = backoff
	}
}

func WithCacheSize(maxCost int64) TMDBOption {
	return func(t *TMDBClient) {
		if maxCost <= 0 {
			t.cache = nil
			return
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: maxCost * 10,
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err == nil {
			t.cache = cache
		}
	}
}

func WithLogger(l *utils.Logger) TMDBOption {
	return func(t *TMDBClient) { t.logger = l }
}

func NewTMDBClient(apiKey, language string, opts ...TMDBOption) *TMDBClient {
	t := &TMDBClient{
		apiKey:     apiKey,
		language:   language,
		baseURL:    defaultTMDBBaseURL,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		timeout:    15 * time.Second,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     utils.Discard(),
	}
	WithCacheSize(4096)(t)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type searchResult struct {
	ID            int      `json:"id"`
	MediaType     string   `json:"media_type"`
	Title         string   `json:"title"`
	Name          string   `json:"name"`
	OriginalTitle string   `json:"original_title"`
	OriginalName  string   `json:"original_name"`
	ReleaseDate   string   `json:"release_date"`
	FirstAirDate  string   `json:"first_air_date"`
	Overview      string   `json:"overview"`
	PosterPath    string   `json:"poster_path"`
	VoteAverage   float64  `json:"vote_average"`
	GenreIDs      []int    `json:"genre_ids"`
	OriginalLang  string   `json:"original_language"`
	OriginCountry []string `json:"origin_country"`
}

// Search runs a multi search and returns the best movie or tv hit enriched
// with its detail record.
func (t *TMDBClient) Search(ctx context.Context, q Query) (*Result, error) {
	if strings.TrimSpace(q.Title) == "" {
		return nil, ErrNotFound
	}
	key := fmt.Sprintf("%s|%d|%s", strings.ToLower(q.Title), q.Year, q.MediaType)
	if t.cache != nil {
		if v, ok := t.cache.Get(key); ok {
			return v.(*Result), nil
		}
	}

	params := url.Values{}
	params.Set("query", q.Title)
	params.Set("include_adult", "false")
	var resp struct {
		Results []searchResult `json:"results"`
	}
	if err := t.get(ctx, "/search/multi", params, &resp); err != nil {
		return nil, err
	}

	hit := pickResult(resp.Results, q)
	if hit == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, q.Title)
	}
	result := hit.toResult()

	var details map[string]any
	if err := t.get(ctx, fmt.Sprintf("/%s/%d", result.MediaType, hit.ID), url.Values{}, &details); err != nil {
		t.logger.Warn("TMDB details failed for", result.Title+":", err)
	} else {
		mergeDetails(result, details)
	}

	if t.cache != nil {
		t.cache.Set(key, result, 1)
		t.cache.Wait()
	}
	return result, nil
}

// SearchAll runs a multi search and returns every movie and tv hit in
// provider order, without detail records.
func (t *TMDBClient) SearchAll(ctx context.Context, title string) ([]*Result, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrNotFound
	}
	params := url.Values{}
	params.Set("query", title)
	params.Set("include_adult", "false")
	var resp struct {
		Results []searchResult `json:"results"`
	}
	if err := t.get(ctx, "/search/multi", params, &resp); err != nil {
		return nil, err
	}
	hits := mediaResults(resp.Results)
	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, hit.toResult())
	}
	return results, nil
}

func mediaResults(results []searchResult) []*searchResult {
	var hits []*searchResult
	for i := range results {
		r := &results[i]
		if r.MediaType == string(MediaTypeMovie) || r.MediaType == string(MediaTypeTV) {
			hits = append(hits, r)
		}
	}
	return hits
}

func pickResult(results []searchResult, q Query) *searchResult {
	candidates := mediaResults(results)
	if len(candidates) == 0 {
		return nil
	}
	if q.Year > 0 {
		for _, c := range candidates {
			if c.year() == q.Year && (q.MediaType == "" || MediaType(c.MediaType) == q.MediaType) {
				return c
			}
		}
	}
	if q.MediaType != "" {
		for _, c := range candidates {
			if MediaType(c.MediaType) == q.MediaType {
				return c
			}
		}
	}
	return candidates[0]
}

func (r *searchResult) year() int {
	date := r.ReleaseDate
	if date == "" {
		date = r.FirstAirDate
	}
	if len(date) >= 4 {
		y, _ := strconv.Atoi(date[:4])
		return y
	}
	return 0
}

func (r *searchResult) toResult() *Result {
	title, original := r.Title, r.OriginalTitle
	if r.MediaType == string(MediaTypeTV) {
		title, original = r.Name, r.OriginalName
	}
	posterURL := ""
	if r.PosterPath != "" {
		posterURL = posterBaseURL + r.PosterPath
	}
	return &Result{
		ID:               strconv.Itoa(r.ID),
		MediaType:        MediaType(r.MediaType),
		Title:            title,
		OriginalTitle:    original,
		Year:             r.year(),
		Overview:         r.Overview,
		PosterURL:        posterURL,
		Rating:           r.VoteAverage,
		GenreIDs:         r.GenreIDs,
		OriginalLanguage: r.OriginalLang,
		OriginCountry:    r.OriginCountry,
		Fields:           map[string]any{},
	}
}

// mergeDetails folds the detail response into r. Detail responses carry
// genres as objects and production countries as ISO records.
func mergeDetails(r *Result, details map[string]any) {
	for k, v := range details {
		r.Fields[k] = v
	}
	if genres, ok := details["genres"].([]any); ok && len(r.GenreIDs) == 0 {
		for _, g := range genres {
			if m, ok := g.(map[string]any); ok {
				if id, ok := m["id"].(float64); ok {
					r.GenreIDs = append(r.GenreIDs, int(id))
				}
			}
		}
	}
	if countries, ok := details["production_countries"].([]any); ok {
		for _, c := range countries {
			if m, ok := c.(map[string]any); ok {
				if iso, ok := m["iso_3166_1"].(string); ok {
					r.ProductionCountries = append(r.ProductionCountries, iso)
				}
			}
		}
	}
	if len(r.OriginCountry) == 0 {
		if origin, ok := details["origin_country"].([]any); ok {
			for _, c := range origin {
				if s, ok := c.(string); ok {
					r.OriginCountry = append(r.OriginCountry, s)
				}
			}
		}
	}
	if lang, ok := details["original_language"].(string); ok && r.OriginalLanguage == "" {
		r.OriginalLanguage = lang
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("TMDB returned status %d", e.code)
}

func (t *TMDBClient) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("api_key", t.apiKey)
	if t.language != "" {
		params.Set("language", t.language)
	}
	endpoint := t.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * t.backoff
			t.logger.Debug("Retrying TMDB request", path, "in", wait)
			select {
			case <-ctx.Done():
				return t.wrapErr(ctx.Err())
			case <-time.After(wait):
			}
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return t.wrapErr(err)
		}

		lastErr = t.do(ctx, endpoint, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || ctx.Err() != nil {
			break
		}
	}
	return t.wrapErr(lastErr)
}

func (t *TMDBClient) do(ctx context.Context, endpoint string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &statusError{code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode TMDB response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (t *TMDBClient) wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("failed to query TMDB: %w", err)
}

// Ping checks the API key against the configuration endpoint.
func (t *TMDBClient) Ping(ctx context.Context) error {
	var out map[string]any
	return t.get(ctx, "/configuration", url.Values{}, &out)
}

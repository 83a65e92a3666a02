package metadata

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("no matching work found")
	ErrTimeout  = errors.New("metadata lookup timed out")
)

type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// Client is the interface for metadata providers.
type Client interface {
	Search(ctx context.Context, q Query) (*Result, error)
}

// Query describes one lookup. MediaType is a hint and may be empty.
type Query struct {
	Title     string
	Year      int
	MediaType MediaType
}

// Result is a standardized struct for media metadata.
type Result struct {
	ID                  string    `json:"id"`
	MediaType           MediaType `json:"media_type"`
	Title               string    `json:"title"`
	OriginalTitle       string    `json:"original_title,omitempty"`
	Year                int       `json:"year,omitempty"`
	Overview            string    `json:"overview,omitempty"`
	PosterURL           string    `json:"poster_url,omitempty"`
	Rating              float64   `json:"rating,omitempty"`
	GenreIDs            []int     `json:"genre_ids,omitempty"`
	OriginalLanguage    string    `json:"original_language,omitempty"`
	OriginCountry       []string  `json:"origin_country,omitempty"`
	ProductionCountries []string  `json:"production_countries,omitempty"`
	// Fields keeps every top-level field of the provider response so category
	// rules can reference ones not mapped above.
	Fields map[string]any `json:"-"`
}

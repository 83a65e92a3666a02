package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"curator/internal/utils"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	App struct {
		Port           int    `yaml:"port"`
		DataPath       string `yaml:"data_path"`
		Debug          bool   `yaml:"debug"`
		MaxConnections int    `yaml:"max_connections"`
	} `yaml:"app"`

	Paths struct {
		MoviePath      string   `yaml:"movie_path"`
		TorrentPath    string   `yaml:"torrent_path"`
		ExcludeDirs    []string `yaml:"exclude_dirs"`
		CategoryConfig string   `yaml:"category_config"`
	} `yaml:"paths"`

	Library struct {
		VideoExtensions []string `yaml:"video_extensions"`
		// Tried in order until one succeeds: move, copy, hardlink, symlink
		MoveMethods []string `yaml:"move_methods"`
	} `yaml:"library"`

	TorrentClient struct {
		Type       string   `yaml:"type"` // 'qbittorrent' or 'transmission'
		Host       string   `yaml:"host"`
		Username   string   `yaml:"username"`
		Password   string   `yaml:"password"`
		Category   string   `yaml:"category"`
		Tags       []string `yaml:"tags"`
		Timeout    string   `yaml:"timeout"`
		MaxRetries int      `yaml:"max_retries"`
	} `yaml:"torrent_client"`

	Metadata struct {
		TMDB struct {
			APIKey  string `yaml:"api_key"`
			BaseURL string `yaml:"base_url"`
		} `yaml:"tmdb"`
		Language        string `yaml:"language"`
		Timeout         string `yaml:"timeout"`
		MaxRetries      int    `yaml:"max_retries"`
		RequestInterval string `yaml:"request_interval"`
		CacheSize       int64  `yaml:"cache_size"`
	} `yaml:"metadata"`

	Matching struct {
		MinSimilarity          float64 `yaml:"min_similarity"`
		FolderSimilarThreshold float64 `yaml:"folder_similar_threshold"`
	} `yaml:"matching"`

	Workers struct {
		Scan     int `yaml:"scan"`
		Classify int `yaml:"classify"`
		Match    int `yaml:"match"`
		Dispatch int `yaml:"dispatch"`
	} `yaml:"workers"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Automation struct {
		MatchInterval string `yaml:"match_interval"`
		WatchTorrents bool   `yaml:"watch_torrents"`
		AutoDispatch  bool   `yaml:"auto_dispatch"`
	} `yaml:"automation"`

	Notifications struct {
		Pushbullet struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"pushbullet"`
	} `yaml:"notifications"`
}

// Settings is the subset of the configuration editable from the API.
type Settings struct {
	TMDBAPIKey  string   `json:"tmdb_api_key"`
	QBHost      string   `json:"qb_host"`
	QBUsername  string   `json:"qb_username"`
	QBPassword  string   `json:"qb_password"`
	MoviePath   string   `json:"movie_path"`
	ExcludeDirs []string `json:"exclude_dirs"`
	TorrentPath string   `json:"torrent_path"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	// A missing .env file is not an error
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration holding only the built-in defaults.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.App.Port = 8081
	cfg.App.DataPath = "./data"
	cfg.App.Debug = false
	cfg.App.MaxConnections = 64

	cfg.Paths.ExcludeDirs = []string{"temp", "tmp", "@eaDir", ".recycle"}
	cfg.Paths.CategoryConfig = "./data/categories.yaml"

	cfg.Library.VideoExtensions = utils.DefaultVideoExtensions()
	cfg.Library.MoveMethods = []string{"move", "copy"}

	cfg.TorrentClient.Type = "qbittorrent"
	cfg.TorrentClient.Host = "http://localhost:8080"
	cfg.TorrentClient.Category = "movie_manager"
	cfg.TorrentClient.Tags = []string{"auto_added"}
	cfg.TorrentClient.Timeout = "10s"
	cfg.TorrentClient.MaxRetries = 2

	cfg.Metadata.TMDB.BaseURL = "https://api.themoviedb.org/3"
	cfg.Metadata.Language = "zh-CN"
	cfg.Metadata.Timeout = "15s"
	cfg.Metadata.MaxRetries = 3
	cfg.Metadata.RequestInterval = "250ms"
	cfg.Metadata.CacheSize = 4096

	cfg.Matching.MinSimilarity = 0.6
	cfg.Matching.FolderSimilarThreshold = 0.8

	cfg.Workers.Scan = 4
	cfg.Workers.Classify = 4
	cfg.Workers.Match = 8
	cfg.Workers.Dispatch = 2

	cfg.Database.Path = "./data/curator.db"
}

func loadFromEnv(cfg *Config) {
	setString(&cfg.Metadata.TMDB.APIKey, "CURATOR_TMDB_API_KEY")
	setString(&cfg.TorrentClient.Host, "CURATOR_QB_HOST")
	setString(&cfg.TorrentClient.Username, "CURATOR_QB_USERNAME")
	setString(&cfg.TorrentClient.Password, "CURATOR_QB_PASSWORD")
	setString(&cfg.Paths.MoviePath, "CURATOR_MOVIE_PATH")
	setString(&cfg.Paths.TorrentPath, "CURATOR_TORRENT_PATH")
	setString(&cfg.App.DataPath, "CURATOR_DATA_PATH")
	setString(&cfg.Database.Path, "CURATOR_DB_PATH")
	setString(&cfg.Notifications.Pushbullet.APIKey, "CURATOR_PUSHBULLET_API_KEY")

	if v := os.Getenv("CURATOR_EXCLUDE_DIRS"); v != "" {
		cfg.Paths.ExcludeDirs = splitList(v)
	}
	if v := os.Getenv("CURATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = port
		}
	}
	if v := os.Getenv("CURATOR_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			cfg.App.Debug = debug
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks values that would make a pipeline stage misbehave.
func (c *Config) Validate() error {
	if c.Matching.MinSimilarity < 0 || c.Matching.MinSimilarity > 1 {
		return fmt.Errorf("%w: matching.min_similarity must be within [0,1]", ErrInvalidConfig)
	}
	if c.Matching.FolderSimilarThreshold < 0 || c.Matching.FolderSimilarThreshold > 1 {
		return fmt.Errorf("%w: matching.folder_similar_threshold must be within [0,1]", ErrInvalidConfig)
	}
	switch c.TorrentClient.Type {
	case "qbittorrent", "transmission":
	default:
		return fmt.Errorf("%w: unsupported torrent client type %q", ErrInvalidConfig, c.TorrentClient.Type)
	}
	for _, m := range c.Library.MoveMethods {
		switch m {
		case "move", "copy", "hardlink", "symlink":
		default:
			return fmt.Errorf("%w: unknown move method %q", ErrInvalidConfig, m)
		}
	}
	for _, d := range []struct{ name, value string }{
		{"torrent_client.timeout", c.TorrentClient.Timeout},
		{"metadata.timeout", c.Metadata.Timeout},
		{"metadata.request_interval", c.Metadata.RequestInterval},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.name, err)
		}
	}
	return nil
}

// Save writes the configuration back as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Settings() Settings {
	return Settings{
		TMDBAPIKey:  c.Metadata.TMDB.APIKey,
		QBHost:      c.TorrentClient.Host,
		QBUsername:  c.TorrentClient.Username,
		QBPassword:  c.TorrentClient.Password,
		MoviePath:   c.Paths.MoviePath,
		ExcludeDirs: append([]string(nil), c.Paths.ExcludeDirs...),
		TorrentPath: c.Paths.TorrentPath,
	}
}

// ApplySettings copies s into the configuration. Empty exclude lists keep the
// current value so a partial form post does not wipe them.
func (c *Config) ApplySettings(s Settings) {
	c.Metadata.TMDB.APIKey = s.TMDBAPIKey
	c.TorrentClient.Host = s.QBHost
	c.TorrentClient.Username = s.QBUsername
	c.TorrentClient.Password = s.QBPassword
	c.Paths.MoviePath = s.MoviePath
	c.Paths.TorrentPath = s.TorrentPath
	if s.ExcludeDirs != nil {
		c.Paths.ExcludeDirs = s.ExcludeDirs
	}
}

func (c *Config) TorrentClientTimeout() time.Duration {
	return mustDuration(c.TorrentClient.Timeout, 10*time.Second)
}

func (c *Config) MetadataTimeout() time.Duration {
	return mustDuration(c.Metadata.Timeout, 15*time.Second)
}

func (c *Config) MetadataRequestInterval() time.Duration {
	return mustDuration(c.Metadata.RequestInterval, 250*time.Millisecond)
}

func mustDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

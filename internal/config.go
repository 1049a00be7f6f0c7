package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/paperlens/internal/paperservice"
	"github.com/starford/paperlens/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Backend BackendConfig     `yaml:"backend"`
	Session SessionConfig     `yaml:"session"`
	Cache   CacheConfig       `yaml:"cache"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds gateway HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// BackendConfig describes the remote paper API.
type BackendConfig struct {
	BaseURL               string        `yaml:"base_url"`
	Timeout               time.Duration `yaml:"timeout"`
	SearchTimeout         time.Duration `yaml:"search_timeout"`
	RecommendationTimeout time.Duration `yaml:"recommendation_timeout"`
	UserAgent             string        `yaml:"user_agent"`
}

// Validate validates the backend configuration.
func (c *BackendConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SearchTimeout, validation.Min(c.Timeout)),
		validation.Field(&c.RecommendationTimeout, validation.Min(c.Timeout)),
	)
}

// SessionConfig selects where the login session is persisted.
type SessionConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Watch  bool   `yaml:"watch"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(storage.DriverFile, storage.DriverSQLite)),
		validation.Field(&c.Path, validation.Required),
	)
}

// CacheConfig holds query cache freshness windows.
type CacheConfig struct {
	SearchStale         time.Duration `yaml:"search_stale"`
	DetailStale         time.Duration `yaml:"detail_stale"`
	RecommendationStale time.Duration `yaml:"recommendation_stale"`
	BookmarkStale       time.Duration `yaml:"bookmark_stale"`
	HistoryStale        time.Duration `yaml:"history_stale"`
	InterestStale       time.Duration `yaml:"interest_stale"`
	ProfileStale        time.Duration `yaml:"profile_stale"`
	Retry               int           `yaml:"retry"`
	RefetchOnInvalidate bool          `yaml:"refetch_on_invalidate"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	nonNegative := validation.Min(time.Duration(0))
	return validation.ValidateStruct(c,
		validation.Field(&c.SearchStale, nonNegative),
		validation.Field(&c.DetailStale, nonNegative),
		validation.Field(&c.RecommendationStale, nonNegative),
		validation.Field(&c.BookmarkStale, nonNegative),
		validation.Field(&c.HistoryStale, nonNegative),
		validation.Field(&c.InterestStale, nonNegative),
		validation.Field(&c.ProfileStale, nonNegative),
		validation.Field(&c.Retry, validation.Min(0), validation.Max(10)),
	)
}

// Freshness converts the cache section for the paper service.
func (c *CacheConfig) Freshness() paperservice.Freshness {
	return paperservice.Freshness{
		Search:         c.SearchStale,
		Detail:         c.DetailStale,
		Recommendation: c.RecommendationStale,
		Bookmark:       c.BookmarkStale,
		History:        c.HistoryStale,
		Interest:       c.InterestStale,
		Profile:        c.ProfileStale,
		Retry:          c.Retry,
	}
}

// AuthConfig holds gateway authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// defaultSessionDir is ~/.paperlens, or ./.paperlens when there is no home.
func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".paperlens"
	}
	return filepath.Join(home, ".paperlens")
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	fresh := paperservice.DefaultFreshness()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Backend: BackendConfig{
			BaseURL:               "http://localhost:8000",
			Timeout:               10 * time.Second,
			SearchTimeout:         180 * time.Second,
			RecommendationTimeout: 420 * time.Second,
			UserAgent:             "paperlens",
		},
		Session: SessionConfig{
			Driver: storage.DriverFile,
			Path:   defaultSessionDir(),
		},
		Cache: CacheConfig{
			SearchStale:         fresh.Search,
			DetailStale:         fresh.Detail,
			RecommendationStale: fresh.Recommendation,
			BookmarkStale:       fresh.Bookmark,
			HistoryStale:        fresh.History,
			InterestStale:       fresh.Interest,
			ProfileStale:        fresh.Profile,
			Retry:               fresh.Retry,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

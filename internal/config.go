package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Libraries LibrariesConfig   `yaml:"libraries"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Watcher   WatcherConfig     `yaml:"watcher"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Libraries.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Watcher.Validate(); err != nil {
		return err
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

// HTTPConfig holds HTTP server configuration.
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

// LibraryRoot is a library declared directly in the config file. Roots
// are seeded into the library store at startup if not already present.
type LibraryRoot struct {
	Id           string `yaml:"id"`
	Name         string `yaml:"name"`
	RootPath     string `yaml:"root_path"`
	Organization string `yaml:"organization"`
}

// Validate validates a declared library root.
func (r *LibraryRoot) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Id, validation.Required),
		validation.Field(&r.RootPath, validation.Required),
	)
}

// LibrariesConfig holds the library store location and any libraries
// declared inline.
type LibrariesConfig struct {
	Path  string        `yaml:"path"`
	Roots []LibraryRoot `yaml:"roots"`
}

// Validate validates the libraries configuration.
func (c *LibrariesConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	); err != nil {
		return err
	}
	for i := range c.Roots {
		if err := c.Roots[i].Validate(); err != nil {
			return fmt.Errorf("libraries: root %d: %w", i, err)
		}
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// WatcherConfig holds change watcher configuration.
type WatcherConfig struct {
	// DebounceMS is the event coalescing window in milliseconds.
	DebounceMS int `yaml:"debounce_ms"`
	// MaxDepth bounds recursive scans; 0 means unlimited.
	MaxDepth int `yaml:"max_depth"`
}

// Debounce returns the coalescing window as a duration.
func (c *WatcherConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Validate validates the watcher configuration.
func (c *WatcherConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DebounceMS, validation.Min(0)),
		validation.Field(&c.MaxDepth, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
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
	// Normalise empty mode to "disabled" for backward compatibility.
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Libraries: LibrariesConfig{
			Path: "./libraries.json",
		},
		SQLite: SQLiteConfig{
			Path: "./arkiv.db",
		},
		Watcher: WatcherConfig{
			DebounceMS: 750,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

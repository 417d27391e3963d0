package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the mdview configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Themes   ThemesConfig   `yaml:"themes"`
	Document DocumentConfig `yaml:"document"`
	Render   RenderConfig   `yaml:"render"`
	Export   ExportConfig   `yaml:"export"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains server settings
type ServerConfig struct {
	Port           int     `yaml:"port"`
	Host           string  `yaml:"host"`
	Root           string  `yaml:"root,omitempty"`             // Directory documents resolve against (default: working dir)
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`   // Per-IP requests per second (default: 20)
	RateLimitBurst int     `yaml:"rate_limit_burst,omitempty"` // Per-IP burst (default: 40)
}

// ThemesConfig controls where stylesheets are discovered
type ThemesConfig struct {
	Dir     string   `yaml:"dir,omitempty"`     // Theme directory (default: <user config dir>/mdview/css)
	Default string   `yaml:"default,omitempty"` // Filename of the initial theme (default: first in order)
	Ignore  []string `yaml:"ignore,omitempty"`  // Doublestar patterns matched against filenames
}

// DocumentConfig controls how bound documents are watched
type DocumentConfig struct {
	PollInterval string `yaml:"poll_interval"` // e.g. "500ms", "1s". Default: 1s
}

// RenderConfig controls markdown rendering
type RenderConfig struct {
	Highlight      *bool  `yaml:"highlight,omitempty"`       // Server-side code highlighting (default: true)
	HighlightStyle string `yaml:"highlight_style,omitempty"` // Chroma style name (default: github)
}

// ExportConfig controls standalone HTML export
type ExportConfig struct {
	Dir string `yaml:"dir,omitempty"` // Default export directory (default: <user config dir>/mdview)
}

// LogConfig controls logging output
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // Console output instead of JSON
}

// GetPollInterval returns the document poll interval (default: 1s)
func (c DocumentConfig) GetPollInterval() time.Duration {
	if c.PollInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// IsHighlightEnabled returns whether code highlighting is on (default: true)
func (c RenderConfig) IsHighlightEnabled() bool {
	if c.Highlight == nil {
		return true
	}
	return *c.Highlight
}

// GetHighlightStyle returns the chroma style name (default: github)
func (c RenderConfig) GetHighlightStyle() string {
	if c.HighlightStyle == "" {
		return "github"
	}
	return c.HighlightStyle
}

// GetRateLimitRPS returns the per-IP rate limit (default: 20)
func (c ServerConfig) GetRateLimitRPS() float64 {
	if c.RateLimitRPS <= 0 {
		return 20
	}
	return c.RateLimitRPS
}

// GetRateLimitBurst returns the per-IP burst size (default: 40)
func (c ServerConfig) GetRateLimitBurst() int {
	if c.RateLimitBurst <= 0 {
		return 40
	}
	return c.RateLimitBurst
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetDir returns the theme directory with environment variables expanded.
func (c ThemesConfig) GetDir() string {
	if c.Dir == "" {
		return filepath.Join(BaseDir(), "css")
	}
	return os.ExpandEnv(c.Dir)
}

// GetDir returns the export directory with environment variables expanded.
func (c ExportConfig) GetDir() string {
	if c.Dir == "" {
		return BaseDir()
	}
	return os.ExpandEnv(c.Dir)
}

// BaseDir is the per-user mdview directory holding themes and exports.
func BaseDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".mdview"
	}
	return filepath.Join(dir, "mdview")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 2323,
			Host: "localhost",
		},
		Document: DocumentConfig{
			PollInterval: "1s",
		},
		Render: RenderConfig{
			HighlightStyle: "github",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Validate checks values that cannot be defaulted silently.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Document.PollInterval != "" {
		d, err := time.ParseDuration(c.Document.PollInterval)
		if err != nil {
			return fmt.Errorf("%w: document.poll_interval: %v", ErrInvalidConfig, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: document.poll_interval must be positive", ErrInvalidConfig)
		}
	}
	for _, pattern := range c.Themes.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: themes.ignore pattern %q", ErrInvalidConfig, pattern)
		}
	}
	return nil
}

// ApplyEnv overrides config values from MDVIEW_* environment variables.
func (c *Config) ApplyEnv() error {
	if host := os.Getenv("MDVIEW_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("MDVIEW_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: MDVIEW_PORT=%q", ErrInvalidConfig, port)
		}
		c.Server.Port = p
	}
	if dir := os.Getenv("MDVIEW_THEMES_DIR"); dir != "" {
		c.Themes.Dir = dir
	}
	return nil
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromDir looks for mdview.yaml, then .mdview.yaml, in the given directory
// If neither is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"mdview.yaml", ".mdview.yaml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return DefaultConfig(), nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

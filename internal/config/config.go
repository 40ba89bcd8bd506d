package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	API           APIConfig           `toml:"api"`
	Monitor       MonitorConfig       `toml:"monitor"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
}

// APIConfig holds the task/execution API endpoint
type APIConfig struct {
	BaseURL   string   `toml:"base_url"`
	ProjectID string   `toml:"project_id"`
	Token     string   `toml:"token"`
	Timeout   Duration `toml:"timeout"`
}

// MonitorConfig holds execution monitoring settings
type MonitorConfig struct {
	PollInterval    Duration `toml:"poll_interval"`
	LogRetryDelay   Duration `toml:"log_retry_delay"`
	ExcerptLimit    int      `toml:"excerpt_limit"`
	FailureKeywords []string `toml:"failure_keywords"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Addr returns host:port for the web server
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// Duration is a time.Duration written as "2s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultFailureKeywords are matched case-insensitively against log messages
var DefaultFailureKeywords = []string{"error", "failed", "失敗"}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".taskpilot", "runs.db"),
		},
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8000/api",
			Timeout: Duration{30 * time.Second},
		},
		Monitor: MonitorConfig{
			PollInterval:    Duration{2 * time.Second},
			LogRetryDelay:   Duration{800 * time.Millisecond},
			ExcerptLimit:    30,
			FailureKeywords: append([]string(nil), DefaultFailureKeywords...),
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config is usable
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Monitor.PollInterval.Duration <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Monitor.LogRetryDelay.Duration < 0 {
		return fmt.Errorf("monitor.log_retry_delay must not be negative")
	}
	if c.Monitor.ExcerptLimit <= 0 {
		c.Monitor.ExcerptLimit = 30
	}
	if len(c.Monitor.FailureKeywords) == 0 {
		c.Monitor.FailureKeywords = append([]string(nil), DefaultFailureKeywords...)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskpilot", "config.toml")
}

// LocalConfigName is the per-project config file searched from the working directory upward
const LocalConfigName = ".taskpilot.toml"

// FindLocalConfig walks up from the working directory looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ResolvePath picks the explicit path, then a project-local config, then the default location
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if local := FindLocalConfig(); local != "" {
		return local
	}
	return DefaultConfigPath()
}

// LoadWithLocalFallback loads the config chosen by ResolvePath
func LoadWithLocalFallback(explicit string) (*Config, error) {
	return Load(ResolvePath(explicit))
}

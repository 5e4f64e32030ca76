package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the sync engine
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Import     ImportConfig     `yaml:"import"`
	Population PopulationConfig `yaml:"population"`
	Slack      SlackConfig      `yaml:"slack"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	S3         S3Config         `yaml:"s3"`
}

// StoreConfig holds live store connection settings
type StoreConfig struct {
	Type           string `yaml:"type"` // "postgres" (default) or "sqlite"
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"ssl_mode"` // disable, require, verify-ca, verify-full (default: require)
	Path           string `yaml:"path"`     // SQLite database file
	MaxConnections int    `yaml:"max_connections"`
}

// ImportConfig holds import orchestrator settings
type ImportConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	MajorsFile   string        `yaml:"majors_file"`  // CSV with an "ident" column
	SnapshotDir  string        `yaml:"snapshot_dir"` // scratch space for downloaded snapshots
	ProgressJSON bool          `yaml:"progress_json"`
}

// PopulationConfig holds settings for the airport population schedulers
type PopulationConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Sources      []string      `yaml:"sources"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus/health listener
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the listener
}

// S3Config holds settings for s3:// snapshot handles
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"` // empty uses the default credential chain
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
	EnvFile          string // optional .env file loaded before ${VAR} expansion
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = filepath.Join(filepath.Dir(path), ".env")
	}
	// godotenv never overrides variables already set in the environment
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Type == "" {
		c.Store.Type = "postgres"
	}
	if c.Store.Type == "postgres" {
		if c.Store.Port == 0 {
			c.Store.Port = 5432
		}
		if c.Store.SSLMode == "" {
			c.Store.SSLMode = "require" // Secure default
		}
	}
	if c.Store.Path != "" {
		c.Store.Path = expandTilde(c.Store.Path)
	}
	if c.Store.MaxConnections == 0 {
		c.Store.MaxConnections = 8
	}

	if c.Import.PollInterval == 0 {
		c.Import.PollInterval = 30 * time.Second
	}
	if c.Import.ErrorBackoff == 0 {
		c.Import.ErrorBackoff = 30 * time.Second
	}
	if c.Import.SnapshotDir == "" {
		c.Import.SnapshotDir = os.TempDir()
	} else {
		c.Import.SnapshotDir = expandTilde(c.Import.SnapshotDir)
	}
	c.Import.MajorsFile = expandTilde(c.Import.MajorsFile)

	if len(c.Population.Sources) == 0 {
		c.Population.Sources = []string{"msfs", "xplane"}
	}
	if c.Population.BatchSize == 0 {
		c.Population.BatchSize = 50
	}
	if c.Population.PollInterval == 0 {
		c.Population.PollInterval = 2 * time.Minute
	}
	if c.Population.Timeout == 0 {
		c.Population.Timeout = 30 * time.Second
	}

	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

func (c *Config) validate() error {
	switch c.Store.Type {
	case "postgres":
		if c.Store.Host == "" {
			return fmt.Errorf("store.host is required")
		}
		if c.Store.Database == "" {
			return fmt.Errorf("store.database is required")
		}
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	default:
		return fmt.Errorf("store.type must be 'postgres' or 'sqlite', got '%s'", c.Store.Type)
	}

	if c.Import.PollInterval < time.Second {
		return fmt.Errorf("import.poll_interval must be at least 1s")
	}

	if c.Population.Enabled {
		if c.Population.URL == "" {
			return fmt.Errorf("population.url is required when population is enabled")
		}
		for _, s := range c.Population.Sources {
			if s != "msfs" && s != "xplane" {
				return fmt.Errorf("population.sources: unknown source '%s'", s)
			}
		}
	}
	return nil
}

// StoreDSN returns the live store connection string
func (c *Config) StoreDSN() string {
	if c.Store.Type == "sqlite" {
		return c.Store.Path
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Store.User), url.QueryEscape(c.Store.Password),
		c.Store.Host, c.Store.Port, url.QueryEscape(c.Store.Database), c.Store.SSLMode)
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	sanitized.Store.Password = "[REDACTED]"

	if sanitized.S3.SecretAccessKey != "" {
		sanitized.S3.SecretAccessKey = "[REDACTED]"
	}

	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}

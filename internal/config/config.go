package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment overrides (optionally from a .env file) are
// applied on top by ApplyEnv.

// ICSConfig describes a single subscribed ICS feed whose events are
// imported as sub-schedules.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name becomes the main-schedule title of imported events.
	Name string `yaml:"name" json:"name"`
	// Color is applied to imported events.
	Color string `yaml:"color" json:"color"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StorageConfig selects the key-value layer the schedule store persists to.
type StorageConfig struct {
	// Backend is one of "file" (default), "sqlite" or "redis".
	Backend string `yaml:"backend" json:"backend"`

	// Path is the state directory for "file" or the database file for "sqlite".
	// Empty means <state_dir>/state or <state_dir>/weekcal.db.
	Path string `yaml:"path" json:"path"`

	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisUsername string `yaml:"redis_username" json:"redis_username"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`
}

// APIConfig points the client at the remote scheduling backend.
type APIConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`

	// TimeoutSec bounds ordinary requests; AITimeoutSec bounds AI generation
	// and speech-to-text which take noticeably longer.
	TimeoutSec   int `yaml:"timeout_sec" json:"timeout_sec"`
	AITimeoutSec int `yaml:"ai_timeout_sec" json:"ai_timeout_sec"`

	// Endpoints overrides individual endpoint paths by operation name
	// (e.g. "login", "this_week"). Unset operations use built-in paths.
	Endpoints map[string]string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
}

// CaptureConfig controls the headless-Chromium PNG preview of the week page.
type CaptureConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Width   int  `yaml:"width" json:"width"`
	Height  int  `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// StateDir holds the persisted store, ICS cache and preview image.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic backend and feed refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is how many days ahead subscribed feeds are expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	Storage StorageConfig `yaml:"storage" json:"storage"`
	API     APIConfig     `yaml:"api" json:"api"`
	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Asia/Seoul"
	defaultRefreshCron = "*/15 * * * *"
	defaultStateDir    = "/var/lib/weekcal"
	defaultBaseURL     = "http://localhost:8080/api/v1"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		LogLevel:    "info",
		StateDir:    defaultStateDir,
		RefreshCron: defaultRefreshCron,
		HorizonDays: 7,
		Storage: StorageConfig{
			Backend:     "file",
			RedisPrefix: "weekcal:",
		},
		API: APIConfig{
			BaseURL:      defaultBaseURL,
			TimeoutSec:   15,
			AITimeoutSec: 120,
		},
		Capture: CaptureConfig{
			Width:  1280,
			Height: 1600,
		},
		ICS:       []ICSConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = "info"
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}

	switch c.Storage.Backend {
	case "file", "sqlite", "redis":
		// ok
	default:
		// Unknown or empty backend; the file store works everywhere.
		c.Storage.Backend = "file"
	}
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = "weekcal:"
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultBaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = 15
	}
	if c.API.AITimeoutSec <= 0 {
		c.API.AITimeoutSec = 120
	}

	if c.Capture.Width <= 0 {
		c.Capture.Width = 1280
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = 1600
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// StoragePath resolves the effective path for file/sqlite storage.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Backend == "sqlite" {
		return filepath.Join(c.StateDir, "weekcal.db")
	}
	return filepath.Join(c.StateDir, "state")
}

// ApplyEnv overlays WEEKCAL_* environment variables on the config. If
// envFile is non-empty and exists, it is loaded first without overriding
// variables already present in the process environment.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("WEEKCAL_LISTEN", &c.Listen)
	setString("WEEKCAL_TIMEZONE", &c.Timezone)
	setString("WEEKCAL_LOG_LEVEL", &c.LogLevel)
	setString("WEEKCAL_STATE_DIR", &c.StateDir)
	setString("WEEKCAL_API_BASE_URL", &c.API.BaseURL)
	setString("WEEKCAL_STORAGE_BACKEND", &c.Storage.Backend)
	setString("WEEKCAL_REDIS_ADDR", &c.Storage.RedisAddr)
	setString("WEEKCAL_REDIS_USERNAME", &c.Storage.RedisUsername)
	setString("WEEKCAL_REDIS_PASSWORD", &c.Storage.RedisPassword)

	if v := os.Getenv("WEEKCAL_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("WEEKCAL_REDIS_DB must be an integer")
		}
		c.Storage.RedisDB = n
	}

	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory followed by a rename, leaving the result with 0600 permissions.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".weekcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

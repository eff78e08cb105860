// Package config loads governor configuration using Viper.
//
// Sources, lowest to highest precedence: built-in defaults, a TOML config
// file (governor.toml), then GOVERNOR_* environment variables. Safety flags
// are additionally re-readable at runtime, see watch.go.
package config

import (
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/contentplane/governor/errors"
)

// Config is the full governor configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Safety    Safety          `mapstructure:"safety"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig holds the single global scheduler configuration.
type SchedulerConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	DailyQuota      int      `mapstructure:"daily_quota"`
	Windows         []string `mapstructure:"windows"` // "HH:MM-HH:MM", end exclusive
	EvergreenWeight int      `mapstructure:"evergreen_weight"`
	SeasonalWeight  int      `mapstructure:"seasonal_weight"`
	Language        string   `mapstructure:"language"`
	DryRun          bool     `mapstructure:"dry_run"`
	RotationPool    []string `mapstructure:"rotation_pool"` // fallback topics when the backlog is empty
}

// GeneratorConfig holds the content-generation collaborator settings.
type GeneratorConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Token             string `mapstructure:"token"` // static bearer token, distinct from user sessions
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxCallsPerMinute int    `mapstructure:"max_calls_per_minute"`
}

// Safety holds the two global safety flags read at the start of every
// governed operation. SAFE_MODE blocks all executions; FEATURE_FREEZE
// demotes all non-admin roles to read-only.
type Safety struct {
	SafeMode      bool `mapstructure:"safe_mode"`
	FeatureFreeze bool `mapstructure:"feature_freeze"`
}

// RateLimitConfig holds per-scope limits plus the trusted-internal bypass.
type RateLimitConfig struct {
	BypassToken string                 `mapstructure:"bypass_token"`
	Scopes      map[string]ScopeLimits `mapstructure:"scopes"`
}

// ScopeLimits is one (windowMs, maxRequests) pair.
type ScopeLimits struct {
	WindowMs    int `mapstructure:"window_ms"`
	MaxRequests int `mapstructure:"max_requests"`
}

// Window is a parsed daily execution window in minutes-of-day.
// Start is inclusive, End exclusive.
type Window struct {
	StartMin int
	EndMin   int
}

// ParseWindow parses "HH:MM-HH:MM" into a Window.
func ParseWindow(s string) (Window, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Window{}, errors.Newf("invalid window %q: want HH:MM-HH:MM", s)
	}

	start, err := parseMinutes(parts[0])
	if err != nil {
		return Window{}, errors.Wrapf(err, "invalid window start in %q", s)
	}
	end, err := parseMinutes(parts[1])
	if err != nil {
		return Window{}, errors.Wrapf(err, "invalid window end in %q", s)
	}

	if end <= start {
		return Window{}, errors.Newf("invalid window %q: end must be after start", s)
	}

	return Window{StartMin: start, EndMin: end}, nil
}

func parseMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, errors.Newf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.Newf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.Newf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// ParsedWindows returns the scheduler windows as minute pairs.
func (c SchedulerConfig) ParsedWindows() ([]Window, error) {
	windows := make([]Window, 0, len(c.Windows))
	for _, w := range c.Windows {
		parsed, err := ParseWindow(w)
		if err != nil {
			return nil, err
		}
		windows = append(windows, parsed)
	}
	return windows, nil
}

var (
	globalConfig *Config
	globalMu     sync.Mutex
)

// Load reads the governor configuration, caching the result.
func Load() (*Config, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadFromFile("")
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path. An empty path
// falls back to defaults plus environment variables only.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOVERNOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	// Validate windows up front so a bad config fails at startup, not mid-tick
	if _, err := cfg.Scheduler.ParsedWindows(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
}

// Package config loads and validates planwatch configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/seractech/planwatch/internal/logging"
	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/portal/planningdata"
)

// Storage backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Run       RunConfig       `mapstructure:"run"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   logging.Config  `mapstructure:"logging"`
	Councils  []CouncilConfig `mapstructure:"councils"`
}

// RunConfig governs one ingestion pass.
type RunConfig struct {
	Concurrency         int           `mapstructure:"concurrency"`
	Deadline            time.Duration `mapstructure:"deadline"`
	OverlapDays         int           `mapstructure:"overlap_days"`
	InitialLookbackDays int           `mapstructure:"initial_lookback_days"`
	MaxPages            int           `mapstructure:"max_pages"`
}

// RetryConfig controls per-request retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig holds the token bucket defaults.
type RateLimitConfig struct {
	DefaultRPS     float64 `mapstructure:"default_rps"`
	DefaultBurst   int     `mapstructure:"default_burst"`
	ThrottleFactor float64 `mapstructure:"throttle_factor"`
	MinRate        float64 `mapstructure:"min_rate"`
}

// HTTPConfig configures the portal HTTP client.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// GeocoderConfig configures postcode lookups.
type GeocoderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	BatchSize int    `mapstructure:"batch_size"`
	// CachePath enables the SQLite lookup cache when set.
	CachePath string `mapstructure:"cache_path"`
}

// StorageConfig selects where shards and metadata live.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	DataDir   string `mapstructure:"data_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds where run summaries are announced. Empty disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DatabaseConfig controls the optional run history table.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MetricsConfig controls the operational listener and the Pushgateway.
type MetricsConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// CouncilConfig is one entry of the councils list.
type CouncilConfig struct {
	ID                 string  `mapstructure:"id"`
	Name               string  `mapstructure:"name"`
	Portal             string  `mapstructure:"portal"`
	BaseURL            string  `mapstructure:"base_url"`
	Enabled            *bool   `mapstructure:"enabled"`
	RatePerSecond      float64 `mapstructure:"rate_per_second"`
	Burst              int     `mapstructure:"burst"`
	LimiterGroup       string  `mapstructure:"limiter_group"`
	LookbackDays       int     `mapstructure:"lookback_days"`
	MaxPages           int     `mapstructure:"max_pages"`
	OrganisationEntity string  `mapstructure:"organisation_entity"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLANWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.deadline", "0s")
	v.SetDefault("run.overlap_days", 2)
	v.SetDefault("run.initial_lookback_days", 30)
	v.SetDefault("run.max_pages", 50)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 3)
	v.SetDefault("rate_limit.throttle_factor", 0.5)
	v.SetDefault("rate_limit.min_rate", 0.05)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.user_agent", "planwatch/1.0 (+https://github.com/seractech/planwatch)")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("geocoder.base_url", "https://api.postcodes.io")
	v.SetDefault("geocoder.batch_size", 100)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.data_dir", "public")
	v.SetDefault("database.table", "planwatch_runs")
	v.SetDefault("metrics.job_name", "planwatch")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Run.Concurrency <= 0:
		return fmt.Errorf("run.concurrency must be > 0")
	case c.Run.Deadline < 0:
		return fmt.Errorf("run.deadline must not be negative")
	case c.Run.OverlapDays < 0:
		return fmt.Errorf("run.overlap_days must not be negative")
	case c.Run.InitialLookbackDays <= 0:
		return fmt.Errorf("run.initial_lookback_days must be > 0")
	case c.Run.MaxPages <= 0:
		return fmt.Errorf("run.max_pages must be > 0")
	case c.Retry.MaxAttempts <= 0:
		return fmt.Errorf("retry.max_attempts must be > 0")
	case c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay:
		return fmt.Errorf("retry.base_delay must be > 0 and <= retry.max_delay")
	case c.RateLimit.DefaultRPS <= 0 || c.RateLimit.DefaultBurst <= 0:
		return fmt.Errorf("rate_limit.default_rps and rate_limit.default_burst must be > 0")
	case c.RateLimit.ThrottleFactor <= 0 || c.RateLimit.ThrottleFactor > 1:
		return fmt.Errorf("rate_limit.throttle_factor must be in (0, 1]")
	case c.RateLimit.MinRate <= 0:
		return fmt.Errorf("rate_limit.min_rate must be > 0")
	case c.HTTP.Timeout <= 0:
		return fmt.Errorf("http.timeout must be > 0")
	case c.Geocoder.BatchSize <= 0 || c.Geocoder.BatchSize > 100:
		return fmt.Errorf("geocoder.batch_size must be between 1 and 100")
	}

	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.DataDir) == "" {
			return fmt.Errorf("storage.data_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", BackendLocal, BackendGCS)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic is set")
	}

	seen := make(map[string]struct{}, len(c.Councils))
	for i, cc := range c.Councils {
		if err := cc.validate(); err != nil {
			return fmt.Errorf("councils[%d]: %w", i, err)
		}
		if _, dup := seen[cc.ID]; dup {
			return fmt.Errorf("councils[%d]: duplicate id %q", i, cc.ID)
		}
		seen[cc.ID] = struct{}{}
	}
	return nil
}

func (cc CouncilConfig) validate() error {
	if strings.TrimSpace(cc.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(cc.Portal) == "" {
		return fmt.Errorf("portal is required")
	}
	if cc.BaseURL == "" {
		if cc.Portal != planningdata.Family {
			return fmt.Errorf("base_url is required for portal %q", cc.Portal)
		}
	} else if u, err := url.Parse(cc.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", cc.BaseURL)
	}
	if cc.RatePerSecond < 0 || cc.Burst < 0 || cc.LookbackDays < 0 || cc.MaxPages < 0 {
		return fmt.Errorf("rate_per_second, burst, lookback_days and max_pages must not be negative")
	}
	return nil
}

// Council converts the entry into the domain type. Councils are enabled
// unless the entry says otherwise.
func (cc CouncilConfig) Council() planning.Council {
	c := planning.Council{
		ID:                 cc.ID,
		Name:               cc.Name,
		Portal:             cc.Portal,
		BaseURL:            cc.BaseURL,
		Enabled:            cc.Enabled == nil || *cc.Enabled,
		RatePerSecond:      cc.RatePerSecond,
		Burst:              cc.Burst,
		LimiterGroup:       cc.LimiterGroup,
		LookbackDays:       cc.LookbackDays,
		MaxPages:           cc.MaxPages,
		OrganisationEntity: cc.OrganisationEntity,
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.BaseURL == "" && c.Portal == planningdata.Family {
		c.BaseURL = planningdata.DefaultBaseURL
	}
	return c
}

// PlanningCouncils returns every configured council, in file order.
func (c Config) PlanningCouncils() []planning.Council {
	out := make([]planning.Council, 0, len(c.Councils))
	for _, cc := range c.Councils {
		out = append(out, cc.Council())
	}
	return out
}

package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Directory   DirectoryConfig   `yaml:"directory" mapstructure:"directory"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Confidence  ConfidenceConfig  `yaml:"confidence" mapstructure:"confidence"`
	Freshness   FreshnessConfig   `yaml:"freshness" mapstructure:"freshness"`
	Maintenance MaintenanceConfig `yaml:"maintenance" mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the job run log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DirectoryConfig configures the provider directory database.
type DirectoryConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TrustedProxies   []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
	AdminSecret      string   `yaml:"admin_secret" mapstructure:"admin_secret"`
	HashSalt         string   `yaml:"hash_salt" mapstructure:"hash_salt"`
	CacheTTLSecs     int      `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	VerifyPerHour    int      `yaml:"verify_per_hour" mapstructure:"verify_per_hour"`
	VotePerMinute    int      `yaml:"vote_per_minute" mapstructure:"vote_per_minute"`
	SybilWindowDays  int      `yaml:"sybil_window_days" mapstructure:"sybil_window_days"`
	ShutdownTimeoutS int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ConfidenceConfig holds the confidence scoring policy. Sub-score bounds
// (25/30/25/20) are fixed; these values tune how evidence maps into them.
type ConfidenceConfig struct {
	SourceScores         map[string]float64 `yaml:"source_scores" mapstructure:"source_scores"`
	DefaultSourceScore   float64            `yaml:"default_source_score" mapstructure:"default_source_score"`
	RecencyMaxAgeDays    int                `yaml:"recency_max_age_days" mapstructure:"recency_max_age_days"`
	VerificationStep     float64            `yaml:"verification_step" mapstructure:"verification_step"`
	VerificationCap      int                `yaml:"verification_cap" mapstructure:"verification_cap"`
	MinVerificationsHigh int                `yaml:"min_verifications_high" mapstructure:"min_verifications_high"`
}

// FreshnessConfig holds the re-verification threshold in days per
// specialty category.
type FreshnessConfig struct {
	MentalHealthDays  int `yaml:"mental_health_days" mapstructure:"mental_health_days"`
	PrimaryCareDays   int `yaml:"primary_care_days" mapstructure:"primary_care_days"`
	SpecialistDays    int `yaml:"specialist_days" mapstructure:"specialist_days"`
	HospitalBasedDays int `yaml:"hospital_based_days" mapstructure:"hospital_based_days"`
	OtherDays         int `yaml:"other_days" mapstructure:"other_days"`
}

// MaintenanceConfig configures the batch maintenance commands.
type MaintenanceConfig struct {
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	EnrichMinMembers int `yaml:"enrich_min_members" mapstructure:"enrich_min_members"`
}

// MonitoringConfig configures data-quality alerting.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	StaleRatioThreshold    float64 `yaml:"stale_ratio_threshold" mapstructure:"stale_ratio_threshold"`
	PendingReviewThreshold int     `yaml:"pending_review_threshold" mapstructure:"pending_review_threshold"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
	JobFailureThreshold    int     `yaml:"job_failure_threshold" mapstructure:"job_failure_threshold"`
	AlertCooldownMinutes   int     `yaml:"alert_cooldown_minutes" mapstructure:"alert_cooldown_minutes"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("directory.max_conns", 10)
	v.SetDefault("directory.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.cache_ttl_secs", 300)
	v.SetDefault("server.verify_per_hour", 10)
	v.SetDefault("server.vote_per_minute", 10)
	v.SetDefault("server.sybil_window_days", 30)
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("confidence.source_scores", DefaultSourceScores())
	v.SetDefault("confidence.default_source_score", 10)
	v.SetDefault("confidence.recency_max_age_days", 180)
	v.SetDefault("confidence.verification_step", 5)
	v.SetDefault("confidence.verification_cap", 5)
	v.SetDefault("confidence.min_verifications_high", 3)
	v.SetDefault("freshness.mental_health_days", 30)
	v.SetDefault("freshness.primary_care_days", 60)
	v.SetDefault("freshness.specialist_days", 60)
	v.SetDefault("freshness.hospital_based_days", 90)
	v.SetDefault("freshness.other_days", 60)
	v.SetDefault("maintenance.batch_size", 500)
	v.SetDefault("maintenance.enrich_min_members", 2)
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.stale_ratio_threshold", 0.5)
	v.SetDefault("monitoring.pending_review_threshold", 100)
	v.SetDefault("monitoring.low_confidence_threshold", 0.6)
	v.SetDefault("monitoring.job_failure_threshold", 1)
	v.SetDefault("monitoring.alert_cooldown_minutes", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// DefaultSourceScores returns the data-source sub-score for each
// verification source. Authoritative registry data scores highest.
func DefaultSourceScores() map[string]float64 {
	return map[string]float64{
		"cms_data":        25,
		"carrier_data":    20,
		"provider_portal": 20,
		"phone_call":      15,
		"crowdsource":     15,
		"automated":       10,
	}
}

// Validate checks that the keys a command scope depends on are present.
// Scopes: "directory" (database commands), "serve" (HTTP API), "store"
// (job run log), "monitoring" (alert webhook).
func (c *Config) Validate(scope string) error {
	var missing []string
	switch scope {
	case "directory":
		if c.Directory.DatabaseURL == "" {
			missing = append(missing, "directory.database_url")
		}
	case "serve":
		if c.Directory.DatabaseURL == "" {
			missing = append(missing, "directory.database_url")
		}
		if c.Server.HashSalt == "" {
			missing = append(missing, "server.hash_salt")
		}
	case "store":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" && c.Directory.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	case "monitoring":
		if c.Monitoring.WebhookURL == "" {
			missing = append(missing, "monitoring.webhook_url")
		}
	default:
		return eris.Errorf("config: unknown validation scope %q", scope)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys for %s: %s", scope, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

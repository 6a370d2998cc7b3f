package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Tenants      TenantsConfig      `yaml:"tenants" mapstructure:"tenants"`
	Ingest       IngestConfig       `yaml:"ingest" mapstructure:"ingest"`
	Enrich       EnrichConfig       `yaml:"enrich" mapstructure:"enrich"`
	Telco        TelcoConfig        `yaml:"telco" mapstructure:"telco"`
	PeopleSearch PeopleSearchConfig `yaml:"people_search" mapstructure:"people_search"`
	Salesforce   SalesforceConfig   `yaml:"salesforce" mapstructure:"salesforce"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the ingest HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// TenantsConfig locates the per-client registry file.
type TenantsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// IngestConfig configures inbound event handling.
type IngestConfig struct {
	DebounceWindowMins int `yaml:"debounce_window_mins" mapstructure:"debounce_window_mins"`
}

// DebounceWindow returns the activity debounce window as a duration.
func (c IngestConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowMins) * time.Minute
}

// EnrichConfig configures the batch enrichment worker.
type EnrichConfig struct {
	LookbackHours       int `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	ErrorRetryAfterMins int `yaml:"error_retry_after_mins" mapstructure:"error_retry_after_mins"`
}

// Lookback returns the candidate selection window.
func (c EnrichConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// ErrorRetryAfter returns the cool-down before an errored record becomes
// eligible for another sweep.
func (c EnrichConfig) ErrorRetryAfter() time.Duration {
	return time.Duration(c.ErrorRetryAfterMins) * time.Minute
}

// TelcoConfig holds phone validation API settings.
type TelcoConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PeopleSearchConfig holds identity search API settings.
type PeopleSearchConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings for CRM import.
type SalesforceConfig struct {
	ClientID string  `yaml:"client_id" mapstructure:"client_id"`
	Username string  `yaml:"username" mapstructure:"username"`
	KeyPath  string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string  `yaml:"login_url" mapstructure:"login_url"`
	RPS      float64 `yaml:"rps" mapstructure:"rps"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IDENTITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("tenants.path", "tenants.yaml")
	v.SetDefault("ingest.debounce_window_mins", 10)
	v.SetDefault("enrich.lookback_hours", 2)
	v.SetDefault("enrich.error_retry_after_mins", 30)
	v.SetDefault("telco.base_url", "https://api.numlookup.dev/v1")
	v.SetDefault("people_search.base_url", "https://api.peopledata.io/v5")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rps", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

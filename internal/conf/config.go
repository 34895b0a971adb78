// Package conf loads errintake settings from defaults, an optional YAML
// file, a .env file and ERRINTAKE_* environment variables, in increasing
// order of precedence.
package conf

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tphakala/errintake/internal/datastore"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
)

// EnvPrefix prefixes every environment variable, e.g. ERRINTAKE_SERVER_LISTEN.
const EnvPrefix = "ERRINTAKE"

// Settings is the complete runtime configuration.
type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Database DatabaseSettings `mapstructure:"database"`
	Log      LogSettings      `mapstructure:"log"`
	Notify   NotifySettings   `mapstructure:"notify"`
	Metrics  MetricsSettings  `mapstructure:"metrics"`
	Tracing  TracingSettings  `mapstructure:"tracing"`
	Sentry   SentrySettings   `mapstructure:"sentry"`
	Report   ReportSettings   `mapstructure:"report"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Listen          string   `mapstructure:"listen"`
	ReadTimeout     Duration `mapstructure:"read_timeout"`
	WriteTimeout    Duration `mapstructure:"write_timeout"`
	ShutdownTimeout Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
}

// DatabaseSettings selects and tunes the database. The dialect follows
// the DSN scheme.
type DatabaseSettings struct {
	DSN             string   `mapstructure:"dsn"`
	MaxOpenConns    int      `mapstructure:"max_open_conns"`
	MaxIdleConns    int      `mapstructure:"max_idle_conns"`
	ConnMaxLifetime Duration `mapstructure:"conn_max_lifetime"`
	Debug           bool     `mapstructure:"debug"`
}

// LogSettings configures the application log. An empty File logs to stdout.
type LogSettings struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NotifySettings selects the notifier. With Relay disabled actions are only
// logged.
type NotifySettings struct {
	Relay      bool     `mapstructure:"relay"`
	EmailURLs  []string `mapstructure:"email_urls"`
	TicketURLs []string `mapstructure:"ticket_urls"`
	CallURLs   []string `mapstructure:"call_urls"`
}

// MetricsSettings controls the prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingSettings controls OTLP span export.
type TracingSettings struct {
	Enabled      bool     `mapstructure:"enabled"`
	Endpoint     string   `mapstructure:"endpoint"`
	Insecure     bool     `mapstructure:"insecure"`
	Environment  string   `mapstructure:"environment"`
	SamplingRate float64  `mapstructure:"sampling_rate"`
	Timeout      Duration `mapstructure:"timeout"`
}

// SentrySettings controls error reporting. An empty DSN disables it.
type SentrySettings struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Debug       bool    `mapstructure:"debug"`
}

// ReportSettings controls the PDF report.
type ReportSettings struct {
	CacheTTL Duration `mapstructure:"cache_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.dsn", datastore.DefaultDSN)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.debug", false)

	v.SetDefault("log.level", string(logger.LogLevelInfo))
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("notify.relay", false)
	v.SetDefault("notify.email_urls", []string{"logger://"})
	v.SetDefault("notify.ticket_urls", []string{"logger://"})
	v.SetDefault("notify.call_urls", []string{"logger://"})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.environment", "production")
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("tracing.timeout", "5s")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.sample_rate", 1.0)
	v.SetDefault("sentry.debug", false)

	v.SetDefault("report.cache_ttl", "1m")
}

// Load reads the settings. configFile may be empty, in which case
// errintake.yaml is looked up in the working directory and /etc/errintake
// and is optional. A .env file in the working directory is loaded into the
// process environment without overriding variables that are already set.
func Load(configFile string) (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, configError("failed to load .env file", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, configError("failed to read config file", err)
		}
	} else {
		v.SetConfigName("errintake")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/errintake")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, configError("failed to read config file", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, configError("failed to decode settings", err)
	}
	if err := applyLegacyDatabaseURL(&s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LegacyDatabaseURLEnv holds a SQLAlchemy-style URL in earlier deployments.
// It applies only when ERRINTAKE_DATABASE_DSN is unset.
const LegacyDatabaseURLEnv = "DB_URL"

func applyLegacyDatabaseURL(s *Settings) error {
	if os.Getenv(EnvPrefix+"_DATABASE_DSN") != "" {
		return nil
	}
	raw := os.Getenv(LegacyDatabaseURLEnv)
	if raw == "" {
		return nil
	}
	dsn, err := datastore.FromDatabaseURL(raw)
	if err != nil {
		return configError("invalid "+LegacyDatabaseURLEnv, err)
	}
	s.Database.DSN = dsn
	return nil
}

// Validate checks values that would otherwise fail late at runtime.
func (s *Settings) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Server.Listen) == "" {
		problems = append(problems, "server.listen must not be empty")
	}
	if !logger.IsValidLevel(s.Log.Level) {
		problems = append(problems, "log.level must be debug, info, warn or error")
	}
	if s.Metrics.Enabled && !strings.HasPrefix(s.Metrics.Path, "/") {
		problems = append(problems, "metrics.path must start with /")
	}
	if s.Database.MaxOpenConns < 0 || s.Database.MaxIdleConns < 0 {
		problems = append(problems, "database connection limits must not be negative")
	}
	if len(problems) > 0 {
		return errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// DatastoreConfig maps the database section to a datastore.Config.
func (s *Settings) DatastoreConfig() datastore.Config {
	return datastore.Config{
		DSN:             s.Database.DSN,
		MaxOpenConns:    s.Database.MaxOpenConns,
		MaxIdleConns:    s.Database.MaxIdleConns,
		ConnMaxLifetime: s.Database.ConnMaxLifetime.Std(),
		Debug:           s.Database.Debug,
	}
}

// LogFileConfig maps the log section to a logger.FileConfig.
func (s *Settings) LogFileConfig() logger.FileConfig {
	return logger.FileConfig{
		Path:       s.Log.File,
		MaxSizeMB:  s.Log.MaxSizeMB,
		MaxBackups: s.Log.MaxBackups,
		MaxAgeDays: s.Log.MaxAgeDays,
		Compress:   s.Log.Compress,
	}
}

// ReportCacheTTL returns the report cache lifetime.
func (s *Settings) ReportCacheTTL() time.Duration {
	return s.Report.CacheTTL.Std()
}

func configError(msg string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", msg, err)).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Build()
}

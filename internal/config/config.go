// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and ACROSS_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/observability"
	"github.com/signalsfoundry/across/internal/observation"
	"github.com/signalsfoundry/across/internal/store"
	"github.com/signalsfoundry/across/internal/visibility"
)

const envPrefix = "ACROSS"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Visibility VisibilityConfig `mapstructure:"visibility"`
	Overlap    OverlapConfig    `mapstructure:"overlap"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	JPL        HTTPSource       `mapstructure:"jpl"`
	Spice      SpiceConfig      `mapstructure:"spice"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	TLESync    TLESyncConfig    `mapstructure:"tle_sync"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Backend string `mapstructure:"backend"`
}

// DBConfig selects the storage backend. An empty DSN runs against the
// in-memory catalog.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Stream  string `mapstructure:"stream"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type VisibilityConfig struct {
	HiResStep   time.Duration `mapstructure:"hi_res_step"`
	LowResStep  time.Duration `mapstructure:"low_res_step"`
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	MaxSamples  int           `mapstructure:"max_samples"`
}

type OverlapConfig struct {
	PlannedLookback   time.Duration `mapstructure:"planned_lookback"`
	PlannedLookahead  time.Duration `mapstructure:"planned_lookahead"`
	PerformedLookback time.Duration `mapstructure:"performed_lookback"`
}

type WorkersConfig struct {
	Size int `mapstructure:"size"`
}

type HTTPSource struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SpiceConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheDir string        `mapstructure:"cache_dir"`
}

type ResolverConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TLESyncConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	SourceURL string        `mapstructure:"source_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type CatalogConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8000")
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.backend", "slog")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "schedule.created")
	v.SetDefault("nats.stream", "ACROSS")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("visibility.hi_res_step", "60s")
	v.SetDefault("visibility.low_res_step", "3600s")
	v.SetDefault("visibility.tool_timeout", "60s")
	v.SetDefault("visibility.max_samples", 1000000)
	v.SetDefault("overlap.planned_lookback", "48h")
	v.SetDefault("overlap.planned_lookahead", "336h")
	v.SetDefault("overlap.performed_lookback", "336h")
	v.SetDefault("workers.size", runtime.NumCPU())
	v.SetDefault("jpl.base_url", "https://ssd.jpl.nasa.gov/api/horizons.api")
	v.SetDefault("jpl.timeout", "30s")
	v.SetDefault("spice.timeout", "60s")
	v.SetDefault("spice.cache_dir", "")
	v.SetDefault("resolver.base_url", "https://cds.unistra.fr/cgi-bin/nph-sesame/-oxp/SNV")
	v.SetDefault("resolver.timeout", "10s")
	v.SetDefault("tle_sync.enabled", false)
	v.SetDefault("tle_sync.schedule", "@every 6h")
	v.SetDefault("tle_sync.source_url", "https://celestrak.org/NORAD/elements/gp.php?GROUP=science&FORMAT=tle")
	v.SetDefault("tle_sync.timeout", "30s")
	v.SetDefault("catalog.seed_file", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads configuration. envFile and path may be empty. A missing envFile
// is ignored; a missing path is an error.
func Load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Visibility.HiResStep <= 0 || c.Visibility.LowResStep <= 0 {
		errs = append(errs, errors.New("visibility steps must be positive"))
	}
	if c.Visibility.ToolTimeout <= 0 {
		errs = append(errs, errors.New("visibility.tool_timeout must be positive"))
	}
	if c.Visibility.MaxSamples <= 0 {
		errs = append(errs, errors.New("visibility.max_samples must be positive"))
	}
	if c.Overlap.PlannedLookback < 0 || c.Overlap.PlannedLookahead < 0 || c.Overlap.PerformedLookback < 0 {
		errs = append(errs, errors.New("overlap windows must not be negative"))
	}
	if c.Workers.Size < 0 {
		errs = append(errs, errors.New("workers.size must not be negative"))
	}
	switch strings.ToLower(c.Log.Backend) {
	case "", "slog", "zap":
	default:
		errs = append(errs, fmt.Errorf("unknown log backend %q", c.Log.Backend))
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errs = append(errs, fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter))
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_ratio %v outside [0, 1]", c.Tracing.SampleRatio))
		}
	}
	if c.TLESync.Enabled && c.TLESync.SourceURL == "" {
		errs = append(errs, errors.New("tle_sync.source_url is required when tle_sync is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Memory reports whether the service runs without a database.
func (c Config) Memory() bool { return c.DB.DSN == "" }

func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, Backend: c.Log.Backend}
}

func (c Config) Store() store.Config {
	return store.Config{
		DSN:             c.DB.DSN,
		MaxOpenConns:    c.DB.MaxOpenConns,
		MaxIdleConns:    c.DB.MaxIdleConns,
		ConnMaxLifetime: c.DB.ConnMaxLifetime,
	}
}

func (c Config) VisibilityEngine() visibility.Config {
	return visibility.Config{
		HiResStep:  c.Visibility.HiResStep,
		LowResStep: c.Visibility.LowResStep,
		Timeout:    c.Visibility.ToolTimeout,
		MaxSamples: c.Visibility.MaxSamples,
	}
}

func (c Config) OverlapWindows() observation.OverlapConfig {
	return observation.OverlapConfig{
		PlannedLookback:   c.Overlap.PlannedLookback,
		PlannedLookahead:  c.Overlap.PlannedLookahead,
		PerformedLookback: c.Overlap.PerformedLookback,
	}
}

func (c Config) TracingSetup(service string) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: service,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	defaultServerHost      = "0.0.0.0"
	defaultServerPort      = 8095
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultDatabasePort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultRedisAddress    = "localhost:6379"
	defaultEventStream     = "reader:posts"
	defaultStreamMaxLen    = 10000
	defaultSessionTTL      = 12 * time.Hour
	defaultJWTIssuer       = "north-cloud-reader"
	defaultPageStale       = 30 * time.Second
	defaultSummariesStale  = 5 * time.Minute
	defaultItemStale       = 10 * time.Minute
	defaultCacheJanitor    = time.Minute
	defaultCacheMaxIdle    = 30 * time.Minute
	defaultItemExtent      = 120
	defaultContainerExtent = 900
	defaultOverscan        = 3
	defaultChunkSize       = 3000
	defaultRevealBatch     = 1
	defaultRevealTick      = 16 * time.Millisecond
	defaultPageLimit       = 20
	defaultViewIdleTTL     = 15 * time.Minute
	defaultViewJanitor     = time.Minute
	defaultMaxViews        = 1000
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 100 * time.Millisecond
	defaultRetryMaxDelay   = 2 * time.Second
)

// Config is the full reader service configuration.
type Config struct {
	Debug    bool           `env:"APP_DEBUG" yaml:"debug"`
	Logging  logger.Config  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Cache    CacheConfig    `yaml:"cache"`
	Window   WindowConfig   `yaml:"window"`
	Chunker  ChunkerConfig  `yaml:"chunker"`
	Views    ViewsConfig    `yaml:"views"`
	Retry    RetryConfig    `yaml:"retry"`
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST"      yaml:"host"`
	Port            int           `env:"SERVER_PORT"      yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `env:"CORS_ORIGINS"     yaml:"cors_origins"`
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DatabaseConfig selects the catalog store. The memory driver needs no
// connection settings and is used for local development and tests.
type DatabaseConfig struct {
	Driver          string        `env:"DB_DRIVER"        yaml:"driver"`
	Host            string        `env:"DB_HOST"          yaml:"host"`
	Port            int           `env:"DB_PORT"          yaml:"port"`
	User            string        `env:"DB_USER"          yaml:"user"`
	Password        string        `env:"DB_PASSWORD"      yaml:"password"` //nolint:gosec // connection config
	DBName          string        `env:"DB_NAME"          yaml:"dbname"`
	SSLMode         string        `env:"DB_SSLMODE"       yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `env:"DB_MIGRATE"       yaml:"migrate_on_start"`
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the connection URL golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisConfig controls cross-instance invalidation over Redis Streams.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"        yaml:"address"`
	Password string `env:"REDIS_PASSWORD"       yaml:"password"` //nolint:gosec // connection config
	DB       int    `env:"REDIS_DB"             yaml:"db"`
	Enabled  bool   `env:"REDIS_EVENTS_ENABLED" yaml:"enabled"`
	Stream   string `env:"REDIS_EVENT_STREAM"   yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

type AuthConfig struct {
	JWTSecret  string        `env:"AUTH_JWT_SECRET"  yaml:"jwt_secret"` //nolint:gosec // signing key config
	Username   string        `env:"AUTH_USERNAME"    yaml:"username"`
	Password   string        `env:"AUTH_PASSWORD"    yaml:"password"` //nolint:gosec // admin credential config
	Issuer     string        `yaml:"issuer"`
	SessionTTL time.Duration `env:"AUTH_SESSION_TTL" yaml:"session_ttl"`
}

// Enabled reports whether admin endpoints can be used.
func (c *AuthConfig) Enabled() bool {
	return c.JWTSecret != "" && c.Username != "" && c.Password != ""
}

// CacheConfig holds the per-kind staleness windows and the janitor cadence.
type CacheConfig struct {
	PageStaleTime      time.Duration `env:"CACHE_PAGE_STALE"      yaml:"page_stale_time"`
	SummariesStaleTime time.Duration `env:"CACHE_SUMMARIES_STALE" yaml:"summaries_stale_time"`
	ItemStaleTime      time.Duration `env:"CACHE_ITEM_STALE"      yaml:"item_stale_time"`
	JanitorInterval    time.Duration `yaml:"janitor_interval"`
	MaxIdle            time.Duration `yaml:"max_idle"`
}

// WindowConfig holds the default list geometry for new views.
type WindowConfig struct {
	ItemExtent      float64 `yaml:"item_extent"`
	ContainerExtent float64 `yaml:"container_extent"`
	Overscan        int     `yaml:"overscan"`
}

type ChunkerConfig struct {
	ChunkSize    int           `env:"CHUNK_SIZE" yaml:"chunk_size"`
	BatchSize    int           `yaml:"batch_size"`
	TickInterval time.Duration `yaml:"tick_interval"`
	ShowProgress bool          `yaml:"show_progress"`
}

type ViewsConfig struct {
	IdleTTL         time.Duration `env:"VIEW_IDLE_TTL" yaml:"idle_ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	MaxViews        int           `yaml:"max_views"`
	PageLimit       int           `yaml:"page_limit"`
}

// RetryConfig bounds retries of transient catalog store failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := validLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if err := required("server.host", c.Server.Host); err != nil {
		return err
	}
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if c.Redis.Enabled {
		if err := required("redis.address", c.Redis.Address); err != nil {
			return err
		}
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return &ValidationError{Field: "auth.jwt_secret", Message: "must be at least 32 bytes"}
	}
	if err := positive("chunker.chunk_size", c.Chunker.ChunkSize); err != nil {
		return err
	}
	if err := positive("window.item_extent", c.Window.ItemExtent); err != nil {
		return err
	}
	if err := positive("window.container_extent", c.Window.ContainerExtent); err != nil {
		return err
	}
	if c.Window.Overscan < 0 {
		return &ValidationError{Field: "window.overscan", Message: "must not be negative"}
	}
	if err := positive("views.idle_ttl", c.Views.IdleTTL); err != nil {
		return err
	}
	return positive("retry.max_attempts", c.Retry.MaxAttempts)
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
	default:
		return &ValidationError{Field: "database.driver", Message: "must be one of: postgres, memory"}
	}
	if err := required("database.host", c.Database.Host); err != nil {
		return err
	}
	if err := validPort("database.port", c.Database.Port); err != nil {
		return err
	}
	if err := required("database.user", c.Database.User); err != nil {
		return err
	}
	return required("database.dbname", c.Database.DBName)
}

// Load reads, defaults, and validates the configuration at path. A missing
// file falls back to defaults and the environment.
func Load(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path, true, SetDefaults)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills every unset field.
func SetDefaults(cfg *Config) {
	cfg.Logging.SetDefaults()
	if cfg.Debug {
		cfg.Logging.Development = true
	}

	setServerDefaults(&cfg.Server)
	setDatabaseDefaults(&cfg.Database)

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = defaultRedisAddress
	}
	if cfg.Redis.Stream == "" {
		cfg.Redis.Stream = defaultEventStream
	}
	if cfg.Redis.MaxLen == 0 {
		cfg.Redis.MaxLen = defaultStreamMaxLen
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = defaultJWTIssuer
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = defaultSessionTTL
	}

	setCacheDefaults(&cfg.Cache)
	setViewDefaults(cfg)

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = defaultRetryAttempts
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = defaultRetryDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = defaultRetryMaxDelay
	}
}

func setServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = defaultServerHost
	}
	if s.Port == 0 {
		s.Port = defaultServerPort
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = defaultServerTimeout
	}
	// WriteTimeout stays 0 so chunk streams can hold the response open.
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 2 * defaultServerTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"http://localhost:3000"}
	}
}

func setDatabaseDefaults(d *DatabaseConfig) {
	if d.Driver == "" {
		d.Driver = DriverMemory
	}
	if d.Port == 0 {
		d.Port = defaultDatabasePort
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.MaxOpenConns == 0 {
		d.MaxOpenConns = defaultMaxOpenConns
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = defaultMaxIdleConns
	}
	if d.ConnMaxLifetime == 0 {
		d.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

func setCacheDefaults(c *CacheConfig) {
	if c.PageStaleTime == 0 {
		c.PageStaleTime = defaultPageStale
	}
	if c.SummariesStaleTime == 0 {
		c.SummariesStaleTime = defaultSummariesStale
	}
	if c.ItemStaleTime == 0 {
		c.ItemStaleTime = defaultItemStale
	}
	if c.JanitorInterval == 0 {
		c.JanitorInterval = defaultCacheJanitor
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = defaultCacheMaxIdle
	}
}

func setViewDefaults(cfg *Config) {
	if cfg.Window.ItemExtent == 0 {
		cfg.Window.ItemExtent = defaultItemExtent
	}
	if cfg.Window.ContainerExtent == 0 {
		cfg.Window.ContainerExtent = defaultContainerExtent
	}
	if cfg.Window.Overscan == 0 {
		cfg.Window.Overscan = defaultOverscan
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = defaultChunkSize
	}
	if cfg.Chunker.BatchSize == 0 {
		cfg.Chunker.BatchSize = defaultRevealBatch
	}
	if cfg.Chunker.TickInterval == 0 {
		cfg.Chunker.TickInterval = defaultRevealTick
	}
	if cfg.Views.IdleTTL == 0 {
		cfg.Views.IdleTTL = defaultViewIdleTTL
	}
	if cfg.Views.JanitorInterval == 0 {
		cfg.Views.JanitorInterval = defaultViewJanitor
	}
	if cfg.Views.MaxViews == 0 {
		cfg.Views.MaxViews = defaultMaxViews
	}
	if cfg.Views.PageLimit == 0 {
		cfg.Views.PageLimit = defaultPageLimit
	}
}

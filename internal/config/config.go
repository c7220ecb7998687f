package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/puzzle-records/internal/domain"
	"gopkg.in/yaml.v3"
)

// Ledger drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Redis      RedisConfig      `yaml:"redis"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Session    SessionConfig    `yaml:"session"`
	Cache      CacheConfig      `yaml:"cache"`
	Submission SubmissionConfig `yaml:"submission"`
	Games      []GameConfig     `yaml:"games"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Sync       SyncConfig       `yaml:"sync"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" env:"RECORD_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// APIKey, when set, is required in the X-API-Key header of mutating routes.
	APIKey string `yaml:"api_key" env:"RECORD_API_KEY"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level" env:"RECORD_LOG_LEVEL"`
}

// SlogLevel maps the configured level name onto a slog level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"REDIS_ADDR"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `yaml:"db" env:"REDIS_DB"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LedgerConfig selects and tunes the authoritative record store
type LedgerConfig struct {
	Driver string `yaml:"driver" env:"RECORD_LEDGER_DRIVER"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            int           `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Database        string        `yaml:"database" env:"DB_NAME"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// SQLiteConfig holds the embedded ledger configuration
type SQLiteConfig struct {
	Path string `yaml:"path" env:"RECORD_SQLITE_PATH"`
}

// SessionConfig holds play-session configuration
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// CacheConfig holds ranked cache configuration
type CacheConfig struct {
	// BoardSize is how many ledger rows are loaded when a board is rebuilt.
	BoardSize int `yaml:"board_size"`
}

// SubmissionConfig holds submission policy
type SubmissionConfig struct {
	MaxListLength int           `yaml:"max_list_length"`
	MinActionSpan time.Duration `yaml:"min_action_span"`
	SpanBuffer    time.Duration `yaml:"span_buffer"`
	DefaultLimit  int           `yaml:"default_limit"`
	MaxLimit      int           `yaml:"max_limit"`
	HistoryLimit  int           `yaml:"history_limit"`
}

// GameConfig declares a recognized game and its levels
type GameConfig struct {
	Name   string   `yaml:"name"`
	Levels []string `yaml:"levels"`
	Order  string   `yaml:"order"`
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled" env:"KAFKA_ENABLED"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds cache reconciliation worker configuration
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Enabled     bool          `yaml:"enabled"`
	WarmOnStart bool          `yaml:"warm_on_start"`
}

// RateLimitConfig holds per-origin rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	IdleTTL           time.Duration `yaml:"idle_ttl"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"RECORD_OTEL_ENABLED"`
	Endpoint    string `yaml:"endpoint" env:"RECORD_OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides. A .env file in the working directory is loaded first when
// present.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration from defaults and environment variables only.
func FromEnv() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading .env: %w", err)
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	for _, g := range c.Games {
		if g.Name == "" || len(g.Levels) == 0 {
			return fmt.Errorf("game entries need a name and at least one level")
		}
		switch domain.RankOrder(g.Order) {
		case "", domain.OrderClearTime, domain.OrderScoreDesc:
		default:
			return fmt.Errorf("game %q: unknown ranking order %q", g.Name, g.Order)
		}
	}
	if c.Submission.DefaultLimit > c.Submission.MaxLimit {
		return fmt.Errorf("default_limit %d exceeds max_limit %d", c.Submission.DefaultLimit, c.Submission.MaxLimit)
	}
	return nil
}

// Catalog builds the game whitelist
func (c *Config) Catalog() *domain.Catalog {
	if len(c.Games) == 0 {
		return domain.NewCatalog(domain.DefaultGames())
	}
	games := make([]domain.Game, 0, len(c.Games))
	for _, g := range c.Games {
		games = append(games, domain.Game{
			Name:   g.Name,
			Levels: g.Levels,
			Order:  domain.RankOrder(g.Order),
		})
	}
	return domain.NewCatalog(games)
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// Ledger defaults
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = DriverPostgres
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.User == "" {
		c.Postgres.User = "postgres"
	}
	if c.Postgres.Database == "" {
		c.Postgres.Database = "puzzle"
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}
	if c.Postgres.QueryTimeout == 0 {
		c.Postgres.QueryTimeout = 5 * time.Second
	}

	// SQLite defaults
	if c.SQLite.Path == "" {
		c.SQLite.Path = "records.db"
	}

	// Session defaults
	if c.Session.TTL == 0 {
		c.Session.TTL = 1 * time.Hour
	}

	// Cache defaults
	if c.Cache.BoardSize == 0 {
		c.Cache.BoardSize = 1000
	}

	// Submission defaults
	if c.Submission.MaxListLength == 0 {
		c.Submission.MaxListLength = 1000
	}
	if c.Submission.MinActionSpan == 0 {
		c.Submission.MinActionSpan = 1 * time.Second
	}
	if c.Submission.SpanBuffer == 0 {
		c.Submission.SpanBuffer = 5 * time.Second
	}
	if c.Submission.DefaultLimit == 0 {
		c.Submission.DefaultLimit = 10
	}
	if c.Submission.MaxLimit == 0 {
		c.Submission.MaxLimit = 100
	}
	if c.Submission.HistoryLimit == 0 {
		c.Submission.HistoryLimit = 100
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "puzzle-records"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "record-consumer"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Minute
	}

	// Rate limit defaults
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 30
	}
	if c.RateLimit.IdleTTL == 0 {
		c.RateLimit.IdleTTL = 3 * time.Minute
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "puzzle-records"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	cfg.Sync.WarmOnStart = true
	cfg.RateLimit.Enabled = true
	return cfg
}

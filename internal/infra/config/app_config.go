// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIServerConfig configures the HTTP API.
type APIServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AllowedOrigins lists browser origins allowed by CORS; empty disables CORS.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

func (c *APIServerConfig) applyDefaults() {
	c.Addr = strings.TrimSpace(c.Addr)
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// A confirmation may wait on three PSP attempts of up to 30s each.
		c.WriteTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	Driver            DatabaseDriver `yaml:"driver"`
	DSN               string         `yaml:"dsn"`
	MaxConns          int32          `yaml:"maxConns"`
	MinConns          int32          `yaml:"minConns"`
	MaxConnLifetime   time.Duration  `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration  `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration  `yaml:"healthCheckPeriod"`
	RunMigrations     bool           `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.Driver = DatabaseDriver(strings.ToLower(strings.TrimSpace(string(c.Driver))))
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/paygate"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	switch c.Driver {
	case DriverPostgres:
	case DriverMemory:
		return nil
	default:
		return fmt.Errorf("driver must be postgres or memory")
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// RedisConfig configures the Redis Streams broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	MaxLen   int64  `yaml:"maxLen"`
}

// RetryConfig mirrors the PSP retry policy. MaxRetries of zero selects the
// default; a negative value disables retries.
type RetryConfig struct {
	InitialInterval     time.Duration `yaml:"initialInterval"`
	Multiplier          float64       `yaml:"multiplier"`
	RandomizationFactor float64       `yaml:"randomizationFactor"`
	MaxRetries          int           `yaml:"maxRetries"`
}

// TossConfig configures the Toss Payments executor.
type TossConfig struct {
	BaseURL   string            `yaml:"baseURL"`
	SecretKey string            `yaml:"secretKey"`
	Timeout   time.Duration     `yaml:"timeout"`
	Headers   map[string]string `yaml:"headers"`
	Retry     RetryConfig       `yaml:"retry"`
}

func (c *TossConfig) applyDefaults() {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.BaseURL == "" {
		c.BaseURL = "https://api.tosspayments.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = time.Second
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.RandomizationFactor <= 0 {
		c.Retry.RandomizationFactor = 0.1
	}
	switch {
	case c.Retry.MaxRetries == 0:
		c.Retry.MaxRetries = 2
	case c.Retry.MaxRetries < 0:
		c.Retry.MaxRetries = 0
	}
}

// RelayConfig configures outbox dispatch and the redelivery sweep.
type RelayConfig struct {
	Broker         BrokerKind    `yaml:"broker"`
	Stream         string        `yaml:"stream"`
	Partitions     int           `yaml:"partitions"`
	BufferSize     int           `yaml:"bufferSize"`
	PublishTimeout time.Duration `yaml:"publishTimeout"`
	MinAge         time.Duration `yaml:"minAge"`
	Interval       time.Duration `yaml:"interval"`
	InitialDelay   time.Duration `yaml:"initialDelay"`
}

func (c *RelayConfig) applyDefaults() {
	c.Broker = BrokerKind(strings.ToLower(strings.TrimSpace(string(c.Broker))))
	if c.Broker == "" {
		c.Broker = BrokerRedis
	}
	c.Stream = strings.TrimSpace(c.Stream)
	if c.Stream == "" {
		c.Stream = "paygate:payment-confirmation"
	}
	if c.Partitions <= 0 {
		c.Partitions = 6
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.MinAge <= 0 {
		c.MinAge = time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Second
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Second
	}
}

// RecoveryConfig configures the recovery job.
type RecoveryConfig struct {
	Interval     time.Duration `yaml:"interval"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	BatchSize    int           `yaml:"batchSize"`
	StaleAfter   time.Duration `yaml:"staleAfter"`
	Parallelism  int           `yaml:"parallelism"`
}

func (c *RecoveryConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 180 * time.Second
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * time.Minute
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 2
	}
}

// TelemetryConfig configures OTLP exporters. Spans are exported only when
// TraceEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	TraceEndpoint string `yaml:"traceEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// RateLimitConfig configures the per-client HTTP token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Toss        TossConfig      `yaml:"toss"`
	Relay       RelayConfig     `yaml:"relay"`
	Recovery    RecoveryConfig  `yaml:"recovery"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
}

// Default returns a configuration with every default applied.
func Default() AppConfig {
	cfg := AppConfig{Environment: EnvDev}
	cfg.normalise()
	return cfg
}

// Load reads .env (when present), the YAML file at configPath and the
// environment overrides, then validates the result.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	if err := loadDotEnv(); err != nil {
		return AppConfig{}, err
	}
	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist. The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, false, err
	}
	cfg, err = finish(AppConfig{})
	if err != nil {
		return AppConfig{}, false, err
	}
	return cfg, false, nil
}

func finish(cfg AppConfig) (AppConfig, error) {
	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

func (c *AppConfig) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvEnvironment)); v != "" {
		c.Environment = Environment(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTossSecretKey)); v != "" {
		c.Toss.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		c.Redis.Addr = v
	}
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.TraceEndpoint = strings.TrimSpace(c.Telemetry.TraceEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "paygate"
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	c.Toss.SecretKey = strings.TrimSpace(c.Toss.SecretKey)

	c.APIServer.applyDefaults()
	c.Database.applyDefaults()
	c.Toss.applyDefaults()
	c.Relay.applyDefaults()
	c.Recovery.applyDefaults()
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RPS) + 1
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if strings.TrimSpace(c.APIServer.Addr) == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Environment == EnvProd && c.Toss.SecretKey == "" {
		return fmt.Errorf("toss secretKey required in prod (set %s)", EnvTossSecretKey)
	}
	switch c.Relay.Broker {
	case BrokerRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr required for the redis broker")
		}
	case BrokerMemory:
	default:
		return fmt.Errorf("relay broker must be redis or memory")
	}
	if c.Relay.Partitions <= 0 {
		return fmt.Errorf("relay partitions must be >0")
	}
	if c.Recovery.Parallelism <= 0 {
		return fmt.Errorf("recovery parallelism must be >0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rateLimit rps must be >=0")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

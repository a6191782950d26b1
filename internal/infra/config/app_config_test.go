package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, loaded, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded {
		t.Fatalf("expected defaults, got loaded=true")
	}
	if cfg.Relay.Partitions != 6 || cfg.Recovery.BatchSize != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: STAGING
apiServer:
  addr: ":9999"
database:
  driver: memory
toss:
  secretKey: test_sk
  timeout: 5s
  headers:
    TossPayments-Test-Code: PROVIDER_ERROR
  retry:
    initialInterval: 10ms
    maxRetries: 1
relay:
  broker: memory
  partitions: 3
  minAge: 30s
recovery:
  interval: 1m
  parallelism: 4
rateLimit:
  rps: 5
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.APIServer.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.APIServer.Addr)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Toss.Timeout != 5*time.Second || cfg.Toss.Retry.InitialInterval != 10*time.Millisecond || cfg.Toss.Retry.MaxRetries != 1 {
		t.Fatalf("toss = %+v", cfg.Toss)
	}
	if cfg.Toss.Headers["TossPayments-Test-Code"] != "PROVIDER_ERROR" {
		t.Fatalf("headers = %v", cfg.Toss.Headers)
	}
	if cfg.Toss.Retry.Multiplier != 2 || cfg.Toss.Retry.RandomizationFactor != 0.1 {
		t.Fatalf("retry defaults not applied: %+v", cfg.Toss.Retry)
	}
	if cfg.Relay.Broker != BrokerMemory || cfg.Relay.Partitions != 3 || cfg.Relay.MinAge != 30*time.Second {
		t.Fatalf("relay = %+v", cfg.Relay)
	}
	if cfg.Relay.Interval != 100*time.Second || cfg.Relay.BufferSize != 1024 {
		t.Fatalf("relay defaults not applied: %+v", cfg.Relay)
	}
	if cfg.Recovery.Interval != time.Minute || cfg.Recovery.Parallelism != 4 || cfg.Recovery.StaleAfter != 3*time.Minute {
		t.Fatalf("recovery = %+v", cfg.Recovery)
	}
	if cfg.RateLimit.Burst != 6 {
		t.Fatalf("rate limit burst = %d", cfg.RateLimit.Burst)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "postgresql://db:5432/override")
	t.Setenv(EnvTossSecretKey, "live_sk")
	t.Setenv(EnvRedisAddr, "redis:6380")
	path := writeConfig(t, `
environment: prod
database:
  dsn: postgresql://localhost/ignored
redis:
  addr: localhost:6379
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgresql://db:5432/override" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Toss.SecretKey != "live_sk" {
		t.Fatalf("secret key not overridden")
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"environment":    "environment: qa\n",
		"driver":         "database:\n  driver: sqlite\n",
		"broker":         "relay:\n  broker: kafka\n",
		"prod secret":    "environment: prod\n",
		"negative rps":   "rateLimit:\n  rps: -1\n",
		"unknown fields": "database: [1, 2]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(EnvTossSecretKey, "")
			if _, err := Load(context.Background(), writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !strings.HasPrefix(cfg.Database.DSN, "postgresql://") {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Toss.Timeout != 30*time.Second || cfg.Toss.Retry.MaxRetries != 2 {
		t.Fatalf("toss defaults = %+v", cfg.Toss)
	}
}

func TestLoadTrimsAllowedOrigins(t *testing.T) {
	path := writeConfig(t, `
apiServer:
  allowedOrigins: [" https://shop.example ", "", "*"]
database:
  driver: memory
telemetry:
  traceEndpoint: " http://otel:4318 "
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://shop.example", "*"}
	if len(cfg.APIServer.AllowedOrigins) != len(want) {
		t.Fatalf("unexpected origins: %q", cfg.APIServer.AllowedOrigins)
	}
	for i := range want {
		if cfg.APIServer.AllowedOrigins[i] != want[i] {
			t.Fatalf("origin %d = %q, want %q", i, cfg.APIServer.AllowedOrigins[i], want[i])
		}
	}
	if cfg.Telemetry.TraceEndpoint != "http://otel:4318" {
		t.Fatalf("trace endpoint not trimmed: %q", cfg.Telemetry.TraceEndpoint)
	}
}

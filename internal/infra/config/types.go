package config

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// DatabaseDriver selects the payment and outbox store implementation.
type DatabaseDriver string

const (
	DriverPostgres DatabaseDriver = "postgres"
	DriverMemory   DatabaseDriver = "memory"
)

// BrokerKind selects the stream broker adapter.
type BrokerKind string

const (
	BrokerRedis  BrokerKind = "redis"
	BrokerMemory BrokerKind = "memory"
)

// Environment variables that override values from the YAML file.
const (
	EnvDatabaseDSN   = "PAYGATE_DATABASE_DSN"
	EnvTossSecretKey = "PAYGATE_TOSS_SECRET_KEY"
	EnvRedisAddr     = "PAYGATE_REDIS_ADDR"
	EnvEnvironment   = "PAYGATE_ENV"
)

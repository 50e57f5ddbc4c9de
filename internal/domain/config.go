package domain

import "time"

// Tier selects the preset backends Kestrel starts with. It is a
// deployment shape, not a feature switch: every check and endpoint is
// available in both tiers.
type Tier string

const (
	// TierCommunity runs single-node on SQLite with in-process channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis, and NATS for multi-node setups.
	TierPro Tier = "pro"
)

// Config is the root configuration. Presets come from DefaultConfig or
// ProConfig; individual fields are then overridden from the environment.
type Config struct {
	Tier   Tier         `json:"tier"`
	Server ServerConfig `json:"server"`

	// Backends
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Investigation pipeline
	Engine EngineConfig `json:"engine"`
	Triage TriageConfig `json:"triage"`
	Checks ChecksConfig `json:"checks"`

	// Screening rule set loaded at startup
	Screening ScreeningConfig `json:"screening"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScreeningConfig holds the operator rule set evaluated by the screening
// check.
type ScreeningConfig struct {
	Enabled bool            `json:"enabled"`
	Rules   []ScreeningRule `json:"rules"`
}

// ServerConfig holds HTTP listener settings. Timeouts are in seconds so
// they read naturally from environment variables.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`
	WriteTimeout int    `json:"writeTimeout"`

	// IntakeLimitPerMin caps POST /alerts per tenant per minute.
	// Zero disables the cap.
	IntakeLimitPerMin int `json:"intakeLimitPerMin"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`

	// Endpoint is the OTLP gRPC collector address. Tracing stays no-op
	// while it is empty, even in the Pro tier.
	Endpoint string `json:"endpoint"`
}

// DefaultConfig is the Community preset: everything in one process, no
// external services to stand up.
func DefaultConfig() *Config {
	return &Config{
		Tier: TierCommunity,
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			MaxConcurrency: 8,
		},
		Triage: TriageConfig{
			AlertThreshold:      0.5,
			EscalationThreshold: 0.7,
		},
		Checks: DefaultChecksConfig(),
		Screening: ScreeningConfig{
			Enabled: true,
			Rules:   DefaultScreeningRules(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig is the Community preset with shared backends swapped in:
// PostgreSQL for storage, Redis in front of the local cache, NATS
// between nodes. Addresses point at localhost until the environment
// overrides them.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

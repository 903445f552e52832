package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "POINTS"

type Config struct {
	Env string `envconfig:"ENV" default:"production"`

	StoreProvider   string `envconfig:"STORE_PROVIDER" default:"mongo"`
	BusProvider     string `envconfig:"BUS_PROVIDER" default:"none"`
	WorkerProvider  string `envconfig:"WORKER_PROVIDER"`
	JournalProvider string `envconfig:"JOURNAL_PROVIDER" default:"none"`

	MongoURI        string `envconfig:"MONGO_URI"`
	MongoDatabase   string `envconfig:"MONGO_DATABASE" default:"eikaiwa"`
	MongoCollection string `envconfig:"MONGO_COLLECTION" default:"users"`

	DBUser  string `envconfig:"POSTGRES_USER"`
	DBPass  string `envconfig:"POSTGRES_PASSWORD"`
	DBHost  string `envconfig:"POSTGRES_HOST"`
	DBPort  string `envconfig:"POSTGRES_PORT" default:"5432"`
	DBName  string `envconfig:"POSTGRES_DB"`
	SSLMode string `envconfig:"POSTGRES_SSLMODE" default:"disable"`

	DBMaxConns int32 `envconfig:"POSTGRES_MAX_CONNS" default:"10"`

	RedisHost     string `envconfig:"REDIS_HOST"`
	RedisPort     string `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	NatsHost string `envconfig:"NATS_HOST"`
	NatsPort string `envconfig:"NATS_PORT" default:"4222"`

	// GRPCHost/GRPCPort address the remote EventService used by the grpc bus.
	GRPCHost       string `envconfig:"GRPC_HOST"`
	GRPCPort       string `envconfig:"GRPC_PORT"`
	GRPCListenPort string `envconfig:"GRPC_LISTEN_PORT" default:"50051"`

	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/journal.db"`

	ApiEnabled         bool     `envconfig:"API_ENABLED" default:"true"`
	ApiPort            string   `envconfig:"API_PORT" default:"8080"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`

	JWTSecret           string `envconfig:"JWT_SECRET"`
	AdminToken          string `envconfig:"ADMIN_TOKEN"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`

	DeepSeekAPIKey  string        `envconfig:"DEEPSEEK_API_KEY"`
	DeepSeekBaseURL string        `envconfig:"DEEPSEEK_BASE_URL" default:"https://api.deepseek.com/v1"`
	DeepSeekModel   string        `envconfig:"DEEPSEEK_MODEL" default:"deepseek-chat"`
	DeepSeekTimeout time.Duration `envconfig:"DEEPSEEK_TIMEOUT" default:"60s"`

	FeatureCostsFile string `envconfig:"FEATURE_COSTS_FILE"`

	CycleLength     time.Duration `envconfig:"CYCLE_LENGTH" default:"720h"`
	ReplenishAmount int64         `envconfig:"REPLENISH_AMOUNT" default:"5000"`
	MaxBalance      int64         `envconfig:"MAX_BALANCE" default:"20000"`
	InitialGrant    int64         `envconfig:"INITIAL_GRANT" default:"5000"`
	CreditAmount    int64         `envconfig:"CREDIT_AMOUNT" default:"5000"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

// New loads .env (if present) and the POINTS_* environment, then validates
// that every selected provider has the settings it needs.
func New() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the environment without provider validation. Tools that touch a
// single backend (cmd/migrate) check what they need themselves.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreProvider {
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("missing required env for mongo store: POINTS_MONGO_URI")
		}
	case "postgres":
		if err := c.RequirePostgres("postgres store"); err != nil {
			return err
		}
	case "redis":
		if c.RedisHost == "" {
			return fmt.Errorf("missing required env for redis store: POINTS_REDIS_HOST")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store provider %q, must be 'mongo', 'postgres', 'redis' or 'memory'", c.StoreProvider)
	}

	switch c.BusProvider {
	case "nats":
		if c.NatsHost == "" {
			return fmt.Errorf("missing required env for nats bus: POINTS_NATS_HOST")
		}
	case "grpc":
		if c.GRPCHost == "" || c.GRPCPort == "" {
			return fmt.Errorf("missing required env for grpc bus: POINTS_GRPC_HOST/PORT")
		}
	case "none":
	default:
		return fmt.Errorf("invalid bus provider %q, must be 'nats', 'grpc' or 'none'", c.BusProvider)
	}

	// Worker provider defaults to the bus provider.
	if c.WorkerProvider == "" {
		c.WorkerProvider = c.BusProvider
	}
	if c.WorkerProvider != "nats" && c.WorkerProvider != "grpc" && c.WorkerProvider != "none" {
		return fmt.Errorf("invalid worker provider %q, must be 'nats', 'grpc' or 'none'", c.WorkerProvider)
	}
	if c.WorkerProvider == "nats" && c.NatsHost == "" {
		return fmt.Errorf("missing required env for nats worker: POINTS_NATS_HOST")
	}

	switch c.JournalProvider {
	case "postgres":
		if err := c.RequirePostgres("postgres journal"); err != nil {
			return err
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("missing required env for sqlite journal: POINTS_SQLITE_PATH")
		}
	case "none":
	default:
		return fmt.Errorf("invalid journal provider %q, must be 'postgres', 'sqlite' or 'none'", c.JournalProvider)
	}

	if c.ReplenishAmount < 0 || c.InitialGrant < 0 || c.CreditAmount < 0 {
		return fmt.Errorf("point amounts must not be negative")
	}
	if c.MaxBalance <= 0 || c.InitialGrant > c.MaxBalance {
		return fmt.Errorf("POINTS_MAX_BALANCE must be positive and not below POINTS_INITIAL_GRANT")
	}
	if c.CycleLength <= 0 {
		return fmt.Errorf("POINTS_CYCLE_LENGTH must be positive")
	}
	return nil
}

// RequirePostgres reports missing connection settings for what.
func (c *Config) RequirePostgres(what string) error {
	if c.DBUser == "" || c.DBHost == "" || c.DBName == "" {
		return fmt.Errorf("missing required env for %s: POINTS_POSTGRES_USER/HOST/DB", what)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPCHost, c.GRPCPort)
}

func (c *Config) GRPCListenAddr() string {
	return ":" + c.GRPCListenPort
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error when POINTS_API_ENABLED is false; callers skip the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if !c.ApiEnabled {
		return "", fmt.Errorf("HTTP API is disabled (POINTS_API_ENABLED=false)")
	}
	if c.ApiPort == "" {
		return "", fmt.Errorf("POINTS_API_PORT is required when POINTS_API_ENABLED=true")
	}
	return ":" + c.ApiPort, nil
}

// NeedsRedis reports whether any component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.StoreProvider == "redis" || c.RedisHost != ""
}

// NeedsPostgres reports whether any component talks to Postgres.
func (c *Config) NeedsPostgres() bool {
	return c.StoreProvider == "postgres" || c.JournalProvider == "postgres"
}

package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Client is the configuration of the storefront client (CLI and embedding
// applications). Every field can be set through a STOREFRONT_ prefixed
// environment variable or a .env file in the working directory.
type Client struct {
	APIURL         string        `envconfig:"API_URL" default:"http://localhost:8080"`
	CatalogURL     string        `envconfig:"CATALOG_URL"` // defaults to APIURL
	Token          string        `envconfig:"TOKEN"`
	DataDir        string        `envconfig:"DATA_DIR" default:".storefront"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	MaxRetries     int           `envconfig:"QUEUE_MAX_RETRIES" default:"3"`
	ReplayRate     float64       `envconfig:"QUEUE_REPLAY_RATE" default:"10"`
	SavedRetention time.Duration `envconfig:"SAVED_RETENTION" default:"720h"`
	ProbeInterval  time.Duration `envconfig:"PROBE_INTERVAL" default:"5s"`
	WatchStorage   bool          `envconfig:"WATCH_STORAGE" default:"true"`
	KafkaBrokers   []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic     string        `envconfig:"KAFKA_TOPIC" default:"storefront-sync-failures"`
	Log            Log           `envconfig:"LOG"`
	Trace          Trace         `envconfig:"TRACE"`
}

// DevAPI configures the reference backend in cmd/storefront-devapi.
type DevAPI struct {
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	MongoURI        string        `envconfig:"MONGO_URI"` // in-memory repository when empty
	MongoDBName     string        `envconfig:"MONGO_DB_NAME" default:"storefront"`
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	JWTSecret       string        `envconfig:"JWT_SECRET" default:"dev-secret"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	Log             Log           `envconfig:"LOG"`
	Trace           Trace         `envconfig:"TRACE"`
}

type Log struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"text"`
}

type Trace struct {
	Exporter    string `envconfig:"EXPORTER" default:"none"` // none or stdout
	ServiceName string `envconfig:"SERVICE_NAME"`
}

// LoadClient reads the client configuration. A missing .env file is not an error.
func LoadClient() (*Client, error) {
	_ = godotenv.Load()

	var cfg Client
	if err := envconfig.Process("storefront", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if cfg.CatalogURL == "" {
		cfg.CatalogURL = cfg.APIURL
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("STOREFRONT_QUEUE_MAX_RETRIES must be positive, got %d", cfg.MaxRetries)
	}
	return &cfg, nil
}

func LoadDevAPI() (*DevAPI, error) {
	_ = godotenv.Load()

	var cfg DevAPI
	if err := envconfig.Process("devapi", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	return &cfg, nil
}

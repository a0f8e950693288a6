package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration for both the call service and the relay.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	Hashing       HashingConfig
	RateLimit     RateLimitConfig
	Call          CallConfig
	Webhook       WebhookConfig
	Relay         RelayConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type PostgresConfig struct {
	DSN string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers   []string
	CallTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	URL             string
	Username        string
	Password        string
	TranscriptIndex string
}

type KMSConfig struct {
	Enabled bool
	Region  string
}

type BucketingConfig struct {
	RateLimitBuckets int
}

type HashingConfig struct {
	PIIKey string
}

// RateLimitConfig controls the per-source call cooldown.
type RateLimitConfig struct {
	Store            string
	Window           time.Duration
	RetentionWindows int
	SweepInterval    time.Duration
}

// Retention is how long a record may sit untouched before the sweeper removes it.
func (c RateLimitConfig) Retention() time.Duration {
	return c.Window * time.Duration(c.RetentionWindows)
}

type CallConfig struct {
	Backend             string
	LocalBackendURL     string
	ProductionAPIURL    string
	ProductionAPIKey    string
	CountryCode         string
	AllowedOrigins      []string
	DefaultCustomerName string
	BackendTimeout      time.Duration

	ProviderOutboundURL string
	ProviderAPIKey      string
	ProviderAgentID     string
	ProviderPhoneNumber string
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

type RelayConfig struct {
	Port           int
	AgentID        string
	APIKey         string
	ProviderWSURL  string
	ConnectTimeout time.Duration
	AudioEncoding  string
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env.local and .env (when present) and then the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 3000),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:        getEnv("SERVER_CERT_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("DATABASE_URL", ""),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "demo_calls"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:   getEnvList("KAFKA_BROKERS"),
			CallTopic: getEnv("KAFKA_CALL_TOPIC", "call-requests"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", ""),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "default"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:             getEnv("ELASTICSEARCH_URL", ""),
			Username:        getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:        getEnv("ELASTICSEARCH_PASSWORD", ""),
			TranscriptIndex: getEnv("ELASTICSEARCH_TRANSCRIPT_INDEX", "call-transcripts"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			Region:  getEnv("AWS_REGION", ""),
		},
		Bucketing: BucketingConfig{
			RateLimitBuckets: getEnvInt("RATE_LIMIT_BUCKETS", 64),
		},
		Hashing: HashingConfig{
			PIIKey: getEnv("PII_HASH_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			Store:            getEnv("RATE_LIMIT_STORE", "memory"),
			Window:           getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
			RetentionWindows: getEnvInt("RATE_LIMIT_RETENTION_WINDOWS", 24),
			SweepInterval:    getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Hour),
		},
		Call: CallConfig{
			Backend:             strings.ToLower(getEnv("CALL_BACKEND", "")),
			LocalBackendURL:     getEnv("LOCAL_BACKEND_URL", "http://localhost:5001/api/start_call"),
			ProductionAPIURL:    getEnv("PRODUCTION_API_URL", ""),
			ProductionAPIKey:    getEnv("PRODUCTION_API_KEY", ""),
			CountryCode:         getEnv("COUNTRY_CODE", "351"),
			AllowedOrigins:      getEnvList("ALLOWED_ORIGINS"),
			DefaultCustomerName: getEnv("DEFAULT_CUSTOMER_NAME", "Website User"),
			BackendTimeout:      getEnvDuration("CALL_BACKEND_TIMEOUT", 0),

			ProviderOutboundURL: getEnv("PROVIDER_OUTBOUND_URL", "https://api.us.elevenlabs.io/v1/convai/twilio/outbound_call"),
			ProviderAPIKey:      getEnv("ELEVENLABS_API_KEY", ""),
			ProviderAgentID:     getEnv("ELEVEN_AGENT_ID", ""),
			ProviderPhoneNumber: getEnv("PROVIDER_AGENT_PHONE_NUMBER_ID", ""),
		},
		Webhook: WebhookConfig{
			URL:     getEnv("WEBHOOK_URL", getEnv("MAKE_WEBHOOK_URL", "")),
			Timeout: getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Relay: RelayConfig{
			Port:           getEnvInt("RELAY_PORT", getEnvInt("WEBSOCKET_PORT", 8080)),
			AgentID:        getEnv("ELEVEN_AGENT_ID", ""),
			APIKey:         getEnv("ELEVENLABS_API_KEY", ""),
			ProviderWSURL:  getEnv("ELEVENLABS_WS_URL", "wss://api.elevenlabs.io/v1/agent/tts-stream"),
			ConnectTimeout: getEnvDuration("RELAY_CONNECT_TIMEOUT", 10*time.Second),
			AudioEncoding:  getEnv("RELAY_AUDIO_ENCODING", "mulaw"),
		},
	}

	if len(cfg.Call.AllowedOrigins) == 0 {
		cfg.Call.AllowedOrigins = []string{"http://localhost:3000"}
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the most recently loaded configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "local"
}

// ValidateRateLimitStore rejects an unknown store, and the per-process memory
// store in production where instances must share cooldown state.
func (c *Config) ValidateRateLimitStore() error {
	switch c.RateLimit.Store {
	case "redis", "postgres", "scylla":
		return nil
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("RATE_LIMIT_STORE=memory is not shared across instances; set redis, postgres or scylla in production")
		}
		return nil
	default:
		return fmt.Errorf("unknown RATE_LIMIT_STORE %q", c.RateLimit.Store)
	}
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) GetRelayAddress() string {
	return fmt.Sprintf(":%d", c.Relay.Port)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

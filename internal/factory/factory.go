package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"demo-call-service/internal/analytics"
	"demo-call-service/internal/backend"
	"demo-call-service/internal/bucketing"
	"demo-call-service/internal/client"
	"demo-call-service/internal/config"
	"demo-call-service/internal/hashing"
	"demo-call-service/internal/notify"
	"demo-call-service/internal/ratelimit"
	"demo-call-service/internal/relay"
	pgrepo "demo-call-service/internal/repository/postgres"
	redisrepo "demo-call-service/internal/repository/redis"
	"demo-call-service/internal/repository/scylla"
	"demo-call-service/internal/secrets"
	"demo-call-service/internal/service"
	"demo-call-service/internal/tls"
	"demo-call-service/internal/util"
)

// Role selects which clients a binary needs.
type Role int

const (
	RoleCallAPI Role = iota
	RoleRelay
)

const analyticsTimeout = 5 * time.Second

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	role       Role
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	postgresClient   *client.PostgresClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	secrets          *secrets.KMSResolver
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager

	// Call API
	store       ratelimit.Store
	limiter     *ratelimit.Limiter
	sweeper     *ratelimit.Sweeper
	dispatcher  *notify.Dispatcher
	recorder    *analytics.Recorder
	callService *service.CallService

	// Relay
	bridge      *relay.Bridge
	relayServer *relay.Server

	closeOnce sync.Once
}

// NewFactory loads configuration, initializes logging, resolves encrypted
// secrets and connects the clients the role needs.
func NewFactory(role Role) (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		role:   role,
	}

	if role == RoleCallAPI {
		if err := cfg.ValidateRateLimitStore(); err != nil {
			return nil, err
		}
	}

	if err := factory.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	if role == RoleCallAPI && cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg.Server, cfg.Environment)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", factory.tlsManager != nil),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

func (f *Factory) resolveSecrets() error {
	if !f.config.KMS.Enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolver, err := secrets.NewKMSResolver(ctx, f.config, util.Get())
	if err != nil {
		return err
	}
	f.secrets = resolver
	return resolver.ResolveConfig(ctx, f.config)
}

// initializeClients connects every configured backing service. Failures are
// fatal in production and warnings elsewhere.
func (f *Factory) initializeClients() error {
	var initErrors []error

	if f.role == RoleCallAPI {
		switch f.config.RateLimit.Store {
		case "redis":
			if c, err := client.NewRedisClient(f.config, util.Get()); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
			} else {
				f.redisClient = c
			}
		case "postgres":
			if c, err := client.NewPostgresClient(f.config, util.Get()); err != nil {
				initErrors = append(initErrors, fmt.Errorf("postgres: %w", err))
			} else {
				f.postgresClient = c
			}
		case "scylla":
			if c, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
			} else {
				f.scyllaClient = c
			}
		}

		if len(f.config.Kafka.Brokers) > 0 {
			if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
				util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
			} else {
				f.kafkaProducer = producer
			}
		}

		if f.config.Clickhouse.URL != "" {
			if c, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
				util.Warn("ClickHouse initialization failed - proceeding without analytics", util.ErrorField(err))
			} else {
				f.clickhouseClient = c
			}
		}
	}

	if f.role == RoleRelay && f.config.Elasticsearch.URL != "" {
		if c, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			util.Warn("Elasticsearch initialization failed - transcripts will not be indexed", util.ErrorField(err))
		} else {
			f.esClient = c
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() error {
	hasher, err := hashing.NewHasher(f.config)
	if err != nil {
		return err
	}
	f.hasher = hasher
	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	return nil
}

// ==============================
// Call API
// ==============================

// RateLimitStore returns the configured store, falling back to memory when
// the configured one could not be reached.
func (f *Factory) RateLimitStore() ratelimit.Store {
	if f.store != nil {
		return f.store
	}

	switch {
	case f.redisClient != nil:
		f.store = redisrepo.NewRateLimitCache(f.redisClient, f.config.RateLimit.Retention())
	case f.postgresClient != nil:
		f.store = pgrepo.NewRateLimitRepository(f.postgresClient)
	case f.scyllaClient != nil:
		f.store = scylla.NewRateLimitRepository(f.scyllaClient, f.bucketingManager)
	default:
		if f.config.RateLimit.Store != "memory" || f.config.IsProduction() {
			util.Warn("Rate limit store unavailable, using in-memory store",
				util.String("configured", f.config.RateLimit.Store))
		}
		f.store = ratelimit.NewMemoryStore()
	}
	return f.store
}

func (f *Factory) Limiter() *ratelimit.Limiter {
	if f.limiter == nil {
		f.limiter = ratelimit.NewLimiter(f.RateLimitStore(), f.config.RateLimit.Window, util.Named("ratelimit"))
	}
	return f.limiter
}

func (f *Factory) Sweeper() *ratelimit.Sweeper {
	if f.sweeper == nil {
		f.sweeper = ratelimit.NewSweeper(
			f.RateLimitStore(),
			f.config.RateLimit.Retention(),
			f.config.RateLimit.SweepInterval,
			util.Named("sweeper"),
		)
	}
	return f.sweeper
}

// Dispatcher fans call notifications out to the webhook and the Kafka topic,
// whichever are configured.
func (f *Factory) Dispatcher() *notify.Dispatcher {
	if f.dispatcher != nil {
		return f.dispatcher
	}

	var notifiers []notify.Notifier
	if f.config.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(f.config.Webhook.URL, &http.Client{Timeout: f.config.Webhook.Timeout}))
	}
	if f.kafkaProducer != nil {
		notifiers = append(notifiers, notify.NewKafkaPublisher(f.kafkaProducer, f.config.Kafka.CallTopic))
	}

	f.dispatcher = notify.NewDispatcher(f.config.Webhook.Timeout, util.Named("notify"), notifiers...)
	util.Info("Notification sinks configured", util.Int("count", f.dispatcher.Len()))
	return f.dispatcher
}

// Recorder is nil when analytics are not configured.
func (f *Factory) Recorder() *analytics.Recorder {
	if f.recorder != nil || f.clickhouseClient == nil {
		return f.recorder
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sink := analytics.NewClickHouseSink(f.clickhouseClient)
	if err := sink.EnsureSchema(ctx); err != nil {
		util.Warn("Failed to create analytics table - analytics disabled", util.ErrorField(err))
		return nil
	}
	f.recorder = analytics.NewRecorder(sink, analyticsTimeout, util.Named("analytics"))
	return f.recorder
}

func (f *Factory) CallService() (*service.CallService, error) {
	if f.callService != nil {
		return f.callService, nil
	}

	b, err := backend.New(f.config, nil, util.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("failed to create call backend: %w", err)
	}

	f.callService = service.NewCallService(
		service.Options{
			AllowedOrigins:      f.config.Call.AllowedOrigins,
			CountryCode:         f.config.Call.CountryCode,
			DefaultCustomerName: f.config.Call.DefaultCustomerName,
		},
		f.Limiter(),
		b,
		f.Dispatcher(),
		f.Recorder(),
		f.hasher,
		util.Named("call"),
	)
	return f.callService, nil
}

// ==============================
// Relay
// ==============================

func (f *Factory) Bridge() *relay.Bridge {
	if f.bridge != nil {
		return f.bridge
	}

	var sink relay.TranscriptSink
	if f.esClient != nil {
		sink = relay.NewESTranscriptSink(f.esClient, f.config.Elasticsearch.TranscriptIndex)
	}

	if f.config.Relay.AgentID == "" {
		util.Warn("ELEVEN_AGENT_ID is not set, provider connections will likely be refused")
	}

	f.bridge = relay.NewBridge(relay.Config{
		ProviderURL:    f.config.Relay.ProviderWSURL,
		AgentID:        f.config.Relay.AgentID,
		APIKey:         f.config.Relay.APIKey,
		AudioEncoding:  f.config.Relay.AudioEncoding,
		ConnectTimeout: f.config.Relay.ConnectTimeout,
	}, nil, sink, util.Named("relay"))
	return f.bridge
}

func (f *Factory) RelayServer() *relay.Server {
	if f.relayServer == nil {
		f.relayServer = relay.NewServer(f.Bridge(), util.Named("relay"))
	}
	return f.relayServer
}

// ==============================
// Health Checks
// ==============================

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck pings every connected client concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]healthChecker{}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient
	}
	if f.postgresClient != nil {
		checks["postgres"] = f.postgresClient
	}
	if f.scyllaClient != nil {
		checks["scylla"] = f.scyllaClient
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient
	}

	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, c := range checks {
		g.Go(func() error {
			if err := c.HealthCheck(gctx); err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return healthErrors
}

// LogHealth warns about every dependency that fails its health check.
func (f *Factory) LogHealth(ctx context.Context) {
	for name, err := range f.HealthCheck(ctx) {
		util.Warn("Dependency unhealthy", util.String("dependency", name), util.ErrorField(err))
	}
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.relayServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := f.relayServer.Shutdown(ctx); err != nil {
				util.Error("Relay sessions did not drain", util.ErrorField(err))
			}
			cancel()
		}

		// Drain in-flight deliveries before their clients go away.
		if f.dispatcher != nil {
			f.dispatcher.Wait()
		}
		f.recorder.Wait()

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.postgresClient != nil {
			if err := f.postgresClient.Close(); err != nil {
				util.Error("Failed to close Postgres client", util.ErrorField(err))
			} else {
				util.Info("Postgres client closed")
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

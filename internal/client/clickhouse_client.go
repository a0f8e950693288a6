package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"demo-call-service/internal/config"
	"demo-call-service/internal/util"
)

// Native-protocol ports used when CLICKHOUSE_URL names none.
const (
	clickhousePort       = "9000"
	clickhouseSecurePort = "9440"
)

// ClickHouseClient holds the connection that call_attempts analytics rows go
// through. Inserts are small and frequent, so they are batched server side.
type ClickHouseClient struct {
	conn     driver.Conn
	database string
}

// clickhouseEndpoint is CLICKHOUSE_URL reduced to what the native driver needs.
type clickhouseEndpoint struct {
	addr   string
	host   string
	secure bool
}

func parseClickHouseURL(raw string) (clickhouseEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Bare host[:port] has no scheme.
		u, err = url.Parse("clickhouse://" + raw)
		if err != nil {
			return clickhouseEndpoint{}, fmt.Errorf("invalid CLICKHOUSE_URL: %w", err)
		}
	}

	secure := u.Scheme == "https" || u.Scheme == "clickhouses"
	port := u.Port()
	if port == "" {
		port = clickhousePort
		if secure {
			port = clickhouseSecurePort
		}
	}
	return clickhouseEndpoint{
		addr:   net.JoinHostPort(u.Hostname(), port),
		host:   u.Hostname(),
		secure: secure,
	}, nil
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse
	if chConfig.URL == "" {
		return nil, fmt.Errorf("CLICKHOUSE_URL is not set")
	}

	endpoint, err := parseClickHouseURL(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{endpoint.addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		Settings: ch.Settings{
			"async_insert":                 1,
			"wait_for_async_insert":        0,
			"async_insert_busy_timeout_ms": 1000,
		},
		// The recorder is the only writer; a handful of connections is plenty.
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		DialTimeout:     5 * time.Second,
		ConnMaxLifetime: 30 * time.Minute,
	}

	if endpoint.secure || cfg.IsProduction() {
		tlsConfig, err := clickhouseTLSConfig(endpoint.host)
		if err != nil {
			return nil, err
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("ClickHouse analytics client initialized",
		zap.String("addr", endpoint.addr),
		zap.String("database", chConfig.Database),
		zap.Bool("tls", opts.TLS != nil))

	return &ClickHouseClient{conn: conn, database: chConfig.Database}, nil
}

func clickhouseTLSConfig(host string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}

	caFile := util.GetEnv("CLICKHOUSE_CA_FILE", "")
	if caFile == "" {
		return tlsConfig, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Exec runs DDL such as the call_attempts table bootstrap.
func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

// AsyncInsert hands one row to the server's insert buffer and returns without
// waiting for the part to be written.
func (c *ClickHouseClient) AsyncInsert(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.AsyncInsert(ctx, query, false, args...)
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping (%s) failed: %w", c.database, err)
	}
	return nil
}

func (c *ClickHouseClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", util.ErrorField(err))
		return err
	}
	return nil
}

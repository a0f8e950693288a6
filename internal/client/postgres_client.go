package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"demo-call-service/internal/config"
	"demo-call-service/internal/model"
)

type PostgresClient struct {
	DB *gorm.DB
}

// NewPostgresClient connects with exponential backoff and migrates the rate limit table.
func NewPostgresClient(cfg *config.Config, log *zap.Logger) (*PostgresClient, error) {
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	const maxRetries = 5
	retryDelay := time.Second

	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Error),
		})
		if err == nil {
			err = pingGorm(db)
			if err == nil {
				break
			}
		}

		if attempt == maxRetries {
			return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", maxRetries, err)
		}

		log.Warn("Postgres connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", retryDelay),
			zap.Error(err))
		time.Sleep(retryDelay)

		retryDelay *= 2
		if retryDelay > 10*time.Second {
			retryDelay = 10 * time.Second
		}
	}

	if err := db.AutoMigrate(&model.RateLimitRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate rate_limits: %w", err)
	}

	log.Info("Postgres client initialized")
	return &PostgresClient{DB: db}, nil
}

func pingGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (p *PostgresClient) HealthCheck(ctx context.Context) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("postgres handle unavailable: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package analytics

import (
	"context"
	"fmt"

	"demo-call-service/internal/client"
	"demo-call-service/internal/model"
)

const createCallAttemptsTable = `
    CREATE TABLE IF NOT EXISTS call_attempts (
        request_id  String,
        occurred_at DateTime64(3, 'UTC'),
        source_ip   String,
        phone_hash  String,
        origin      String,
        user_agent  String,
        persona     LowCardinality(String),
        backend     LowCardinality(String),
        outcome     LowCardinality(String),
        status_code UInt16
    ) ENGINE = MergeTree
    PARTITION BY toYYYYMM(occurred_at)
    ORDER BY (occurred_at, request_id)
    TTL toDateTime(occurred_at) + INTERVAL 180 DAY`

const insertCallAttempt = `
    INSERT INTO call_attempts
        (request_id, occurred_at, source_ip, phone_hash, origin, user_agent, persona, backend, outcome, status_code)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type ClickHouseSink struct {
	client *client.ClickHouseClient
}

func NewClickHouseSink(client *client.ClickHouseClient) *ClickHouseSink {
	return &ClickHouseSink{client: client}
}

func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.client.Exec(ctx, createCallAttemptsTable); err != nil {
		return fmt.Errorf("failed to create call_attempts table: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Insert(ctx context.Context, a model.CallAttempt) error {
	err := s.client.AsyncInsert(ctx, insertCallAttempt,
		a.RequestID,
		a.OccurredAt.UTC(),
		a.SourceIP,
		a.PhoneHash,
		a.Origin,
		a.UserAgent,
		a.Persona,
		a.Backend,
		string(a.Outcome),
		uint16(a.StatusCode),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call attempt: %w", err)
	}
	return nil
}

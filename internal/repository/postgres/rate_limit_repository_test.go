package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"demo-call-service/internal/client"
	"demo-call-service/internal/ratelimit"
)

const (
	testWindow = int64(3600)
	testNow    = int64(1_700_000_000)

	upsertPattern = `(?s)INSERT INTO rate_limits .*ON CONFLICT \(source_identifier\) DO UPDATE.*WHERE rate_limits\.last_request_time <= \$3.*RETURNING`
	selectPattern = `SELECT \* FROM "rate_limits" WHERE source_identifier = \$1`
)

func newTestRepository(t *testing.T) (*RateLimitRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(pgdriver.New(pgdriver.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewRateLimitRepository(&client.PostgresClient{DB: db}), mock
}

func upsertedRow(id string, ts int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"source_identifier", "last_request_time"}).AddRow(id, ts)
}

func noRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"source_identifier", "last_request_time"})
}

func TestAcquireInsertsAbsentSource(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(upsertPattern).
		WithArgs("203.0.113.7", testNow, testNow-testWindow).
		WillReturnRows(upsertedRow("203.0.113.7", testNow))

	acq, err := repo.Acquire(context.Background(), "203.0.113.7", testNow, testWindow)
	require.NoError(t, err)
	assert.True(t, acq.Allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireWithinWindowReportsStoredTime(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := testNow + testWindow - 1

	// The conditional update matches no row, so nothing is written.
	mock.ExpectQuery(upsertPattern).
		WithArgs("203.0.113.7", now, now-testWindow).
		WillReturnRows(noRows())
	mock.ExpectQuery(selectPattern).
		WillReturnRows(upsertedRow("203.0.113.7", testNow))

	acq, err := repo.Acquire(context.Background(), "203.0.113.7", now, testWindow)
	require.NoError(t, err)
	assert.False(t, acq.Allowed)
	assert.Equal(t, testNow, acq.LastRequestTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireRefreshesAfterWindow(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := testNow + testWindow

	mock.ExpectQuery(upsertPattern).
		WithArgs("203.0.113.7", now, testNow).
		WillReturnRows(upsertedRow("203.0.113.7", now))

	acq, err := repo.Acquire(context.Background(), "203.0.113.7", now, testWindow)
	require.NoError(t, err)
	assert.True(t, acq.Allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireReturnsQueryError(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(upsertPattern).WillReturnError(errors.New("connection reset"))

	_, err := repo.Acquire(context.Background(), "203.0.113.7", testNow, testWindow)
	assert.ErrorContains(t, err, "connection reset")
}

func TestLimiterThroughPostgresStore(t *testing.T) {
	repo, mock := newTestRepository(t)
	limiter := ratelimit.NewLimiter(repo, time.Hour, zap.NewNop())
	ctx := context.Background()
	now := time.Unix(testNow, 0)
	later := now.Add(20 * time.Minute).Unix()

	mock.ExpectQuery(upsertPattern).WillReturnRows(upsertedRow("203.0.113.7", testNow))
	mock.ExpectQuery(upsertPattern).WithArgs("203.0.113.7", later, later-testWindow).WillReturnRows(noRows())
	mock.ExpectQuery(selectPattern).WillReturnRows(upsertedRow("203.0.113.7", testNow))
	mock.ExpectQuery(upsertPattern).WillReturnError(errors.New("connection refused"))

	assert.True(t, limiter.CheckAndRecord(ctx, "203.0.113.7", now).Allowed)

	limited := limiter.CheckAndRecord(ctx, "203.0.113.7", now.Add(20*time.Minute))
	assert.False(t, limited.Allowed)
	assert.Equal(t, 40*time.Minute, limited.RetryAfter)

	failedOpen := limiter.CheckAndRecord(ctx, "203.0.113.7", now.Add(30*time.Minute))
	assert.True(t, failedOpen.Allowed)
	assert.True(t, failedOpen.FailedOpen)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeDeletesStaleRecords(t *testing.T) {
	repo, mock := newTestRepository(t)
	cutoff := testNow - 24*testWindow

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "rate_limits" WHERE last_request_time < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := repo.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

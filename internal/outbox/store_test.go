package outbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/registry/services/customer/internal/events"
	"example.com/registry/services/customer/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

func TestEnqueue(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	msg := events.NewCustomerEvent(events.TypeCustomerCreated, &models.Customer{
		ID:   uuid.New(),
		Name: "Jane Doe",
	})

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "outbox_events"`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Enqueue(db, msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPending(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	id := uuid.New()
	eventID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "event_id", "event_type", "payload", "occurred_at", "created_at", "retry_count"}).
		AddRow(id.String(), eventID.String(), events.TypeCustomerCreated, []byte(`{}`), now, now, 0)

	mock.ExpectQuery(`SELECT (.+) FROM "outbox_events" WHERE processed_at IS NULL`).
		WillReturnRows(rows)

	records, err := store.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, id, records[0].ID)
	require.Equal(t, eventID, records[0].EventID)
	require.Equal(t, events.TypeCustomerCreated, records[0].EventType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPending(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "outbox_events" WHERE processed_at IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedGuardsPendingRows(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "outbox_events" SET "processed_at"=\$1 WHERE id = \$2 AND processed_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.MarkProcessed(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedIsIdempotent(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	// Already-processed rows match nothing; that is not an error.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "outbox_events"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, store.MarkProcessed(context.Background(), uuid.New()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "outbox_events" SET (.+) WHERE id = \$\d+ AND processed_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.MarkFailed(context.Background(), uuid.New(), errors.New("broker unavailable"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncateError(t *testing.T) {
	require.Equal(t, "", truncateError(nil))
	require.Equal(t, "short", truncateError(errors.New("short")))

	long := strings.Repeat("x", maxErrorLength+100)
	truncated := truncateError(errors.New(long))
	require.Len(t, truncated, maxErrorLength)
}

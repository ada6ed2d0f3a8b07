package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/registry/services/customer/internal/events"
	"example.com/registry/services/customer/internal/models"
)

// maxErrorLength bounds last_error before it is stored.
const maxErrorLength = 2000

// Writer enqueues events inside a caller-owned transaction. Because the
// outbox row shares the transaction with the business mutation, no committed
// mutation can lack its event and no event survives a rolled-back mutation.
type Writer interface {
	Enqueue(tx *gorm.DB, msg events.EventMessage) error
}

// Store is the full outbox contract used by the publisher loop.
type Store interface {
	Writer
	FetchPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	CountPending(ctx context.Context) (int64, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

// GormStore implements Store on the shared Postgres database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new outbox store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Enqueue appends an event to the outbox within the caller's transaction.
// It never commits on its own.
func (s *GormStore) Enqueue(tx *gorm.DB, msg events.EventMessage) error {
	payload, err := msg.Marshal()
	if err != nil {
		return errors.Wrap(err, "failed to serialize outbox payload")
	}

	record := models.OutboxEvent{
		ID:         uuid.New(),
		EventID:    msg.EventID,
		EventType:  msg.EventType,
		Payload:    payload,
		OccurredAt: msg.OccurredAt,
	}

	if err := tx.Create(&record).Error; err != nil {
		return errors.Wrap(err, "failed to enqueue outbox event")
	}

	return nil
}

// FetchPending returns up to limit unprocessed events, oldest first.
func (s *GormStore) FetchPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var records []models.OutboxEvent
	err := s.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch pending outbox events")
	}
	return records, nil
}

// CountPending returns the outbox backlog size.
func (s *GormStore) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("processed_at IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pending outbox events")
	}
	return count, nil
}

// MarkProcessed stamps processed_at on a pending event. The guard on
// processed_at makes the transition one-way: a record already marked is left
// untouched, so re-marking after a crash is harmless.
func (s *GormStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", now)

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark outbox event as processed")
	}

	return nil
}

// MarkFailed increments the retry counter and records the truncated error.
// The record stays pending and is picked up again on the next poll.
func (s *GormStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	message := truncateError(cause)

	result := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  message,
		})

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark outbox event as failed")
	}

	return nil
}

// truncateError bounds an error message to the last_error column size.
func truncateError(cause error) string {
	if cause == nil {
		return ""
	}

	message := cause.Error()
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}

	return message
}

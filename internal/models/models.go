package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Customer is the system-of-record representation of a registered customer.
// Every write goes through the registration service so that the matching
// outbox event is committed in the same transaction.
type Customer struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	Document  string         `json:"document"`
	Kind      string         `gorm:"not null;default:person" json:"kind"`
}

// OutboxEvent is a pending or processed entry of the transactional outbox.
// Rows are written in the same transaction as the business mutation and are
// mutated only by the publisher; they are never deleted by this service.
type OutboxEvent struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	EventID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"event_id"`
	EventType   string     `gorm:"not null;index" json:"event_type"`
	Payload     []byte     `gorm:"type:jsonb;not null" json:"payload"`
	OccurredAt  time.Time  `gorm:"not null" json:"occurred_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	ProcessedAt *time.Time `gorm:"index" json:"processed_at"`
	RetryCount  int        `gorm:"not null;default:0" json:"retry_count"`
	LastError   *string    `gorm:"type:varchar(2000)" json:"last_error"`
}

// DuplicateSuspicion records a scored suspicion that two customers are the
// same real-world entity. Rows are immutable once written. There is no
// uniqueness constraint on (subject_id, candidate_id): re-running detection
// for the same pair creates a new row.
type DuplicateSuspicion struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID   uuid.UUID `gorm:"type:uuid;not null;index" json:"subject_id"`
	CandidateID uuid.UUID `gorm:"type:uuid;not null" json:"candidate_id"`
	Score       float64   `gorm:"not null" json:"score"`
	Reason      string    `gorm:"not null" json:"reason"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	// Apply all migrations
	err := db.AutoMigrate(
		&Customer{},
		&OutboxEvent{},
		&DuplicateSuspicion{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}

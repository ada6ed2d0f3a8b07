package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/registry/services/customer/internal/models"
)

// CustomerRepository provides access to the customer system of record
type CustomerRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *gorm.DB, readOnlyDB *gorm.DB) *CustomerRepository {
	return &CustomerRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// FindByID gets a customer by ID
func (r *CustomerRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).First(&customer, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get customer by ID")
	}
	return &customer, nil
}

// Create inserts a customer inside the caller's transaction
func (r *CustomerRepository) Create(tx *gorm.DB, customer *models.Customer) error {
	if err := tx.Create(customer).Error; err != nil {
		return errors.Wrap(err, "failed to create customer")
	}
	return nil
}

// Save persists all fields of an existing customer inside the caller's
// transaction.
func (r *CustomerRepository) Save(tx *gorm.DB, customer *models.Customer) error {
	if err := tx.Save(customer).Error; err != nil {
		return errors.Wrap(err, "failed to save customer")
	}
	return nil
}

// SuspicionRepository provides access to duplicate suspicion rows
type SuspicionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewSuspicionRepository creates a new suspicion repository
func NewSuspicionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *SuspicionRepository {
	return &SuspicionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// CreateBatch inserts a batch of suspicions inside the caller's transaction.
// Suspicions are immutable, so this is the only write path.
func (r *SuspicionRepository) CreateBatch(tx *gorm.DB, suspicions []models.DuplicateSuspicion) error {
	if len(suspicions) == 0 {
		return nil
	}

	if err := tx.Create(&suspicions).Error; err != nil {
		return errors.Wrap(err, "failed to create duplicate suspicions")
	}

	return nil
}

// ListBySubject gets all suspicions recorded for a subject customer
func (r *SuspicionRepository) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]models.DuplicateSuspicion, error) {
	var suspicions []models.DuplicateSuspicion
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Find(&suspicions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list suspicions by subject")
	}
	return suspicions, nil
}

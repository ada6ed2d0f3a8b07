package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/registry/services/customer/internal/cache"
	"example.com/registry/services/customer/internal/events"
	"example.com/registry/services/customer/internal/metrics"
	"example.com/registry/services/customer/internal/models"
	"example.com/registry/services/customer/internal/outbox"
	"example.com/registry/services/customer/internal/repositories"
	"example.com/registry/services/customer/internal/tracing"
)

// customerCacheTTL bounds how long a customer snapshot is cached.
const customerCacheTTL = time.Hour

// CustomerInput carries the writable fields of a customer registration
type CustomerInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Document string `json:"document"`
	Kind     string `json:"kind"`
}

// CustomerService handles customer registration business logic. Every
// mutation commits its outbox event in the same database transaction, so a
// registered change can never go unannounced.
type CustomerService struct {
	db            *gorm.DB // Write database
	readOnlyDB    *gorm.DB // Read-only database
	customerRepo  *repositories.CustomerRepository
	suspicionRepo *repositories.SuspicionRepository
	outbox        outbox.Writer
	cache         *cache.RedisCache
	tracer        tracing.Tracer
	collector     *metrics.Metrics
}

// NewCustomerService creates a new customer service
func NewCustomerService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	outboxWriter outbox.Writer,
	redisCache *cache.RedisCache,
	tracer tracing.Tracer,
	collector *metrics.Metrics,
) *CustomerService {
	return &CustomerService{
		db:            db,
		readOnlyDB:    readOnlyDB,
		customerRepo:  repositories.NewCustomerRepository(db, readOnlyDB),
		suspicionRepo: repositories.NewSuspicionRepository(db, readOnlyDB),
		outbox:        outboxWriter,
		cache:         redisCache,
		tracer:        tracer,
		collector:     collector,
	}
}

// CreateCustomer registers a new customer and enqueues the created event in
// the same transaction.
func (s *CustomerService) CreateCustomer(ctx context.Context, input CustomerInput) (*models.Customer, error) {
	txn := s.tracer.StartTransaction("create-customer")
	defer s.tracer.EndTransaction(txn)

	if err := validateInput(input); err != nil {
		return nil, err
	}

	kind := input.Kind
	if kind == "" {
		kind = "person"
	}

	customer := &models.Customer{
		ID:       uuid.New(),
		Name:     input.Name,
		Email:    input.Email,
		Phone:    input.Phone,
		Document: input.Document,
		Kind:     kind,
	}

	span := s.tracer.StartSpan("persist-customer", txn)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.customerRepo.Create(tx, customer); err != nil {
			return err
		}
		return s.outbox.Enqueue(tx, events.NewCustomerEvent(events.TypeCustomerCreated, customer))
	})
	span.End()

	if err != nil {
		s.tracer.RecordError(txn, err)
		s.collector.RecordError("customers.create")
		return nil, errors.Wrap(err, "failed to register customer")
	}

	s.cacheCustomer(ctx, customer)
	s.collector.RecordSuccess("customers.create")
	s.collector.IncrementCounter("customers.created")

	log.Info().
		Str("customer_id", customer.ID.String()).
		Str("kind", customer.Kind).
		Msg("Customer registered")

	return customer, nil
}

// UpdateCustomer replaces a customer's registered details and enqueues the
// updated event in the same transaction.
func (s *CustomerService) UpdateCustomer(ctx context.Context, id uuid.UUID, input CustomerInput) (*models.Customer, error) {
	txn := s.tracer.StartTransaction("update-customer")
	defer s.tracer.EndTransaction(txn)

	if err := validateInput(input); err != nil {
		return nil, err
	}

	customer, err := s.customerRepo.FindByID(ctx, id)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	customer.Name = input.Name
	customer.Email = input.Email
	customer.Phone = input.Phone
	customer.Document = input.Document
	if input.Kind != "" {
		customer.Kind = input.Kind
	}

	span := s.tracer.StartSpan("persist-customer", txn)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.customerRepo.Save(tx, customer); err != nil {
			return err
		}
		return s.outbox.Enqueue(tx, events.NewCustomerEvent(events.TypeCustomerUpdated, customer))
	})
	span.End()

	if err != nil {
		s.tracer.RecordError(txn, err)
		s.collector.RecordError("customers.update")
		return nil, errors.Wrap(err, "failed to update customer")
	}

	s.cacheCustomer(ctx, customer)
	s.collector.RecordSuccess("customers.update")
	s.collector.IncrementCounter("customers.updated")

	log.Info().
		Str("customer_id", customer.ID.String()).
		Msg("Customer updated")

	return customer, nil
}

// GetCustomer fetches a customer, preferring the cache over the database
func (s *CustomerService) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var cached models.Customer
	if err := s.cache.Get(ctx, cache.GetCustomerCacheKey(id), &cached); err == nil {
		return &cached, nil
	}

	customer, err := s.customerRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheCustomer(ctx, customer)
	return customer, nil
}

// ListSuspicions returns the recorded duplicate suspicions for a customer
func (s *CustomerService) ListSuspicions(ctx context.Context, subjectID uuid.UUID) ([]models.DuplicateSuspicion, error) {
	return s.suspicionRepo.ListBySubject(ctx, subjectID)
}

// cacheCustomer stores a customer snapshot; cache failures are only logged.
func (s *CustomerService) cacheCustomer(ctx context.Context, customer *models.Customer) {
	if err := s.cache.Set(ctx, cache.GetCustomerCacheKey(customer.ID), customer, customerCacheTTL); err != nil {
		log.Debug().
			Err(err).
			Str("customer_id", customer.ID.String()).
			Msg("Failed to cache customer")
	}
}

func validateInput(input CustomerInput) error {
	if input.Name == "" {
		return errors.New("customer name is required")
	}
	return nil
}

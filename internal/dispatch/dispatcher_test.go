package dispatch

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/registry/services/customer/config"
	"example.com/registry/services/customer/internal/events"
	"example.com/registry/services/customer/internal/metrics"
	"example.com/registry/services/customer/internal/models"
	"example.com/registry/services/customer/internal/search"
	"example.com/registry/services/customer/internal/tracing"
)

// Mock customer reader for testing
type MockCustomerReader struct {
	mock.Mock
}

func (m *MockCustomerReader) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

// Mock search client for testing
type MockSearchClient struct {
	mock.Mock
}

func (m *MockSearchClient) UpsertCustomer(ctx context.Context, doc search.CustomerDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockSearchClient) GetCustomer(ctx context.Context, id uuid.UUID) (*search.CustomerDocument, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*search.CustomerDocument), args.Error(1)
}

func (m *MockSearchClient) SearchByName(ctx context.Context, name string, limit int) ([]search.CustomerDocument, error) {
	args := m.Called(ctx, name, limit)
	return args.Get(0).([]search.CustomerDocument), args.Error(1)
}

// Mock duplicate checker for testing
type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) Process(ctx context.Context, subject *models.Customer) error {
	args := m.Called(ctx, subject)
	return args.Error(0)
}

// Mock idempotency store for testing
type MockIdempotency struct {
	mock.Mock
}

func (m *MockIdempotency) WasEventSeen(ctx context.Context, eventID uuid.UUID) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotency) MarkEventSeen(ctx context.Context, eventID uuid.UUID) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

type dispatcherMocks struct {
	customers   *MockCustomerReader
	searcher    *MockSearchClient
	checker     *MockChecker
	idempotency *MockIdempotency
}

func newTestDispatcher(t *testing.T) (*Dispatcher, dispatcherMocks) {
	t.Helper()

	mocks := dispatcherMocks{
		customers:   new(MockCustomerReader),
		searcher:    new(MockSearchClient),
		checker:     new(MockChecker),
		idempotency: new(MockIdempotency),
	}

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	dispatcher := NewDispatcher(
		mocks.customers,
		mocks.searcher,
		mocks.checker,
		mocks.idempotency,
		tracer,
		metrics.NewMetrics(),
	)

	return dispatcher, mocks
}

func TestHandleProcessesCustomerEvent(t *testing.T) {
	dispatcher, mocks := newTestDispatcher(t)

	customer := &models.Customer{
		ID:    uuid.New(),
		Name:  "Jane Doe",
		Email: "jane@example.com",
	}
	msg := events.NewCustomerEvent(events.TypeCustomerCreated, customer)

	mocks.idempotency.On("WasEventSeen", mock.Anything, msg.EventID).Return(false, nil)
	mocks.customers.On("FindByID", mock.Anything, customer.ID).Return(customer, nil)
	mocks.searcher.On("UpsertCustomer", mock.Anything, search.DocumentFrom(customer)).Return(nil)
	mocks.checker.On("Process", mock.Anything, customer).Return(nil)
	mocks.idempotency.On("MarkEventSeen", mock.Anything, msg.EventID).Return(false, nil)

	require.NoError(t, dispatcher.Handle(context.Background(), msg))

	mocks.customers.AssertExpectations(t)
	mocks.searcher.AssertExpectations(t)
	mocks.checker.AssertExpectations(t)
	mocks.idempotency.AssertExpectations(t)
}

func TestHandleIgnoresOtherEventTypes(t *testing.T) {
	dispatcher, mocks := newTestDispatcher(t)

	msg := events.EventMessage{
		EventID:   uuid.New(),
		EventType: events.TypeDuplicateSuspected,
		SubjectID: uuid.New(),
	}

	require.NoError(t, dispatcher.Handle(context.Background(), msg))

	mocks.idempotency.AssertNotCalled(t, "WasEventSeen")
	mocks.customers.AssertNotCalled(t, "FindByID")
	mocks.searcher.AssertNotCalled(t, "UpsertCustomer")
}

func TestHandleSkipsAlreadySeenEvent(t *testing.T) {
	dispatcher, mocks := newTestDispatcher(t)

	msg := events.EventMessage{
		EventID:   uuid.New(),
		EventType: events.TypeCustomerUpdated,
		SubjectID: uuid.New(),
	}

	mocks.idempotency.On("WasEventSeen", mock.Anything, msg.EventID).Return(true, nil)

	require.NoError(t, dispatcher.Handle(context.Background(), msg))

	mocks.customers.AssertNotCalled(t, "FindByID")
	mocks.searcher.AssertNotCalled(t, "UpsertCustomer")
	mocks.idempotency.AssertNotCalled(t, "MarkEventSeen")
}

func TestHandleDropsEventForMissingCustomer(t *testing.T) {
	dispatcher, mocks := newTestDispatcher(t)

	msg := events.EventMessage{
		EventID:   uuid.New(),
		EventType: events.TypeCustomerCreated,
		SubjectID: uuid.New(),
	}

	mocks.idempotency.On("WasEventSeen", mock.Anything, msg.EventID).Return(false, nil)
	mocks.customers.On("FindByID", mock.Anything, msg.SubjectID).
		Return(nil, errors.Wrap(gorm.ErrRecordNotFound, "failed to get customer by ID"))
	mocks.idempotency.On("MarkEventSeen", mock.Anything, msg.EventID).Return(false, nil)

	require.NoError(t, dispatcher.Handle(context.Background(), msg))

	mocks.searcher.AssertNotCalled(t, "UpsertCustomer")
	mocks.checker.AssertNotCalled(t, "Process")
}

func TestHandlePropagatesSearchFailure(t *testing.T) {
	dispatcher, mocks := newTestDispatcher(t)

	customer := &models.Customer{ID: uuid.New(), Name: "Jane Doe"}
	msg := events.NewCustomerEvent(events.TypeCustomerUpdated, customer)

	mocks.idempotency.On("WasEventSeen", mock.Anything, msg.EventID).Return(false, nil)
	mocks.customers.On("FindByID", mock.Anything, customer.ID).Return(customer, nil)
	mocks.searcher.On("UpsertCustomer", mock.Anything, mock.Anything).
		Return(errors.New("search unavailable"))

	require.Error(t, dispatcher.Handle(context.Background(), msg))

	// Failed attempts stay retryable: the event id is not marked seen.
	mocks.idempotency.AssertNotCalled(t, "MarkEventSeen")
	mocks.checker.AssertNotCalled(t, "Process")
}

func TestHandlePropagatesDuplicateCheckFailure(t *testing.T) {
	dispatcher, mocks := newTestDispatcher(t)

	customer := &models.Customer{ID: uuid.New(), Name: "Jane Doe"}
	msg := events.NewCustomerEvent(events.TypeCustomerCreated, customer)

	mocks.idempotency.On("WasEventSeen", mock.Anything, msg.EventID).Return(false, nil)
	mocks.customers.On("FindByID", mock.Anything, customer.ID).Return(customer, nil)
	mocks.searcher.On("UpsertCustomer", mock.Anything, mock.Anything).Return(nil)
	mocks.checker.On("Process", mock.Anything, customer).Return(errors.New("search unavailable"))

	require.Error(t, dispatcher.Handle(context.Background(), msg))
	mocks.idempotency.AssertNotCalled(t, "MarkEventSeen")
}

func TestHandleProcessesWhenIdempotencyCheckFails(t *testing.T) {
	dispatcher, mocks := newTestDispatcher(t)

	customer := &models.Customer{ID: uuid.New(), Name: "Jane Doe"}
	msg := events.NewCustomerEvent(events.TypeCustomerCreated, customer)

	// A broken idempotency store degrades to plain at-least-once.
	mocks.idempotency.On("WasEventSeen", mock.Anything, msg.EventID).
		Return(false, errors.New("redis unavailable"))
	mocks.customers.On("FindByID", mock.Anything, customer.ID).Return(customer, nil)
	mocks.searcher.On("UpsertCustomer", mock.Anything, mock.Anything).Return(nil)
	mocks.checker.On("Process", mock.Anything, customer).Return(nil)
	mocks.idempotency.On("MarkEventSeen", mock.Anything, msg.EventID).Return(false, nil)

	require.NoError(t, dispatcher.Handle(context.Background(), msg))
	mocks.searcher.AssertExpectations(t)
}

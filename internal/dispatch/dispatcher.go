package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/registry/services/customer/internal/events"
	"example.com/registry/services/customer/internal/metrics"
	"example.com/registry/services/customer/internal/models"
	"example.com/registry/services/customer/internal/search"
	"example.com/registry/services/customer/internal/tracing"
)

// CustomerReader loads the current customer record; the event payload is only
// a trigger, the system of record wins.
type CustomerReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// IdempotencyStore remembers consumed event ids. Satisfied by
// cache.RedisCache.
type IdempotencyStore interface {
	WasEventSeen(ctx context.Context, eventID uuid.UUID) (bool, error)
	MarkEventSeen(ctx context.Context, eventID uuid.UUID) (bool, error)
}

// DuplicateChecker runs duplicate detection for a customer. Satisfied by
// dedup.Engine.
type DuplicateChecker interface {
	Process(ctx context.Context, subject *models.Customer) error
}

// Dispatcher turns consumed customer events into projection updates and
// duplicate checks. Deliveries are at-least-once, so processing is guarded by
// the event id: an id is checked on entry and marked only after the whole
// pipeline succeeded, which keeps failed attempts retryable.
type Dispatcher struct {
	customers   CustomerReader
	searcher    search.Client
	checker     DuplicateChecker
	idempotency IdempotencyStore
	tracer      tracing.Tracer
	collector   *metrics.Metrics
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(
	customers CustomerReader,
	searcher search.Client,
	checker DuplicateChecker,
	idempotency IdempotencyStore,
	tracer tracing.Tracer,
	collector *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		customers:   customers,
		searcher:    searcher,
		checker:     checker,
		idempotency: idempotency,
		tracer:      tracer,
		collector:   collector,
	}
}

// Handle processes one consumed event. A nil return acks the delivery, so
// events the dispatcher does not handle are acked untouched rather than
// requeued forever.
func (d *Dispatcher) Handle(ctx context.Context, msg events.EventMessage) error {
	if msg.EventType != events.TypeCustomerCreated && msg.EventType != events.TypeCustomerUpdated {
		log.Debug().
			Str("event_id", msg.EventID.String()).
			Str("event_type", msg.EventType).
			Msg("Ignoring event type")
		return nil
	}

	seen, err := d.idempotency.WasEventSeen(ctx, msg.EventID)
	if err != nil {
		// Degrade to plain at-least-once rather than blocking the queue.
		log.Warn().
			Err(err).
			Str("event_id", msg.EventID.String()).
			Msg("Idempotency check failed, processing anyway")
	}
	if seen {
		log.Debug().
			Str("event_id", msg.EventID.String()).
			Msg("Skipping already processed event")
		d.collector.IncrementCounter("dispatch.duplicates")
		return nil
	}

	start := time.Now()

	txn := d.tracer.StartTransaction("dispatch-event")
	defer d.tracer.EndTransaction(txn)
	d.tracer.AddAttribute(txn, "event_type", msg.EventType)

	if err := d.process(ctx, txn, msg); err != nil {
		d.tracer.RecordError(txn, err)
		d.collector.RecordError("dispatch.handle")
		return err
	}

	if _, err := d.idempotency.MarkEventSeen(ctx, msg.EventID); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", msg.EventID.String()).
			Msg("Failed to mark event as seen")
	}

	d.collector.RecordSuccess("dispatch.handle")
	d.collector.RecordTimer("dispatch.handle", time.Since(start).Milliseconds())
	d.collector.IncrementCounter("dispatch.processed")

	return nil
}

func (d *Dispatcher) process(ctx context.Context, txn *newrelic.Transaction, msg events.EventMessage) error {
	loadSpan := d.tracer.StartSpan("load-customer", txn)
	customer, err := d.customers.FindByID(ctx, msg.SubjectID)
	loadSpan.End()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The record was removed after the event was written. There is
			// nothing left to project, so the delivery is acked.
			log.Warn().
				Str("event_id", msg.EventID.String()).
				Str("subject_id", msg.SubjectID.String()).
				Msg("Customer no longer exists, dropping event")
			return nil
		}
		return err
	}

	indexSpan := d.tracer.StartSpan("index-customer", txn)
	err = d.searcher.UpsertCustomer(ctx, search.DocumentFrom(customer))
	indexSpan.End()
	if err != nil {
		return errors.Wrap(err, "failed to update customer projection")
	}

	dedupSpan := d.tracer.StartSpan("detect-duplicates", txn)
	err = d.checker.Process(ctx, customer)
	dedupSpan.End()
	if err != nil {
		return errors.Wrap(err, "failed to run duplicate detection")
	}

	log.Debug().
		Str("event_id", msg.EventID.String()).
		Str("subject_id", msg.SubjectID.String()).
		Str("event_type", msg.EventType).
		Msg("Event processed")

	return nil
}

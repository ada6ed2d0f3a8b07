package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/registry/services/customer/config"
	"example.com/registry/services/customer/internal/metrics"
	"example.com/registry/services/customer/internal/models"
)

// BrokerPublisher is the broker-publish contract consumed by the loop. Hand
// in a resilience-wrapped publisher so each record gets the bounded in-call
// retry policy.
type BrokerPublisher interface {
	Publish(ctx context.Context, eventType string, eventID uuid.UUID, body []byte) error
}

// Publisher drains the outbox in the background: fetch a batch, publish each
// record, mark the outcome, repeat. Failed records are never dead-lettered
// here; they stay pending and are retried on every subsequent poll.
type Publisher struct {
	store        Store
	broker       BrokerPublisher
	collector    *metrics.Metrics
	batchSize    int
	pollInterval time.Duration
}

// NewPublisher creates a new outbox publisher
func NewPublisher(store Store, broker BrokerPublisher, collector *metrics.Metrics, cfg config.PublisherConfig) *Publisher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	return &Publisher{
		store:        store,
		broker:       broker,
		collector:    collector,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// Run drives the publish loop until the context is canceled. The in-flight
// record is always finished before the loop exits.
func (p *Publisher) Run(ctx context.Context) error {
	log.Info().
		Int("batch_size", p.batchSize).
		Dur("poll_interval", p.pollInterval).
		Msg("Starting outbox publisher")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Outbox publisher stopping")
			return nil
		}

		batch, err := p.store.FetchPending(ctx, p.batchSize)
		if err != nil {
			log.Error().Err(err).Msg("Failed to fetch pending outbox events")
			p.collector.RecordError("outbox.fetch")

			if !p.sleep(ctx) {
				return nil
			}
			continue
		}

		if len(batch) == 0 {
			if !p.sleep(ctx) {
				return nil
			}
			continue
		}

		p.collector.SetGauge("outbox.batch_size", int64(len(batch)))

		for i := range batch {
			p.publishRecord(ctx, &batch[i])

			if ctx.Err() != nil {
				log.Info().Msg("Outbox publisher stopping mid-batch")
				return nil
			}
		}
	}
}

// publishRecord attempts one record. A failure is recorded on the row and the
// loop moves on; it never blocks the rest of the batch.
func (p *Publisher) publishRecord(ctx context.Context, record *models.OutboxEvent) {
	start := time.Now()
	err := p.broker.Publish(ctx, record.EventType, record.EventID, record.Payload)
	p.collector.RecordTimer("outbox.publish", time.Since(start).Milliseconds())

	if err != nil {
		log.Warn().
			Err(err).
			Str("event_id", record.EventID.String()).
			Str("event_type", record.EventType).
			Int("retry_count", record.RetryCount).
			Msg("Failed to publish outbox event, will retry on next poll")
		p.collector.RecordError("outbox.publish")

		if markErr := p.store.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().
				Err(markErr).
				Str("event_id", record.EventID.String()).
				Msg("Failed to record outbox publish failure")
		}
		return
	}

	p.collector.RecordSuccess("outbox.publish")
	p.collector.IncrementCounter("outbox.published")

	// A crash between the broker ack above and this mark causes a
	// re-publication on the next poll. Consumers dedupe by event id.
	if markErr := p.store.MarkProcessed(ctx, record.ID); markErr != nil {
		log.Error().
			Err(markErr).
			Str("event_id", record.EventID.String()).
			Msg("Published event could not be marked processed, duplicate delivery expected")
	}

	log.Debug().
		Str("event_id", record.EventID.String()).
		Str("event_type", record.EventType).
		Msg("Outbox event published")
}

// sleep waits one poll interval; returns false when canceled.
func (p *Publisher) sleep(ctx context.Context) bool {
	select {
	case <-time.After(p.pollInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

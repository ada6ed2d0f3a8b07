package resilience

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/registry/services/customer/internal/search"
)

// Defaults applied by the wrappers. Publish and search calls made by the
// background workers go through these; call sites that skip the wrappers get
// no resilience.
const (
	DefaultAttempts      = 3
	DefaultBackoffStep   = 200 * time.Millisecond
	DefaultSearchTimeout = 3 * time.Second
)

// Retry invokes fn up to attempts times with linear backoff: after the n-th
// failure it waits n×step before the next try. The last error is returned
// when all attempts are exhausted. Cancellation interrupts the backoff wait.
func Retry(ctx context.Context, attempts int, step time.Duration, fn func(context.Context) error) error {
	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		log.Debug().Err(err).Int("attempt", attempt).Msg("retrying after transient failure")

		select {
		case <-time.After(time.Duration(attempt) * step):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

// Publisher is the broker-publish contract decorated by RetryingPublisher.
// It matches messaging.EventPublisher structurally.
type Publisher interface {
	Publish(ctx context.Context, eventType string, eventID uuid.UUID, body []byte) error
}

// RetryingPublisher decorates a broker publisher with the retry policy.
// No additional timeout is applied to publish calls.
type RetryingPublisher struct {
	next     Publisher
	attempts int
	step     time.Duration
}

// WrapPublisher decorates a broker publisher with the default retry policy
func WrapPublisher(next Publisher) *RetryingPublisher {
	return &RetryingPublisher{
		next:     next,
		attempts: DefaultAttempts,
		step:     DefaultBackoffStep,
	}
}

// Publish publishes with bounded retry
func (p *RetryingPublisher) Publish(ctx context.Context, eventType string, eventID uuid.UUID, body []byte) error {
	return Retry(ctx, p.attempts, p.step, func(ctx context.Context) error {
		return p.next.Publish(ctx, eventType, eventID, body)
	})
}

// ResilientSearch decorates a search client with retry plus a fixed
// per-attempt timeout.
type ResilientSearch struct {
	next     search.Client
	attempts int
	step     time.Duration
	timeout  time.Duration
}

// WrapSearch decorates a search client with the default retry and timeout policy
func WrapSearch(next search.Client) *ResilientSearch {
	return &ResilientSearch{
		next:     next,
		attempts: DefaultAttempts,
		step:     DefaultBackoffStep,
		timeout:  DefaultSearchTimeout,
	}
}

// UpsertCustomer upserts with bounded retry and timeout
func (s *ResilientSearch) UpsertCustomer(ctx context.Context, doc search.CustomerDocument) error {
	return Retry(ctx, s.attempts, s.step, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.next.UpsertCustomer(ctx, doc)
	})
}

// GetCustomer fetches with bounded retry and timeout
func (s *ResilientSearch) GetCustomer(ctx context.Context, id uuid.UUID) (*search.CustomerDocument, error) {
	var doc *search.CustomerDocument

	err := Retry(ctx, s.attempts, s.step, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var err error
		doc, err = s.next.GetCustomer(ctx, id)
		return err
	})

	return doc, err
}

// SearchByName searches with bounded retry and timeout
func (s *ResilientSearch) SearchByName(ctx context.Context, name string, limit int) ([]search.CustomerDocument, error) {
	var docs []search.CustomerDocument

	err := Retry(ctx, s.attempts, s.step, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var err error
		docs, err = s.next.SearchByName(ctx, name, limit)
		return err
	})

	return docs, err
}

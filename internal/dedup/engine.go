package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/registry/services/customer/config"
	"example.com/registry/services/customer/internal/events"
	"example.com/registry/services/customer/internal/metrics"
	"example.com/registry/services/customer/internal/models"
	"example.com/registry/services/customer/internal/outbox"
	"example.com/registry/services/customer/internal/repositories"
	"example.com/registry/services/customer/internal/search"
)

// Composite score weights. Name similarity dominates; email and phone are
// binary corroborating signals.
const (
	nameWeight  = 0.5
	emailWeight = 0.3
	phoneWeight = 0.2
)

// Engine scores a customer against index candidates and records duplicate
// suspicions. Suspicions and their outbox events are written in one
// transaction, so a committed suspicion always has its event and vice versa.
type Engine struct {
	db            *gorm.DB
	searcher      search.Client
	suspicions    *repositories.SuspicionRepository
	outbox        outbox.Writer
	collector     *metrics.Metrics
	threshold     float64
	maxCandidates int
}

// NewEngine creates a new deduplication engine
func NewEngine(
	db *gorm.DB,
	searcher search.Client,
	suspicions *repositories.SuspicionRepository,
	outboxWriter outbox.Writer,
	collector *metrics.Metrics,
	cfg config.DedupConfig,
) *Engine {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.85
	}

	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 20
	}

	return &Engine{
		db:            db,
		searcher:      searcher,
		suspicions:    suspicions,
		outbox:        outboxWriter,
		collector:     collector,
		threshold:     threshold,
		maxCandidates: maxCandidates,
	}
}

// Process checks a customer for likely duplicates. Candidates are retrieved
// by name, scored pairwise, and every candidate at or above the threshold is
// recorded as a suspicion and announced through the outbox.
func (e *Engine) Process(ctx context.Context, subject *models.Customer) error {
	start := time.Now()

	candidates, err := e.searcher.SearchByName(ctx, subject.Name, e.maxCandidates)
	if err != nil {
		e.collector.RecordError("dedup.process")
		return errors.Wrap(err, "failed to search duplicate candidates")
	}

	suspicions := e.scoreCandidates(subject, candidates)
	if len(suspicions) == 0 {
		e.collector.RecordSuccess("dedup.process")
		e.collector.RecordTimer("dedup.process", time.Since(start).Milliseconds())
		return nil
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.suspicions.CreateBatch(tx, suspicions); err != nil {
			return err
		}

		for i := range suspicions {
			if err := e.outbox.Enqueue(tx, events.NewSuspicionEvent(&suspicions[i], subject)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		e.collector.RecordError("dedup.process")
		return errors.Wrap(err, "failed to persist duplicate suspicions")
	}

	e.collector.RecordSuccess("dedup.process")
	e.collector.IncrementCounterBy("dedup.suspicions", int64(len(suspicions)))
	e.collector.RecordTimer("dedup.process", time.Since(start).Milliseconds())

	log.Info().
		Str("subject_id", subject.ID.String()).
		Int("suspicions", len(suspicions)).
		Msg("Duplicate suspicions recorded")

	return nil
}

// scoreCandidates scores the subject against every candidate and keeps those
// at or above the threshold. The subject's own index document is skipped.
func (e *Engine) scoreCandidates(subject *models.Customer, candidates []search.CustomerDocument) []models.DuplicateSuspicion {
	var suspicions []models.DuplicateSuspicion

	for _, candidate := range candidates {
		if candidate.ID == subject.ID {
			continue
		}

		score, reason := e.score(subject, candidate)
		if score < e.threshold {
			continue
		}

		suspicions = append(suspicions, models.DuplicateSuspicion{
			ID:          uuid.New(),
			SubjectID:   subject.ID,
			CandidateID: candidate.ID,
			Score:       score,
			Reason:      reason,
		})
	}

	return suspicions
}

// score computes the weighted composite score for one candidate pair along
// with a human-readable reason naming the matched signals.
func (e *Engine) score(subject *models.Customer, candidate search.CustomerDocument) (float64, string) {
	nameSim := NameSimilarity(subject.Name, candidate.Name)
	emailMatch := exactMatch(subject.Email, candidate.Email)
	phoneMatch := exactMatch(subject.Phone, candidate.Phone)

	score := nameWeight * nameSim
	signals := []string{fmt.Sprintf("name similarity %.2f", nameSim)}

	if emailMatch {
		score += emailWeight
		signals = append(signals, "email match")
	}
	if phoneMatch {
		score += phoneWeight
		signals = append(signals, "phone match")
	}

	return round2(score), strings.Join(signals, ", ")
}

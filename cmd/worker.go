package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/registry/services/customer/config"
	"example.com/registry/services/customer/internal/cache"
	"example.com/registry/services/customer/internal/database"
	"example.com/registry/services/customer/internal/dedup"
	"example.com/registry/services/customer/internal/dispatch"
	"example.com/registry/services/customer/internal/messaging"
	"example.com/registry/services/customer/internal/metrics"
	"example.com/registry/services/customer/internal/outbox"
	"example.com/registry/services/customer/internal/repositories"
	"example.com/registry/services/customer/internal/resilience"
	"example.com/registry/services/customer/internal/search"
	"example.com/registry/services/customer/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the outbox publisher and the event consumer that maintains the search projection and detects duplicate registrations`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, idempotency checks disabled")
		redisCache = cache.Disabled()
	}
	defer redisCache.Close()

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	defer tracer.Close()

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		return err
	}

	// Initialize metrics
	collector := metrics.NewMetrics()

	// Initialize broker connection and publishing channel
	broker, err := messaging.NewRabbitClient(cfg.Broker)
	if err != nil {
		return err
	}
	defer broker.Close()

	brokerPublisher, err := broker.NewPublisher()
	if err != nil {
		return err
	}
	defer brokerPublisher.Close()

	// Wire the pipeline: resilience-wrapped edges, outbox publisher,
	// deduplication engine, dispatcher.
	searcher := resilience.WrapSearch(elasticClient)
	store := outbox.NewGormStore(db)
	publisher := outbox.NewPublisher(store, resilience.WrapPublisher(brokerPublisher), collector, cfg.Publisher)

	customerRepo := repositories.NewCustomerRepository(db, readOnlyDB)
	suspicionRepo := repositories.NewSuspicionRepository(db, readOnlyDB)
	engine := dedup.NewEngine(db, searcher, suspicionRepo, store, collector, cfg.Dedup)
	dispatcher := dispatch.NewDispatcher(customerRepo, searcher, engine, redisCache, tracer, collector)

	// Start the outbox publisher
	g.Go(func() error {
		return publisher.Run(ctx)
	})

	// Start the event consumer
	g.Go(func() error {
		return broker.Consume(ctx, redisCache, dispatcher.Handle)
	})

	// Start the pipeline monitor job
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(time.Minute),
			gocron.NewTask(func() {
				pending, err := store.CountPending(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to count outbox backlog")
				} else {
					collector.SetGauge("outbox.pending", pending)
				}

				log.Info().
					Interface("metrics", collector.GetAllMetrics()).
					Msg("Pipeline metrics")
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

package cmd

import (
	"context"
	"os"

	"example.com/registry/services/customer/config"
	"example.com/registry/services/customer/internal/cache"
	"example.com/registry/services/customer/internal/database"
	"example.com/registry/services/customer/internal/metrics"
	"example.com/registry/services/customer/internal/outbox"
	"example.com/registry/services/customer/internal/services"
	"example.com/registry/services/customer/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var registerInput services.CustomerInput

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new customer",
	Long:  `Register a new customer; the created event is committed to the outbox in the same transaction and published by the worker`,
	RunE:  runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&registerInput.Name, "name", "", "customer display name (required)")
	registerCmd.Flags().StringVar(&registerInput.Email, "email", "", "customer email")
	registerCmd.Flags().StringVar(&registerInput.Phone, "phone", "", "customer phone number")
	registerCmd.Flags().StringVar(&registerInput.Document, "document", "", "customer document number")
	registerCmd.Flags().StringVar(&registerInput.Kind, "kind", "person", "customer kind (person or company)")
	registerCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	service, cleanup, err := newCustomerService(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	customer, err := service.CreateCustomer(context.Background(), registerInput)
	if err != nil {
		return err
	}

	log.Info().
		Str("customer_id", customer.ID.String()).
		Msg("Customer registered, event queued for publication")

	return nil
}

// newCustomerService wires the registration service for one-shot commands.
func newCustomerService(cfg config.Config) (*services.CustomerService, func(), error) {
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = cache.Disabled()
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		redisCache.Close()
		return nil, nil, err
	}

	service := services.NewCustomerService(
		db,
		readOnlyDB,
		outbox.NewGormStore(db),
		redisCache,
		tracer,
		metrics.NewMetrics(),
	)

	cleanup := func() {
		tracer.Close()
		redisCache.Close()
	}

	return service, cleanup, nil
}

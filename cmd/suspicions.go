package cmd

import (
	"context"
	"os"

	"example.com/registry/services/customer/config"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var suspicionsCmd = &cobra.Command{
	Use:   "suspicions <customer-id>",
	Short: "List duplicate suspicions for a customer",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuspicions,
}

func init() {
	rootCmd.AddCommand(suspicionsCmd)
}

func runSuspicions(cmd *cobra.Command, args []string) error {
	subjectID, err := uuid.Parse(args[0])
	if err != nil {
		return errors.Wrap(err, "invalid customer id")
	}

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

	suspicions, err := service.ListSuspicions(context.Background(), subjectID)
	if err != nil {
		return err
	}

	if len(suspicions) == 0 {
		log.Info().Str("customer_id", subjectID.String()).Msg("No duplicate suspicions recorded")
		return nil
	}

	for _, suspicion := range suspicions {
		log.Info().
			Str("candidate_id", suspicion.CandidateID.String()).
			Float64("score", suspicion.Score).
			Str("reason", suspicion.Reason).
			Time("recorded_at", suspicion.CreatedAt).
			Msg("Duplicate suspicion")
	}

	return nil
}

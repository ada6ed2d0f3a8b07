package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "customer",
	Short: "Customer registry event pipeline",
	Long: `Customer registry service: registration writes with a transactional outbox,
a background outbox publisher, and an event-driven worker that maintains the
search projection and detects duplicate registrations`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

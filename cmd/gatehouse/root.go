package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/logging"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Visitor gating console with operator approval",
	Long: `gatehouse holds visitors of a decoy page until an operator approves
or blocks them. It classifies and geolocates each visitor, pushes live
events to connected consoles and notifies the operator out of band.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

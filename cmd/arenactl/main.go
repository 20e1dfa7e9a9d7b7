// Command arenactl is the operator tool for the catalog cache and the chat
// quota. It reads the same environment (and .env file) as the service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"codearena/internal/common/logging"
	"codearena/internal/config"
)

type cli struct {
	cfg    *config.Config
	logger logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "arenactl",
		Short:         "codearena operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			c.cfg = config.Load()
			if err := c.cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.NewZapLogger(logging.LogConfig{
				Level:      logging.ParseLevel(c.cfg.LogLevel),
				Output:     cmd.ErrOrStderr(),
				TimeFormat: time.RFC3339,
				Name:       "arenactl",
			})
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
	}

	root.AddCommand(newCacheCmd(c), newQuotaCmd(c))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

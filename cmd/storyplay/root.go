package main

import (
	"fmt"
	"log/slog"
	"slices"

	"narrative-playout/internal/platform/config"
	"narrative-playout/internal/platform/logger"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	LogLevel string
	Format   string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "storyplay",
		Short: "Validate and simulate narrative stories",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			// A missing .env is fine.
			_ = config.Load()
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "error", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newSimulateCommand(opts))
	return cmd
}

// logger returns the command's logger. Logs go to stderr so stdout holds
// only the report.
func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	return logger.NewTo(cmd.ErrOrStderr(), o.LogLevel, "text")
}

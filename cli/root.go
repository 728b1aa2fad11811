package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yeremiapane/tablesync/config"
	"github.com/yeremiapane/tablesync/utils"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel  string
	LogFormat string

	cfg config.Config
}

// ValidFormats defines the allowed log formats.
var ValidFormats = []string{"text", "json"}

// Config returns the configuration loaded before the command ran.
func (o *RootOptions) Config() config.Config {
	return o.cfg
}

// NewRootCommand creates the tablesync root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tablesync",
		Short: "tablesync - shared table sessions and carts",
		Long: `Serves QR table sessions where everyone at a table edits one shared cart,
submits orders to the POS, and keeps staff dashboards in sync.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg = config.Load()
			if cmd.Flags().Changed("log-level") {
				opts.cfg.LogLevel = opts.LogLevel
			}
			if cmd.Flags().Changed("log-format") {
				opts.cfg.LogFormat = opts.LogFormat
			}
			if !isValidFormat(opts.cfg.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.cfg.LogFormat, ValidFormats)
			}
			utils.InitLogger(opts.cfg.LogLevel, opts.cfg.LogFormat)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewQRTokenCommand(opts))
	cmd.AddCommand(NewConsumeEventsCommand(opts))

	return cmd
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

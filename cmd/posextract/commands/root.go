package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"posextract/internal/config"
	"posextract/internal/infrastructure"
)

// errJobFailed makes the process exit 1 after the failure has been printed.
var errJobFailed = errors.New("job failed")

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "posextract",
		Short:         "posextract pulls daily sales out of the POS back-office.",
		Version:       config.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCmd(opts), newRunCmd(opts), newParseCmd(opts))
	return root
}

// ExecuteContext runs the CLI and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errJobFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// initLogger sets up the process logger. Commands that print to stdout pass
// quiet so console logs go to stderr instead.
func (o *rootOptions) initLogger(cfg config.LoggingConfig, quiet bool) (*slog.Logger, error) {
	if o.logLevel != "" {
		cfg.Level = o.logLevel
	}
	if quiet && (cfg.Output == "" || cfg.Output == "console" || cfg.Output == "both") {
		cfg.Output = "stderr"
	}
	logger, err := infrastructure.InitializeLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

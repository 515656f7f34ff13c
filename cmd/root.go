// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wrc-harvester/internal/app"
	"github.com/JakeFAU/wrc-harvester/internal/config"
	"github.com/JakeFAU/wrc-harvester/internal/logging"
	"github.com/JakeFAU/wrc-harvester/internal/stage"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application. Tests inject a fake.
type App interface {
	Runner() *stage.Runner
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// environment is the loaded configuration plus the logger built from it.
type environment struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		if a != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests and normalizes Workplace Relations Commission decisions.",
		Long: `harvester collects published WRC decisions and determinations.

The harvest stage searches the decisions site month by month and stores every
listing's documents in object storage. The normalize stage extracts the
decision body from stored documents into a processed bucket.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			env := &environment{cfg: cfg, logger: logger, app: appInstance}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, env))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVESTER_* env vars override it")

	cmd.AddCommand(newHarvestCmd(), newNormalizeCmd(), newServeCmd())
	return cmd
}

// close releases the application once the subcommand is done with it.
func (e *environment) close(ctx context.Context) {
	if err := e.app.Close(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("failed to close application", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func resolveEnv(ctx context.Context) (*environment, error) {
	env, ok := ctx.Value(appKey).(*environment)
	if !ok || env == nil {
		return nil, errors.New("application services not initialized")
	}
	return env, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}

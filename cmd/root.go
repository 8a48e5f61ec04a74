// Package cmd defines and implements the CLI commands for the competitor-watch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/app"
	"github.com/JakeFAU/competitor-watch/internal/config"
	"github.com/JakeFAU/competitor-watch/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

type rootOptions struct {
	cfgFile string
	envFile string

	// app is set once PersistentPreRunE has built it.
	app *app.App
}

// newApp is the application factory. Tests replace it to build against
// in-memory fakes.
var newApp = func(ctx context.Context, opts rootOptions) (*app.App, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. The returned function
// releases whatever application services the command built.
func newRootCmd() (*cobra.Command, func(context.Context)) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "competitor-watch",
		Short: "Crawls competitor websites and reports content, price and product changes.",
		Long: `competitor-watch crawls competitor websites politely, fingerprints every page
and raises alerts when content, prices or product listings change.`,
		SilenceUsage: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading CW_* variables (default .env when present)")

	cmd.AddCommand(
		newCrawlCmd(),
		newQuickFetchCmd(),
		newProbePricingCmd(),
		newServeCmd(),
		newMonitorCmd(),
		newCleanupCmd(),
	)

	closeApp := func(ctx context.Context) {
		if opts.app == nil {
			return
		}
		if err := opts.app.Close(ctx); err != nil {
			opts.app.Logger().Warn("shutdown finished with errors", zap.Error(err))
		}
		_ = opts.app.Logger().Sync()
		opts.app = nil
	}
	return cmd, closeApp
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	closeApp(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

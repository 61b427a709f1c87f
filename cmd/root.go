// Package cmd defines and implements the CLI commands for the filmratings
// executable.
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

	"github.com/JakeFAU/film-ratings-crawler/internal/api"
	"github.com/JakeFAU/film-ratings-crawler/internal/app"
	"github.com/JakeFAU/film-ratings-crawler/internal/config"
	"github.com/JakeFAU/film-ratings-crawler/internal/crawler"
	"github.com/JakeFAU/film-ratings-crawler/internal/importer"
	"github.com/JakeFAU/film-ratings-crawler/internal/logging"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
	"github.com/JakeFAU/film-ratings-crawler/internal/repair"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the service container. Tests inject
// their own through newApp.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Store() ratings.Store
	Crawler() (*crawler.Crawler, error)
	Repairer() *repair.Repairer
	Importer() *importer.Importer
	APIServer() *api.Server
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, app.WithLogger(logger))
}

// newRootCmd creates the root command. The returned cleanup closes whatever
// App the invoked subcommand built; it must run even when the command fails.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile  string
		instance App
		logger   *zap.Logger
	)
	cmd := &cobra.Command{
		Use:   "filmratings",
		Short: "Crawl, repair and serve the film ratings registry.",
		Long: `filmratings mirrors the public film ratings registry into a local
database. It crawls the registry year by year, backfills missing ratings
from their descriptors, and serves the result over a small JSON/CSV API.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			instance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newCrawlCmd(),
		newRepairCmd(),
		newImportCmd(),
		newExportCmd(),
		newServeCmd(),
	)

	cleanup := func() {
		if instance != nil {
			instance.Close(context.Background())
		}
		logging.Sync(logger)
	}
	return cmd, cleanup
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, cleanup := newRootCmd()
	err := root.ExecuteContext(ctx)
	cleanup()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

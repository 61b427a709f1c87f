package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/server"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API",
		Long: `Seeds an empty store from importer.csv_path when that file exists,
then serves /api/ratings, /api/export and /api/stats until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			logger := appInstance.Logger()

			res, err := appInstance.Importer().Seed(cmd.Context(), cfg.Importer.CSVPath)
			if err != nil {
				return fmt.Errorf("seed store: %w", err)
			}
			if res.Skipped == "" {
				logger.Info("store seeded", zap.Int("inserted", res.Inserted))
			}

			if port == 0 {
				port = cfg.Server.Port
			}
			return server.Run(cmd.Context(), appInstance.APIServer().Handler(), server.Config{
				Port:              port,
				ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
				ShutdownTimeout:   time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
			}, logger)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}

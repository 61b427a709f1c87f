package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/export"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	var (
		out string
		f   ratings.Filter
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write filtered records as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				// #nosec G304 -- the output path is an operator argument.
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer func() { _ = file.Close() }()
				w = file
			}
			n, err := export.Write(cmd.Context(), w, appInstance.Store(), f)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			appInstance.Logger().Info("export finished", zap.Int("rows", n), zap.String("out", out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&f.Search, "search", "", "title substring, case-insensitive")
	cmd.Flags().IntVar(&f.Year, "year", 0, "only this year")
	cmd.Flags().StringVar(&f.Rating, "rating", "", "only this rating")
	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newImportCmd creates the 'import' subcommand.
func newImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Seed an empty store from a CSV dump",
		Long: `Loads a seven-column CSV (cert_number, film_title, year, rating,
descriptors, alternate_titles, other_notes). Nothing is imported when the
store already holds records or the file does not exist.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if file == "" {
				file = appInstance.Config().Importer.CSVPath
			}
			res, err := appInstance.Importer().Seed(cmd.Context(), file)
			if err != nil {
				return fmt.Errorf("import %s: %w", file, err)
			}
			out := cmd.OutOrStdout()
			if res.Skipped != "" {
				_, _ = fmt.Fprintf(out, "Import skipped: %s\n", res.Skipped)
				return nil
			}
			_, _ = fmt.Fprintf(out, "Imported %d records (%d duplicates, %d rejected)\n",
				res.Inserted, res.Duplicates, res.Rejected)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file to import (default importer.csv_path)")
	return cmd
}

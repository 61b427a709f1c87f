package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/film-ratings-crawler/internal/repair"
)

// newRepairCmd creates the 'repair' subcommand.
func newRepairCmd() *cobra.Command {
	var auditOnly bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Backfill missing ratings from descriptors, then audit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			r := appInstance.Repairer()
			out := cmd.OutOrStdout()

			if !auditOnly {
				res, err := r.Run(cmd.Context())
				if err != nil {
					return fmt.Errorf("repair ratings: %w", err)
				}
				_, _ = fmt.Fprintf(out, "Fixed %d out of %d records\n", res.Fixed, res.Candidates)
				if res.Failed > 0 {
					_, _ = fmt.Fprintf(out, "%d updates failed\n", res.Failed)
				}
			}

			report, err := r.Audit(cmd.Context())
			if err != nil {
				return fmt.Errorf("audit ratings: %w", err)
			}
			printAudit(cmd, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&auditOnly, "audit-only", false, "report unrated records without changing anything")
	return cmd
}

func printAudit(cmd *cobra.Command, report repair.AuditReport) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Records still without a rating: %d\n", report.Count)
	for _, e := range report.Preview {
		_, _ = fmt.Fprintf(out, "  [%d] %s (%d): %s\n", e.ID, e.Title, e.Year, e.Descriptors)
	}
	if n := report.Remaining(); n > 0 {
		_, _ = fmt.Fprintf(out, "  ... and %d more\n", n)
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Fetch new registry listings",
		Long: `Crawls the registry from the latest stored year (or crawler.start_year)
through the current year, inserting every listing whose certificate number is
not stored yet. Interrupting the crawl is safe; the next run resumes from the
latest stored year.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	c, err := appInstance.Crawler()
	if err != nil {
		return err
	}

	summary, err := c.Run(cmd.Context())
	printCrawlSummary(cmd, summary)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			appInstance.Logger().Warn("crawl interrupted; rerun to resume", zap.Error(err))
			return nil
		}
		return fmt.Errorf("run crawler: %w", err)
	}
	return nil
}

func printCrawlSummary(cmd *cobra.Command, s crawler.Summary) {
	out := cmd.OutOrStdout()
	for _, y := range s.Years {
		line := fmt.Sprintf("%d: %d new, %d skipped, %d failed (%d pages)", y.Year, y.New, y.Skipped, y.Failed, y.Pages)
		if y.FetchError != "" {
			line += " stopped early: " + y.FetchError
		}
		_, _ = fmt.Fprintln(out, line)
	}
	_, _ = fmt.Fprintf(out, "Total: %d new, %d skipped, %d failed\n", s.New, s.Skipped, s.Failed)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// newCrawlCmd groups the one-shot crawl runs.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl and exits",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "backfill",
		Short: "Collects the full history of every uninitialized channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, func(ctx context.Context, c Crawler) (crawler.RunReport, error) {
				return c.RunBackfill(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "incremental",
		Short: "Catches every initialized channel up to its newest stored video",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, func(ctx context.Context, c Crawler) (crawler.RunReport, error) {
				return c.RunIncremental(ctx)
			})
		},
	})
	return cmd
}

func runCrawl(cmd *cobra.Command, run func(context.Context, Crawler) (crawler.RunReport, error)) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	report, err := run(cmd.Context(), appInstance.Crawler())
	if err != nil {
		appInstance.Logger().Error("crawl run failed", zap.String("run_id", report.RunID), zap.Error(err))
		if report.RunID != "" {
			_ = printJSON(cmd, report)
		}
		return fmt.Errorf("crawl run failed: %w", err)
	}
	return printJSON(cmd, report)
}

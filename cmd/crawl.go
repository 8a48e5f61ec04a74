package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one scan of a seed
// URL to completion.
func newCrawlCmd() *cobra.Command {
	var (
		competitorID string
		scanID       string
	)
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Runs one scan of a competitor website",
		Long: `Registers the competitor when it is unknown, then crawls from the seed URL
within the configured page budget and runs change detection on every page.
Pass --resume with the id of an interrupted scan to continue from its checkpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			runner := appInstance.Runner()

			var scan store.Scan
			if scanID == "" {
				competitor, err := appInstance.EnsureCompetitor(ctx, competitorID, args[0])
				if err != nil {
					return err
				}
				scan, err = runner.Create(ctx, competitor.ID)
				if err != nil {
					return fmt.Errorf("create scan: %w", err)
				}
			} else {
				scan.ID = scanID
			}
			appInstance.Logger().Info("crawl starting", zap.String("scan_id", scan.ID), zap.String("seed", args[0]))

			started := time.Now()
			res, runErr := runner.Run(ctx, scan.ID)
			final, err := appInstance.Repositories().Scans.GetScan(ctx, scan.ID)
			if err != nil {
				final = scan
			}
			if err := printJSON(cmd.OutOrStdout(), map[string]any{
				"scan":    final,
				"result":  res,
				"elapsed": time.Since(started).Round(time.Millisecond).String(),
			}); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("run scan: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&competitorID, "competitor", "", "competitor id (derived from the seed host when empty)")
	cmd.Flags().StringVar(&scanID, "resume", "", "resume the interrupted scan with this id")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

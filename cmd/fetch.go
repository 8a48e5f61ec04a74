package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newQuickFetchCmd creates the 'quickfetch' subcommand.
func newQuickFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quickfetch <url>",
		Short: "Fetches one page and prints its summary",
		Long: `Fetches a single URL outside any scan, honoring robots.txt and politeness,
and prints its title, fingerprint and outgoing links as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Executor().QuickFetch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("quickfetch: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

// newProbePricingCmd creates the 'probe-pricing' subcommand.
func newProbePricingCmd() *cobra.Command {
	var competitorID string
	cmd := &cobra.Command{
		Use:   "probe-pricing <origin>",
		Short: "Checks conventional pricing pages for price changes",
		Long: `Quick-fetches the origin's root and conventional pricing paths such as
/pricing and /plans, and runs price change detection on every page that answers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			competitor, err := appInstance.EnsureCompetitor(cmd.Context(), competitorID, args[0])
			if err != nil {
				return err
			}
			res, err := appInstance.Executor().ProbePricing(cmd.Context(), competitor.ID, args[0])
			if err != nil {
				return fmt.Errorf("probe pricing: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"competitor_id": competitor.ID,
				"found":         res.Found(),
				"result":        res,
			})
		},
	}
	cmd.Flags().StringVar(&competitorID, "competitor", "", "competitor id (derived from the origin host when empty)")
	return cmd
}

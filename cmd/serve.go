package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the ops HTTP server, scan workers and monitor loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}

// newMonitorCmd creates the 'monitor' subcommand.
func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Scans every active, monitored competitor once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Runner().MonitorAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("monitor: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

// newCleanupCmd creates the 'cleanup' subcommand.
func newCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Deletes scans older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be > 0")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			deleted, err := appInstance.Runner().Cleanup(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": deleted, "days": days})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "delete scans created more than this many days ago")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/netpulse/internal/stats"
)

func init() {
	recordsCmd := &cobra.Command{
		Use:   "records",
		Short: "Show a tab's request records and statistics",
		RunE:  runRecords,
	}
	recordsCmd.Flags().IntP("tab", "t", 0, "Tab ID (required)")
	recordsCmd.Flags().String("page", "", "Page URL to label the statistics with")
	recordsCmd.Flags().Bool("stats-only", false, "Print only the statistics")
	recordsCmd.MarkFlagRequired("tab")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a tab's records",
		RunE:  runClear,
	}
	clearCmd.Flags().IntP("tab", "t", 0, "Tab ID (required)")
	clearCmd.MarkFlagRequired("tab")

	RootCmd.AddCommand(recordsCmd, clearCmd)
}

func runRecords(cmd *cobra.Command, args []string) error {
	tab, _ := cmd.Flags().GetInt("tab")
	page, _ := cmd.Flags().GetString("page")
	statsOnly, _ := cmd.Flags().GetBool("stats-only")

	return withApp(cmd, nil, func(a *app) error {
		m, err := a.tracker.GetRecords(cmd.Context(), tab)
		if err != nil {
			return fmt.Errorf("records: %w", err)
		}
		records := stats.Records(m)
		summary := stats.Compute(page, records)

		if statsOnly {
			printJSON(cmd.OutOrStdout(), summary)
			return nil
		}
		printJSON(cmd.OutOrStdout(), map[string]any{
			"tabId":      tab,
			"records":    records,
			"statistics": summary,
		})
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	tab, _ := cmd.Flags().GetInt("tab")

	return withApp(cmd, nil, func(a *app) error {
		if err := a.tracker.ClearRecords(cmd.Context(), tab); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"tabId":%d}`+"\n", tab)
		return nil
	})
}

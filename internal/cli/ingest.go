package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/netpulse/internal/tracker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Apply browser lifecycle events from a file or stdin",
		Long: "Apply newline-delimited JSON events (start, headers, completed, error, tab_closed, " +
			"or the webRequest listener names) and persist the resulting records. " +
			"Lines that are not valid events are logged and skipped.",
		Args: cobra.MaximumNArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().Bool("notify", true, "Print completion/failure notifications as NDJSON")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	notify, _ := cmd.Flags().GetBool("notify")

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open events: %w", err)
		}
		defer f.Close()
		in = f
	}

	var notifier tracker.Notifier
	if notify {
		notifier = tracker.NewWriterNotifier(cmd.OutOrStdout(), nil)
	}

	return withApp(cmd, notifier, func(a *app) error {
		applied, err := a.tracker.Run(cmd.Context(), tracker.NewDecoderSource(in))
		if err != nil {
			return fmt.Errorf("ingest after %d events: %w", applied, err)
		}
		if err := a.tracker.Flush(cmd.Context()); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), `{"ok":true,"applied":%d,"tabs":%d}`+"\n", applied, len(a.tracker.Tabs()))
		return nil
	})
}

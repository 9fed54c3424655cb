package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rcliao/netpulse/internal/kv"
)

func init() {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Durable store maintenance",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE:  runStoreStats,
	}
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored keys as JSON",
		Long:  "Export stored keys and values as JSON. Filter by key prefix with -p.",
		RunE:  runStoreExport,
	}
	exportCmd.Flags().StringP("prefix", "p", "", "Only keys with this prefix")
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import keys from JSON",
		Long:  "Import keys from JSON on stdin. Expects the format produced by export.",
		RunE:  runStoreImport,
	}

	storeCmd.AddCommand(statsCmd, exportCmd, importCmd)
	RootCmd.AddCommand(storeCmd)
}

func openStore() (kv.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return kv.Open(cfg.Store)
}

func runStoreStats(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	st, err := kv.Describe(cmd.Context(), s)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	printJSON(cmd.OutOrStdout(), st)
	return nil
}

func runStoreExport(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")

	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	entries, err := kv.Export(cmd.Context(), s, prefix)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	printJSON(cmd.OutOrStdout(), entries)
	return nil
}

func runStoreImport(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	var entries []kv.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}

	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	imported, err := kv.Import(cmd.Context(), s, entries)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d}`+"\n", imported)
	return nil
}

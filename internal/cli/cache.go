package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the analysis result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry count, age range and size",
		RunE:  runCacheStats,
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached analysis",
		RunE:  runCacheClear,
	}
	evictCmd := &cobra.Command{
		Use:   "evict",
		Short: "Trim the cache to the configured capacity, least recently used first",
		RunE:  runCacheEvict,
	}

	cacheCmd.AddCommand(statsCmd, clearCmd, evictCmd)
	RootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(a *app) error {
		printJSON(cmd.OutOrStdout(), a.cache.Stats())
		return nil
	})
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(a *app) error {
		if err := a.cache.Clear(cmd.Context()); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true}`)
		return nil
	})
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(a *app) error {
		n := a.cache.EvictIfOverCapacity(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"evicted":%d}`+"\n", n)
		return nil
	})
}

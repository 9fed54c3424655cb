package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/netpulse/internal/chunker"
	"github.com/rcliao/netpulse/internal/provider"
	"github.com/rcliao/netpulse/internal/stats"
)

func init() {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Ask an AI provider to analyze a tab's network performance",
		Long: "Summarize the tab's records and send them to the configured provider. " +
			"Identical summaries within the cache TTL are answered from the cache.",
		RunE: runAnalyze,
	}

	cmd.Flags().IntP("tab", "t", 0, "Tab ID (required)")
	cmd.Flags().String("page", "", "Page URL included in the summary")
	cmd.Flags().StringP("provider", "p", "", "Provider: openai, anthropic, deepseek, gemini")
	cmd.Flags().StringP("model", "m", "", "Model (default: provider default)")
	cmd.Flags().StringP("lang", "l", "", "Response language: en or zh")
	cmd.Flags().String("api-key", "", "API key (default: ai.api_key / $NETPULSE_AI_API_KEY)")
	cmd.Flags().String("endpoint", "", "Endpoint URL overriding the provider default")
	cmd.Flags().Int("max-tokens", 0, "Max response tokens")
	cmd.Flags().String("focus", "", "Extra instruction appended to the prompt")
	cmd.Flags().Bool("stream", false, "Print the analysis as it arrives")
	cmd.Flags().Bool("sections", false, "Print the analysis split into sections as JSON")
	cmd.MarkFlagRequired("tab")

	RootCmd.AddCommand(cmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	tab, _ := cmd.Flags().GetInt("tab")
	page, _ := cmd.Flags().GetString("page")
	providerName, _ := cmd.Flags().GetString("provider")
	modelName, _ := cmd.Flags().GetString("model")
	lang, _ := cmd.Flags().GetString("lang")
	apiKey, _ := cmd.Flags().GetString("api-key")
	endpoint, _ := cmd.Flags().GetString("endpoint")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	focus, _ := cmd.Flags().GetString("focus")
	stream, _ := cmd.Flags().GetBool("stream")
	sections, _ := cmd.Flags().GetBool("sections")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	return withApp(cmd, nil, func(a *app) error {
		ai := a.cfg.AI
		if providerName == "" {
			providerName = ai.Provider
		}
		id, err := provider.ParseID(providerName)
		if err != nil {
			return err
		}
		if lang == "" {
			lang = ai.Language
		}
		if modelName == "" {
			modelName = ai.Model
		}
		if apiKey == "" {
			apiKey = ai.APIKey
		}
		if endpoint == "" {
			endpoint = ai.Endpoint
		}
		if maxTokens <= 0 {
			maxTokens = ai.MaxTokens
		}

		m, err := a.tracker.GetRecords(ctx, tab)
		if err != nil {
			return fmt.Errorf("records: %w", err)
		}
		if len(m) == 0 {
			return fmt.Errorf("no records for tab %d", tab)
		}

		req := provider.Request{
			Provider:  id,
			Model:     modelName,
			APIKey:    apiKey,
			Language:  lang,
			Endpoint:  endpoint,
			MaxTokens: maxTokens,
			Data: provider.AnalysisData{
				Statistics: stats.Compute(page, stats.Records(m)),
				Focus:      focus,
			},
		}

		out := cmd.OutOrStdout()
		if stream && !sections {
			res, err := a.client.Stream(ctx, req, func(delta, _ string) {
				fmt.Fprint(out, delta)
			})
			fmt.Fprintln(out)
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "-- %s, %s\n", res.Provider, res.Model)
			return nil
		}

		res, err := a.client.Send(ctx, req)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		if sections {
			printJSON(out, map[string]any{
				"provider": res.Provider,
				"model":    res.Model,
				"sections": chunker.Sections(res.Analysis, chunker.Options{}),
			})
			return nil
		}
		printJSON(out, res)
		return nil
	})
}

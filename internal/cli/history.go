package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyHash  string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent analyses from the history database",
	Long: `History lists analyses recorded by analyze and batch, newest first,
followed by aggregate statistics.

Example:
  micr history
  micr history --limit 50
  micr history --hash 3f2a...`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of analyses to show")
	historyCmd.Flags().StringVar(&historyHash, "hash", "", "show the stored analysis for one image hash (with --model, default from config)")
	historyCmd.Flags().StringVar(&llmModel, "model", "", "model name for --hash lookups")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if historyHash != "" {
		modelName := llmModel
		if modelName == "" {
			modelName = cfg.LLM.Model
		}
		result, err := st.GetByHash(ctx, historyHash, modelName)
		if err != nil {
			return err
		}
		if result == nil {
			fmt.Fprintf(out, "No analysis stored for %s with model %s\n", historyHash, modelName)
			return nil
		}
		newRenderer(cmd).RenderSummary(result)
		return nil
	}

	results, err := st.ListRecent(ctx, historyLimit)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Fprintf(out, "No analyses recorded in %s\n", cfg.Store.Path)
		return nil
	}

	fmt.Fprintf(out, "%-19s  %-12s  %-18s  %8s  %-10s  %s\n", "ANALYZED", "HASH", "MODEL", "OVERALL", "STATUS", "SOURCE")
	for _, r := range results {
		status := "incomplete"
		switch {
		case !r.Success:
			status = "failed"
		case r.IsComplete():
			status = "complete"
		}
		fmt.Fprintf(out, "%-19s  %-12s  %-18s  %7.1f%%  %-10s  %s\n",
			r.AnalyzedAt.Local().Format("2006-01-02 15:04:05"),
			shortHash(r.ImageHash),
			r.LLM.Model,
			r.OverallConfidence()*100,
			status,
			r.Source,
		)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "  Total:            %d\n", stats.Total)
	fmt.Fprintf(out, "  Success:          %d\n", stats.Succeeded)
	fmt.Fprintf(out, "  Complete:         %d\n", stats.Complete)
	fmt.Fprintf(out, "  Mean confidence:  %.1f%%\n", stats.MeanConfidence*100)

	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

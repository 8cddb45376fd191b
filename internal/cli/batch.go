package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/micr/internal/model"
	"github.com/ppiankov/micr/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	outCSV       string
	batchTimeout time.Duration
	noReports    bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file|dir>",
	Short: "Analyze many cheque images concurrently",
	Long: `Batch analyzes every image in a directory, or every path/URL listed in a
text file (one per line), using a pool of workers. Provider calls are
rate limited per endpoint.

Each image gets its own JSON and Markdown report in the output directory,
plus a summary.json for the run. Use --csv for one row per image.

Example:
  micr batch ./scans
  micr batch cheques.txt --concurrency 8 --output-dir ./reports
  micr batch ./scans --csv results.csv --no-reports`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "number of concurrent workers (default from config)")
	batchCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "output directory for reports (default from config)")
	batchCmd.Flags().StringVar(&outCSV, "csv", "", "write a CSV with one row per image (optional)")
	batchCmd.Flags().BoolVar(&noReports, "no-reports", false, "skip per-image JSON/Markdown reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "overall batch timeout")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable response cache (force fresh model calls)")
	batchCmd.Flags().BoolVar(&noStore, "no-store", false, "do not record analyses in the history database")
	batchCmd.Flags().StringVar(&llmProvider, "provider", "", "LLM provider (openai, anthropic, ollama); overrides config")
	batchCmd.Flags().StringVar(&llmModel, "model", "", "LLM model name; overrides config")
}

func runBatch(cmd *cobra.Command, args []string) error {
	input := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	if concurrency > 0 {
		cfg.Concurrency.Workers = concurrency
	}
	if outputDir == "" {
		outputDir = cfg.Output.Dir
	}

	analyzer, responses, cleanup, err := newAnalyzer(ctx, cfg, runOptions{
		provider: llmProvider,
		model:    llmModel,
		noCache:  noCache,
		noStore:  noStore,
	})
	defer cleanup()
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	workers := cfg.Concurrency.Workers

	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "  MICR Batch Processing\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "  Input:        %s\n", input)
	fmt.Fprintf(stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(stderr, "  Provider:     %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintf(stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return eris.Wrap(err, "create output directory")
	}

	threshold := cfg.Output.LowConfidenceThreshold
	processor := worker.NewBatchProcessor(analyzer, workers).
		OnProgress(func(done, total int, r *worker.AnalyzeResult) {
			fmt.Fprintf(stderr, "[%d/%d] %s\n", done, total, progressLine(r, threshold))
		})

	info, err := os.Stat(input)
	if err != nil {
		return eris.Wrapf(err, "stat %s", input)
	}

	fmt.Fprintf(stderr, "⚙️  Processing images with %d workers...\n\n", workers)

	start := time.Now()
	var results []*worker.AnalyzeResult
	if info.IsDir() {
		results, err = processor.ProcessDir(ctx, input)
	} else {
		results, err = processor.ProcessFile(ctx, input)
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	renderer := newRenderer(cmd)
	analyzed := make([]*model.MICRResult, 0, len(results))

	for _, r := range results {
		if r.Error != nil {
			continue
		}
		analyzed = append(analyzed, r.Result)

		if noReports {
			continue
		}
		stem := filepath.Join(outputDir, reportStem(r.Index, r.Source))
		if err := renderer.RenderJSON(r.Result, stem+".json"); err != nil {
			fmt.Fprintf(stderr, "✗ %s: failed to write JSON: %v\n", r.Source, err)
			continue
		}
		if err := renderer.RenderMarkdown(r.Result, stem+".md"); err != nil {
			fmt.Fprintf(stderr, "✗ %s: failed to write Markdown: %v\n", r.Source, err)
		}
	}

	if outCSV != "" {
		if err := renderer.RenderCSVFile(analyzed, outCSV); err != nil {
			return err
		}
	}

	summary := worker.Summarize(results, cfg.Output.LowConfidenceThreshold, elapsed)
	if err := writeSummary(filepath.Join(outputDir, "summary.json"), summary); err != nil {
		return err
	}

	// Summary
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "  Batch Complete\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "  Run:              %s\n", summary.RunID)
	fmt.Fprintf(stderr, "  Total:            %d images\n", summary.Total)
	fmt.Fprintf(stderr, "  Success:          %d (%d complete)\n", summary.Succeeded, summary.Complete)
	fmt.Fprintf(stderr, "  Failures:         %d\n", summary.Failed)
	fmt.Fprintf(stderr, "  Cached:           %d\n", summary.Cached)
	if responses != nil {
		stats := responses.Stats()
		fmt.Fprintf(stderr, "  Cache lookups:    %d memory, %d disk, %d miss\n", stats.MemoryHits, stats.DiskHits, stats.Misses)
	}
	fmt.Fprintf(stderr, "  Low confidence:   %d\n", summary.LowConfidence)
	fmt.Fprintf(stderr, "  Mean confidence:  %.1f%%\n", summary.MeanConfidence*100)
	fmt.Fprintf(stderr, "  Duration:         %v\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(stderr, "  Output:           %s\n", outputDir)
	if outCSV != "" {
		fmt.Fprintf(stderr, "  CSV:              %s\n", outCSV)
	}
	fmt.Fprintf(stderr, "\n")

	return nil
}

func writeSummary(path string, summary worker.Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal summary")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}

// progressLine describes one finished image
func progressLine(r *worker.AnalyzeResult, lowConfidence float64) string {
	switch {
	case r.Error != nil:
		return fmt.Sprintf("✗ %s: %v", r.Source, r.Error)
	case !r.Result.Success:
		return fmt.Sprintf("✗ %s: %s", r.Source, r.Result.ErrorMessage)
	case r.Result.OverallConfidence() < lowConfidence:
		return fmt.Sprintf("⚠ %s (overall %.1f%%, low confidence)", r.Source, r.Result.OverallConfidence()*100)
	default:
		return fmt.Sprintf("✓ %s (overall %.1f%%)", r.Source, r.Result.OverallConfidence()*100)
	}
}

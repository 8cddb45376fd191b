package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// errAnalysisFailed is returned when the model could not read a MICR line
var errAnalysisFailed = eris.New("analysis failed")

var (
	outJSON     string
	outMD       string
	timeout     time.Duration
	llmProvider string
	llmModel    string
	noCache     bool
	noStore     bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Read the MICR line of one cheque image and score each component",
	Long: `Analyze sends one cheque image (local file or http(s) URL) to the
configured vision model and:
- Extracts transit, institution, account and cheque numbers
- Aligns every value with the token log-probabilities of the completion
- Validates formats and the institution registry
- Combines the three signals into a per-component confidence

Example:
  micr analyze cheque.png
  micr analyze cheque.png --json result.json --md result.md
  micr analyze https://example.com/scan.jpg --provider anthropic
  micr analyze cheque.png --provider ollama --model llama3.2-vision`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	// Output flags
	analyzeCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (optional)")
	analyzeCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")

	// Run flags
	analyzeCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall analysis timeout")
	analyzeCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable response cache (force a fresh model call)")
	analyzeCmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the analysis in the history database")

	// LLM flags
	analyzeCmd.Flags().StringVar(&llmProvider, "provider", "", "LLM provider (openai, anthropic, ollama); overrides config")
	analyzeCmd.Flags().StringVar(&llmModel, "model", "", "LLM model name; overrides config")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	source := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	stderr := cmd.ErrOrStderr()

	analyzer, _, cleanup, err := newAnalyzer(ctx, cfg, runOptions{
		provider: llmProvider,
		model:    llmModel,
		noCache:  noCache,
		noStore:  noStore,
	})
	defer cleanup()
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(stderr, "Analyzing: %s\n", source)
		fmt.Fprintf(stderr, "Provider:  %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Fprintf(stderr, "Cache:     %v\n", cfg.Cache.Enabled && !noCache)
		fmt.Fprintln(stderr)
	}

	result, err := analyzer.Analyze(ctx, source)
	if err != nil {
		return err
	}

	renderer := newRenderer(cmd)
	renderer.RenderSummary(result)

	if err := writeReports(cmd, renderer, result, outJSON, outMD); err != nil {
		return err
	}

	if !result.Success {
		return errAnalysisFailed
	}
	return nil
}

package cli

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/micr/internal/llm"
)

var (
	scoreJSON     string
	scoreMD       string
	scoreProvider string
)

// scoreCmd represents the score command
var scoreCmd = &cobra.Command{
	Use:   "score <response.json|->",
	Short: "Score a saved model response without calling a provider",
	Long: `Score re-runs parsing, log-probability alignment, validation and
confidence combination on a completion captured earlier. No image is
loaded and no provider is called, so it is useful for tuning weights
and validation rules against a fixed set of responses.

Accepted inputs:
- {"content": "...", "tokens": [{"token": "...", "logprob": -0.01}, ...]}
- a raw OpenAI chat completion body requested with logprobs: true

Use "-" to read from stdin.

Example:
  micr score response.json
  micr score completion.json --json scored.json
  cat completion.json | micr score -`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringVar(&scoreJSON, "json", "", "output JSON path (optional)")
	scoreCmd.Flags().StringVar(&scoreMD, "md", "", "output Markdown path (optional)")
	scoreCmd.Flags().StringVar(&scoreProvider, "provider", "", "provider name recorded in the result (default from config)")
}

func runScore(cmd *cobra.Command, args []string) error {
	path := args[0]

	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	resp, err := llm.DecodeSavedResponse(data)
	if err != nil {
		return err
	}

	provider := scoreProvider
	if provider == "" {
		provider = cfg.LLM.Provider
	}

	result := newEvaluator(cfg).Evaluate(resp, provider, cfg.LLM.Model)
	result.Source = path

	renderer := newRenderer(cmd)
	renderer.RenderSummary(result)

	if err := writeReports(cmd, renderer, result, scoreJSON, scoreMD); err != nil {
		return err
	}

	if !result.Success {
		return errAnalysisFailed
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, eris.Wrap(err, "read stdin")
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/micr/internal/model"
	"github.com/ppiankov/micr/internal/pipeline"
)

func newRenderer(cmd *cobra.Command) *pipeline.Renderer {
	return pipeline.NewRenderer(cmd.OutOrStdout(), cfg.Output.LowConfidenceThreshold)
}

// writeReports renders the optional JSON and Markdown files for one result
func writeReports(cmd *cobra.Command, renderer *pipeline.Renderer, result *model.MICRResult, jsonPath, mdPath string) error {
	stderr := cmd.ErrOrStderr()

	if jsonPath != "" {
		if err := renderer.RenderJSON(result, jsonPath); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "✓ JSON report: %s\n", jsonPath)
	}
	if mdPath != "" {
		if err := renderer.RenderMarkdown(result, mdPath); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "✓ Markdown report: %s\n", mdPath)
	}
	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"&", "_",
	"=", "_",
	" ", "-",
)

// sanitizeFilename turns an image path or URL into a safe report file stem
func sanitizeFilename(s string) string {
	s = strings.TrimRight(s, "/")
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = filepath.Base(filepath.ToSlash(s))
	s = strings.TrimSuffix(s, filepath.Ext(s))
	s = filenameReplacer.Replace(s)
	s = strings.Trim(s, ".-_")

	if s == "" {
		s = "image"
	}

	// Limit length
	if len(s) > 100 {
		s = s[:100]
	}

	return s
}

// reportStem names the reports of the index-th batch entry; the index keeps
// same-named images from different directories apart
func reportStem(index int, source string) string {
	return fmt.Sprintf("%04d-%s", index+1, sanitizeFilename(source))
}

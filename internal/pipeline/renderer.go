package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ppiankov/micr/internal/model"
)

// Renderer writes analysis results as JSON, Markdown, CSV and console text
type Renderer struct {
	out           io.Writer
	lowConfidence float64
}

// NewRenderer creates a renderer; console output goes to out
func NewRenderer(out io.Writer, lowConfidence float64) *Renderer {
	if out == nil {
		out = os.Stdout
	}
	return &Renderer{out: out, lowConfidence: lowConfidence}
}

// RenderJSON writes the result as indented JSON to path
func (r *Renderer) RenderJSON(result *model.MICRResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return eris.Wrap(err, "render: marshal JSON")
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes a Markdown report to path
func (r *Renderer) RenderMarkdown(result *model.MICRResult, path string) error {
	return writeFile(path, []byte(r.Markdown(result)))
}

// Markdown renders a human-readable report
func (r *Renderer) Markdown(result *model.MICRResult) string {
	var b strings.Builder

	b.WriteString("# MICR Analysis\n\n")
	fmt.Fprintf(&b, "- **Source:** %s\n", result.Source)
	fmt.Fprintf(&b, "- **Analyzed:** %s\n", result.AnalyzedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "- **Model:** %s / %s\n", result.LLM.Provider, result.LLM.Model)
	fmt.Fprintf(&b, "- **Logprob tokens:** %d\n", result.LLM.LogprobTokens)
	if result.Cached {
		b.WriteString("- **Cached response:** yes\n")
	}
	b.WriteString("\n")

	if !result.Success {
		fmt.Fprintf(&b, "**Analysis failed:** %s\n", result.ErrorMessage)
		return b.String()
	}

	fmt.Fprintf(&b, "## Raw line\n\n```\n%s\n```\n\n", result.RawLine)
	fmt.Fprintf(&b, "**Overall confidence:** %s", percent(result.OverallConfidence()))
	if result.IsComplete() {
		b.WriteString(" (complete)\n\n")
	} else {
		b.WriteString(" (incomplete)\n\n")
	}

	b.WriteString("## Components\n\n")
	b.WriteString("| Field | Value | LLM | Logprob | Validation | Combined | Alignment |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, kind := range model.AllFieldKinds {
		c := result.Component(kind)
		if c == nil {
			continue
		}
		conf := c.Confidence
		logprob := percent(conf.LogprobConfidence)
		if conf.Renormalized {
			logprob = "n/a"
		}
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %s | **%s** | %s |\n",
			kind.Label(), c.Value,
			percent(conf.LLMConfidence), logprob, percent(conf.ValidationConfidence),
			percent(conf.Combined), conf.Strategy)
	}
	b.WriteString("\n")

	if v := result.Validation; v != nil && (len(v.Errors) > 0 || len(v.Warnings) > 0) {
		b.WriteString("## Validation\n\n")
		for _, e := range v.Errors {
			fmt.Fprintf(&b, "- ❌ %s\n", e)
		}
		for _, w := range v.Warnings {
			fmt.Fprintf(&b, "- ⚠️ %s\n", w)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// csvFields are the components given their own CSV columns
var csvFields = []model.FieldKind{model.FieldTransit, model.FieldInstitution, model.FieldAccount, model.FieldCheque}

var csvHeader = []string{
	"source", "image_hash", "success", "raw_line",
	"transit", "transit_confidence",
	"institution", "institution_confidence",
	"account", "account_confidence",
	"cheque", "cheque_confidence",
	"overall_confidence", "complete", "valid", "cached", "error",
}

// RenderCSV writes one row per result
func (r *Renderer) RenderCSV(w io.Writer, results []*model.MICRResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "render: write CSV header")
	}

	for _, result := range results {
		if result == nil {
			continue
		}
		row := []string{
			result.Source,
			result.ImageHash,
			strconv.FormatBool(result.Success),
			result.RawLine,
		}
		for _, kind := range csvFields {
			c := result.Component(kind)
			if c == nil {
				row = append(row, "", "")
				continue
			}
			row = append(row, c.Value, formatFloat(c.Combined()))
		}
		row = append(row,
			formatFloat(result.OverallConfidence()),
			strconv.FormatBool(result.IsComplete()),
			strconv.FormatBool(result.Validation != nil && result.Validation.IsValid),
			strconv.FormatBool(result.Cached),
			result.ErrorMessage,
		)
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "render: write CSV row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "render: flush CSV")
}

// RenderCSVFile writes the CSV report to path
func (r *Renderer) RenderCSVFile(results []*model.MICRResult, path string) error {
	var b strings.Builder
	if err := r.RenderCSV(&b, results); err != nil {
		return err
	}
	return writeFile(path, []byte(b.String()))
}

// RenderSummary prints a console summary of one result
func (r *Renderer) RenderSummary(result *model.MICRResult) {
	w := r.out

	fmt.Fprintf(w, "\n%s\n", result.Source)
	if !result.Success {
		fmt.Fprintf(w, "  ✗ Analysis failed: %s\n", result.ErrorMessage)
		return
	}

	fmt.Fprintf(w, "  MICR line: %s\n", result.RawLine)
	for _, kind := range model.AllFieldKinds {
		c := result.Component(kind)
		if c == nil {
			continue
		}
		mark := "✓"
		switch {
		case !c.Confidence.ValidationPassed:
			mark = "✗"
		case c.Combined() < r.lowConfidence:
			mark = "⚠"
		}
		fmt.Fprintf(w, "  %s %-12s %-22s %6s  (llm %s, logprob %s, %s)\n",
			mark, kind.Label()+":", c.Value, percent(c.Combined()),
			percent(c.Confidence.LLMConfidence), logprobLabel(c.Confidence), c.Confidence.Strategy)
	}

	fmt.Fprintf(w, "  Overall: %s", percent(result.OverallConfidence()))
	if result.IsComplete() {
		fmt.Fprint(w, " (complete)")
	} else {
		fmt.Fprint(w, " (incomplete)")
	}
	if result.Cached {
		fmt.Fprint(w, " [cached]")
	}
	fmt.Fprintln(w)

	if v := result.Validation; v != nil {
		for _, e := range v.Errors {
			fmt.Fprintf(w, "  ✗ %s\n", e)
		}
		for _, warn := range v.Warnings {
			fmt.Fprintf(w, "  ⚠ %s\n", warn)
		}
	}
}

func logprobLabel(b model.ConfidenceBreakdown) string {
	if b.Renormalized {
		return "n/a"
	}
	return percent(b.LogprobConfidence)
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrap(err, "render: create output dir")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "render: write %s", path)
	}
	return nil
}

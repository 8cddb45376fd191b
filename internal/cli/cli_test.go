package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/micr/internal/cache"
	"github.com/ppiankov/micr/internal/config"
	"github.com/ppiankov/micr/internal/llm"
	"github.com/ppiankov/micr/internal/model"
	"github.com/ppiankov/micr/internal/store"
	"github.com/ppiankov/micr/internal/worker"
)

// isolate points HOME and the working directory at a temp dir so no real
// config, .env or history database is read
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OLLAMA_BASE_URL", "")

	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

// run executes the command tree with fresh flag values
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgFile, verbose = "", false
	scoreJSON, scoreMD, scoreProvider = "", "", ""
	institutionsJSON, forceInit = false, false
	historyLimit, historyHash, llmModel = 20, "", ""

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), err
}

func tok(s string, lp float64) model.TokenLogprob {
	return model.TokenLogprob{Token: s, Logprob: lp}
}

func writeResponse(t *testing.T, dir string, tokens []model.TokenLogprob) string {
	t.Helper()
	data, err := json.Marshal(llm.ExtractResponse{
		Content: model.JoinTokens(tokens),
		Tokens:  tokens,
		Model:   "gpt-4o-2024-08-06",
	})
	require.NoError(t, err)

	path := filepath.Join(dir, "response.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cheque.png", "cheque"},
		{"scans/2024/cheque 01.jpeg", "cheque-01"},
		{"https://example.com/scans/cheque.png?sig=a&b=c", "cheque"},
		{"https://example.com/scans/", "scans"},
		{`C:\scans\cheque.png`, "C__scans_cheque"},
		{"???.png", "image"},
		{"", "image"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}

	long := sanitizeFilename(string(bytes.Repeat([]byte("a"), 300)) + ".png")
	assert.Len(t, long, 100)
}

func TestReportStem(t *testing.T) {
	assert.Equal(t, "0001-cheque", reportStem(0, "a/cheque.png"))
	assert.Equal(t, "0012-cheque", reportStem(11, "b/cheque.png"))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "****", maskSecret("sk-1234"))
	assert.Equal(t, "****wxyz", maskSecret("sk-abcdefghwxyz"))
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"analyze", "batch", "score", "institutions", "history", "config", "cache", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	for _, name := range []string{"analyze", "batch"} {
		cmd, _, _ := rootCmd.Find([]string{name})
		for _, flag := range []string{"provider", "model", "no-cache", "no-store"} {
			assert.NotNil(t, cmd.Flags().Lookup(flag), "%s --%s", name, flag)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "micr "+Version+"\n", out)
}

func TestScoreCommand(t *testing.T) {
	dir := isolate(t)

	path := writeResponse(t, dir, []model.TokenLogprob{
		tok(`{"raw_line": "⑆12345⑆003⑈987654321⑈", "raw_confidence": 0.9, "components": {"transit_number": {"value": "`, -0.01),
		tok("12345", -0.05),
		tok(`", "confidence": 0.9}, "institution_number": {"value": "`, -0.01),
		tok("003", -0.1),
		tok(`", "confidence": 0.95}, "account_number": {"value": "`, -0.01),
		tok("987654321", -0.2),
		tok(`", "confidence": 0.85}}, "success": true}`, -0.01),
	})
	jsonPath := filepath.Join(dir, "out", "scored.json")

	out, err := run(t, "score", path, "--json", jsonPath)
	require.NoError(t, err)
	assert.Contains(t, out, "MICR line: ⑆12345⑆003⑈987654321⑈")
	assert.Contains(t, out, "Transit number")
	assert.Contains(t, out, "(complete)")

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	var result model.MICRResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.Success)
	assert.Equal(t, path, result.Source)
	assert.Equal(t, "gpt-4o-2024-08-06", result.LLM.Model)
	assert.Equal(t, "openai", result.LLM.Provider)

	transit := result.Component(model.FieldTransit)
	require.NotNil(t, transit)
	assert.Equal(t, "12345", transit.Value)
	assert.InDelta(t, 0.3*0.9+0.6*0.951229+0.1, transit.Combined(), 1e-4)
}

func TestScoreCommand_FailedResponse(t *testing.T) {
	dir := isolate(t)
	path := writeResponse(t, dir, []model.TokenLogprob{tok("I cannot read this image.", -0.3)})

	out, err := run(t, "score", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errAnalysisFailed))
	assert.Contains(t, out, "Analysis failed")
}

func TestScoreCommand_MissingFile(t *testing.T) {
	dir := isolate(t)
	_, err := run(t, "score", filepath.Join(dir, "nope.json"))
	assert.Error(t, err)
}

func TestInstitutionsCommand(t *testing.T) {
	isolate(t)

	out, err := run(t, "institutions")
	require.NoError(t, err)
	assert.Contains(t, out, "003  Royal Bank of Canada")
	assert.Contains(t, out, "institutions\n")

	out, err = run(t, "institutions", "003")
	require.NoError(t, err)
	assert.Equal(t, "003  Royal Bank of Canada\n", out)

	out, err = run(t, "institutions", "003", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"code": "003", "name": "Royal Bank of Canada"}]`, out)

	_, err = run(t, "institutions", "998")
	assert.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "conf", "config.yaml")

	out, err := run(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().LLM.Model, loaded.LLM.Model)
	assert.Equal(t, config.Default().Confidence.Weights, loaded.Confidence.Weights)

	_, err = run(t, "config", "init", "--config", path)
	assert.Error(t, err)

	_, err = run(t, "config", "init", "--config", path, "--force")
	require.NoError(t, err)

	t.Setenv("OPENAI_API_KEY", "sk-test-secret-value")
	out, err = run(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Current Configuration")
	assert.Contains(t, out, "****alue")
	assert.NotContains(t, out, "sk-test-secret-value")
}

func TestHistoryCommand(t *testing.T) {
	dir := isolate(t)
	dbPath := filepath.Join(dir, "history.db")
	t.Setenv("MICR_STORE_PATH", dbPath)

	out, err := run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No analyses recorded")

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.SaveAnalysis(context.Background(), &model.MICRResult{
		ID:         uuid.NewString(),
		Source:     "scans/cheque.png",
		ImageHash:  "0123456789abcdef0123",
		AnalyzedAt: time.Now(),
		Success:    true,
		Components: map[model.FieldKind]*model.MICRComponent{},
		LLM:        model.LLMInfo{Provider: "openai", Model: "gpt-4o"},
	}))
	require.NoError(t, st.Close())

	out, err = run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "scans/cheque.png")
	assert.Contains(t, out, "0123456789ab")
	assert.Contains(t, out, "Total:            1")

	out, err = run(t, "history", "--hash", "0123456789abcdef0123", "--model", "gpt-4o")
	require.NoError(t, err)
	assert.Contains(t, out, "scans/cheque.png")

	out, err = run(t, "history", "--hash", "ffff", "--model", "gpt-4o")
	require.NoError(t, err)
	assert.Contains(t, out, "No analysis stored")
}

func TestProgressLine(t *testing.T) {
	ok := &worker.AnalyzeResult{Source: "a.png", Result: &model.MICRResult{Success: true}}
	assert.Equal(t, "⚠ a.png (overall 0.0%, low confidence)", progressLine(ok, 0.7))
	assert.Equal(t, "✓ a.png (overall 0.0%)", progressLine(ok, 0))

	failed := &worker.AnalyzeResult{Source: "b.png", Result: &model.MICRResult{ErrorMessage: "no MICR line"}}
	assert.Equal(t, "✗ b.png: no MICR line", progressLine(failed, 0.7))

	errored := &worker.AnalyzeResult{Source: "c.png", Error: errors.New("load c.png: not found")}
	assert.Equal(t, "✗ c.png: load c.png: not found", progressLine(errored, 0.7))
}

func TestCacheCommands(t *testing.T) {
	dir := isolate(t)
	cacheDir := filepath.Join(dir, "responses")
	t.Setenv("MICR_CACHE_DIR", cacheDir)

	disk := cache.NewDiskCache(cacheDir, time.Hour)
	require.NoError(t, disk.Set(cache.Key("live"), []byte("1"), 0))
	require.NoError(t, disk.Set(cache.Key("stale"), []byte("2"), time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	out, err := run(t, "cache", "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 expired entries")

	_, ok := disk.Get(cache.Key("live"))
	assert.True(t, ok)

	out, err = run(t, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared "+cacheDir)

	_, err = os.Stat(cacheDir)
	assert.True(t, os.IsNotExist(err))
}

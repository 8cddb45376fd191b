package worker

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/ppiankov/micr/internal/model"
	"github.com/ppiankov/micr/internal/pipeline"
)

// Analyzer defines the interface for analyzing one check image
type Analyzer interface {
	Analyze(ctx context.Context, source string) (*model.MICRResult, error)
}

// AnalyzeJob represents one image analysis job
type AnalyzeJob struct {
	Index    int
	Source   string
	Analyzer Analyzer
}

// Execute executes the analysis job
func (j *AnalyzeJob) Execute(ctx context.Context) Result {
	start := time.Now()
	result, err := j.Analyzer.Analyze(ctx, j.Source)
	return &AnalyzeResult{
		Index:    j.Index,
		Source:   j.Source,
		Result:   result,
		Error:    err,
		Duration: time.Since(start),
	}
}

// Fail records a panic during Execute as this job's error
func (j *AnalyzeJob) Fail(err error) Result {
	return &AnalyzeResult{Index: j.Index, Source: j.Source, Error: err}
}

// AnalyzeResult represents the result of an analysis job
type AnalyzeResult struct {
	Index    int
	Source   string
	Result   *model.MICRResult
	Error    error
	Duration time.Duration
}

// GetError returns the error from the analysis result
func (r *AnalyzeResult) GetError() error {
	return r.Error
}

// Succeeded reports whether the image produced a successful MICR reading
func (r *AnalyzeResult) Succeeded() bool {
	return r.Error == nil && r.Result != nil && r.Result.Success
}

// BatchProcessor processes multiple images concurrently
type BatchProcessor struct {
	analyzer    Analyzer
	concurrency int
	progress    ProgressFunc
}

// ProgressFunc is called once per finished image; done counts finished images
type ProgressFunc func(done, total int, result *AnalyzeResult)

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(analyzer Analyzer, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		analyzer:    analyzer,
		concurrency: concurrency,
	}
}

// OnProgress registers fn to be called as each image finishes
func (b *BatchProcessor) OnProgress(fn ProgressFunc) *BatchProcessor {
	b.progress = fn
	return b
}

// ProcessPaths analyzes the given sources concurrently; results keep input order
func (b *BatchProcessor) ProcessPaths(ctx context.Context, sources []string) []*AnalyzeResult {
	if len(sources) == 0 {
		return []*AnalyzeResult{}
	}

	var opts []Option
	if b.progress != nil {
		done := 0
		opts = append(opts, WithResultHook(func(r Result) {
			done++
			b.progress(done, len(sources), r.(*AnalyzeResult))
		}))
	}

	pool := NewPool(ctx, b.concurrency, opts...)
	pool.Start()

	for i, source := range sources {
		submitted := pool.Submit(&AnalyzeJob{
			Index:    i,
			Source:   source,
			Analyzer: b.analyzer,
		})
		if !submitted {
			break
		}
	}

	results := pool.Wait()

	ordered := make([]*AnalyzeResult, len(sources))
	for _, result := range results {
		r := result.(*AnalyzeResult)
		ordered[r.Index] = r
	}

	// Jobs dropped by a cancelled context still get a slot
	for i, r := range ordered {
		if r == nil {
			err := ctx.Err()
			if err == nil {
				err = eris.New("worker: job not executed")
			}
			ordered[i] = &AnalyzeResult{Index: i, Source: sources[i], Error: err}
		}
	}

	return ordered
}

// ProcessFile reads sources from a list file and processes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*AnalyzeResult, error) {
	sources, err := ReadSourcesFromFile(filePath)
	if err != nil {
		return nil, eris.Wrap(err, "worker: read sources")
	}

	return b.ProcessPaths(ctx, sources), nil
}

// ProcessDir processes every supported image directly inside dir, in name order
func (b *BatchProcessor) ProcessDir(ctx context.Context, dir string) ([]*AnalyzeResult, error) {
	sources, err := ListImages(dir)
	if err != nil {
		return nil, err
	}

	return b.ProcessPaths(ctx, sources), nil
}

// ListImages returns the supported image files in dir, sorted by name
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "worker: read dir %s", dir)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !pipeline.IsSupportedImage(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	return paths, nil
}

// ReadSourcesFromFile reads image paths or URLs from a file (one per line)
func ReadSourcesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, eris.Wrap(err, "worker: open file")
	}
	defer func() { _ = file.Close() }()

	var sources []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			sources = append(sources, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "worker: scan file")
	}

	return sources, nil
}

// Summary aggregates one batch run
type Summary struct {
	RunID          string        `json:"run_id"`
	Total          int           `json:"total"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Complete       int           `json:"complete"`
	Cached         int           `json:"cached"`
	MeanConfidence float64       `json:"mean_confidence"`
	LowConfidence  int           `json:"low_confidence"`
	Duration       time.Duration `json:"duration"`
}

// Summarize builds a Summary; results below lowConfidence overall count as low confidence
func Summarize(results []*AnalyzeResult, lowConfidence float64, duration time.Duration) Summary {
	s := Summary{
		RunID:    uuid.NewString(),
		Total:    len(results),
		Duration: duration,
	}

	var sum float64
	for _, r := range results {
		if !r.Succeeded() {
			s.Failed++
			continue
		}
		s.Succeeded++
		if r.Result.IsComplete() {
			s.Complete++
		}
		if r.Result.Cached {
			s.Cached++
		}
		overall := r.Result.OverallConfidence()
		sum += overall
		if overall < lowConfidence {
			s.LowConfidence++
		}
	}

	if s.Succeeded > 0 {
		s.MeanConfidence = sum / float64(s.Succeeded)
	}

	return s
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/micr/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "sqlite: create data dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id                 TEXT PRIMARY KEY,
	image_hash         TEXT NOT NULL,
	model              TEXT NOT NULL,
	provider           TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL DEFAULT '',
	success            INTEGER NOT NULL DEFAULT 0,
	complete           INTEGER NOT NULL DEFAULT 0,
	raw_line           TEXT NOT NULL DEFAULT '',
	overall_confidence REAL NOT NULL DEFAULT 0,
	result             TEXT NOT NULL,
	analyzed_at        INTEGER NOT NULL,
	UNIQUE (image_hash, model)
);

CREATE INDEX IF NOT EXISTS idx_analyses_analyzed_at ON analyses(analyzed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveAnalysis inserts the result, replacing any earlier analysis of the
// same image by the same model
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, result *model.MICRResult) error {
	if result == nil {
		return eris.New("sqlite: nil result")
	}
	if result.ID == "" || result.ImageHash == "" {
		return eris.New("sqlite: analysis needs an ID and an image hash")
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, image_hash, model, provider, source, success, complete, raw_line, overall_confidence, result, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (image_hash, model) DO UPDATE SET
			id = excluded.id,
			provider = excluded.provider,
			source = excluded.source,
			success = excluded.success,
			complete = excluded.complete,
			raw_line = excluded.raw_line,
			overall_confidence = excluded.overall_confidence,
			result = excluded.result,
			analyzed_at = excluded.analyzed_at`,
		result.ID, result.ImageHash, result.LLM.Model, result.LLM.Provider, result.Source,
		boolInt(result.Success), boolInt(result.IsComplete()), result.RawLine,
		result.OverallConfidence(), string(resultJSON), result.AnalyzedAt.UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: save analysis %s", result.ID)
}

// GetByHash returns the stored analysis of an image by a model, or nil when none exists
func (s *SQLiteStore) GetByHash(ctx context.Context, imageHash, modelName string) (*model.MICRResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result FROM analyses WHERE image_hash = ? AND model = ?`,
		imageHash, modelName,
	)
	return scanResult(row)
}

// GetByID returns the analysis with the given ID, or nil when none exists
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*model.MICRResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT result FROM analyses WHERE id = ?`, id)
	return scanResult(row)
}

// ListRecent returns up to limit analyses, newest first
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*model.MICRResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM analyses ORDER BY analyzed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close() //nolint:errcheck

	var results []*model.MICRResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: iterate analyses")
}

// Stats aggregates the stored analyses
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var (
		stats Stats
		mean  sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(complete), 0),
			AVG(CASE WHEN success = 1 THEN overall_confidence END)
		FROM analyses`,
	).Scan(&stats.Total, &stats.Succeeded, &stats.Complete, &mean)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	stats.MeanConfidence = mean.Float64
	return &stats, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanResult(row scannable) (*model.MICRResult, error) {
	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan analysis")
	}

	var result model.MICRResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
	}
	return &result, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)

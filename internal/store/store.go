package store

import (
	"context"

	"github.com/ppiankov/micr/internal/model"
)

// Store persists analyses and answers deduplication lookups
type Store interface {
	Migrate(ctx context.Context) error
	SaveAnalysis(ctx context.Context, result *model.MICRResult) error
	GetByHash(ctx context.Context, imageHash, modelName string) (*model.MICRResult, error)
	GetByID(ctx context.Context, id string) (*model.MICRResult, error)
	ListRecent(ctx context.Context, limit int) ([]*model.MICRResult, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats summarises the stored analyses
type Stats struct {
	Total          int     `json:"total"`
	Succeeded      int     `json:"succeeded"`
	Complete       int     `json:"complete"`
	MeanConfidence float64 `json:"mean_confidence"` // over successful analyses
}

package repository

import (
	"context"
	"time"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
)

// StoredResults is a finalized category ranking as persisted.
type StoredResults struct {
	Category   string                `json:"category"`
	BoxID      int                   `json:"boxId"`
	RouteCount int                   `json:"routeCount"`
	Payload    models.ResultsPayload `json:"payload"`
	Rows       []ranking.Row         `json:"rows"`
	Revision   int                   `json:"revision"`
	SavedAt    time.Time             `json:"savedAt"`
}

// ResultsRepository defines finalized results operations
type ResultsRepository interface {
	SaveResults(ctx context.Context, boxID int, payload models.ResultsPayload, rows []ranking.Row) (revision int, err error)
	GetResults(ctx context.Context, category string) (*StoredResults, error)
	ListResultCategories(ctx context.Context) ([]string, error)
	DeleteResults(ctx context.Context, category string) error
}

// SettingsRepository defines settings data operations
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// FullRepository combines all repository interfaces
// Use this when a service needs access to multiple domains
type FullRepository interface {
	ResultsRepository
	SettingsRepository
	Ping(ctx context.Context) error
}

// Ensure Repository implements all interfaces
var _ FullRepository = (*Repository)(nil)

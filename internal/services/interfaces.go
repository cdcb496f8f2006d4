package services

import (
	"context"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
	"github.com/abrezinsky/cragboard/internal/repository"
	"github.com/abrezinsky/cragboard/internal/session"
)

// ContestServicer defines the interface for the authoritative box registry
type ContestServicer interface {
	CreateBox(ctx context.Context, cfg session.Config) (models.Snapshot, error)
	Ingest(ctx context.Context, r models.RosterUpload) (models.Snapshot, error)
	DeleteBox(ctx context.Context, boxID int) error
	ListBoxes(ctx context.Context) []BoxSummary
	HasBox(boxID int) bool
	Apply(ctx context.Context, cmd models.Command) (models.Event, error)
	Snapshot(ctx context.Context, boxID int) (models.Event, error)
	SnapshotTo(ctx context.Context, boxID int, deliver func(models.Event)) error
	Ranking(ctx context.Context, boxID int) (*ranking.Result, error)
	Podium(ctx context.Context, boxID int, n int) ([]ranking.Row, error)
	RouteStandings(ctx context.Context, boxID int, route int) ([]ranking.RouteRow, error)
	SetBroadcaster(b Broadcaster)
}

// ResultsServicer defines the interface for finalized results operations
type ResultsServicer interface {
	Finalize(ctx context.Context, boxID int, in ranking.Input, payload models.ResultsPayload) (*FinalizeResult, error)
	GetResults(ctx context.Context, category string) (*repository.StoredResults, error)
	ListCategories(ctx context.Context) ([]string, error)
	DeleteResults(ctx context.Context, category string) error
}

// SettingsServicer defines the interface for settings operations
type SettingsServicer interface {
	GetBaseURL(ctx context.Context) (string, error)
	SetBaseURL(ctx context.Context, url string) error
	GetResultsURL(ctx context.Context) (string, error)
	SetResultsURL(ctx context.Context, url string) error
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// LinkServicer defines the interface for judge links
type LinkServicer interface {
	JudgeURL(ctx context.Context, boxID int) (string, error)
	JudgeQR(ctx context.Context, boxID int) ([]byte, error)
}

// Ensure concrete types implement interfaces
var (
	_ ContestServicer  = (*ContestService)(nil)
	_ ResultsServicer  = (*ResultsService)(nil)
	_ SettingsServicer = (*SettingsService)(nil)
	_ LinkServicer     = (*LinkService)(nil)
)

package mock

import (
	"context"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
	"github.com/abrezinsky/cragboard/internal/repository"
)

// Repository wraps a real repository and allows injecting errors for testing.
// This provides a flexible way to test error paths without complex database manipulation.
//
// Usage:
//
//	realRepo := testutil.NewTestRepository(t)
//	mockRepo := mock.NewRepository(realRepo)
//	mockRepo.SaveResultsError = errors.New("database error")
//	svc := services.NewResultsService(log, mockRepo, nil, nil)
//	_, err := svc.Finalize(ctx, boxID, in, payload)
//	// err will now contain the injected error
type Repository struct {
	repository.FullRepository

	// ===== Results Errors =====
	SaveResultsError          error
	GetResultsError           error
	ListResultCategoriesError error
	DeleteResultsError        error

	// ===== Settings Errors =====
	GetSettingError error
	SetSettingError error

	// SaveCalls counts SaveResults invocations, including failed ones.
	SaveCalls int
}

// NewRepository creates a mock repository wrapping a real one
func NewRepository(real repository.FullRepository) *Repository {
	return &Repository{
		FullRepository: real,
	}
}

// ===== Results Methods =====

func (m *Repository) SaveResults(ctx context.Context, boxID int, payload models.ResultsPayload, rows []ranking.Row) (int, error) {
	m.SaveCalls++
	if m.SaveResultsError != nil {
		return 0, m.SaveResultsError
	}
	return m.FullRepository.SaveResults(ctx, boxID, payload, rows)
}

func (m *Repository) GetResults(ctx context.Context, category string) (*repository.StoredResults, error) {
	if m.GetResultsError != nil {
		return nil, m.GetResultsError
	}
	return m.FullRepository.GetResults(ctx, category)
}

func (m *Repository) ListResultCategories(ctx context.Context) ([]string, error) {
	if m.ListResultCategoriesError != nil {
		return nil, m.ListResultCategoriesError
	}
	return m.FullRepository.ListResultCategories(ctx)
}

func (m *Repository) DeleteResults(ctx context.Context, category string) error {
	if m.DeleteResultsError != nil {
		return m.DeleteResultsError
	}
	return m.FullRepository.DeleteResults(ctx, category)
}

// ===== Settings Methods =====

func (m *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	if m.GetSettingError != nil {
		return "", m.GetSettingError
	}
	return m.FullRepository.GetSetting(ctx, key)
}

func (m *Repository) SetSetting(ctx context.Context, key, value string) error {
	if m.SetSettingError != nil {
		return m.SetSettingError
	}
	return m.FullRepository.SetSetting(ctx, key, value)
}

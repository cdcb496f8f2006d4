package services

import (
	"context"

	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/repository"
	"github.com/abrezinsky/cragboard/pkg/resultsapi"
)

// SettingsService handles settings-related business logic
type SettingsService struct {
	log     logger.Logger
	repo    repository.SettingsRepository
	results resultsapi.Client
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(log logger.Logger, repo repository.SettingsRepository) *SettingsService {
	return &SettingsService{log: log, repo: repo}
}

// UseResultsClient keeps client's base URL in step with the stored results URL
func (s *SettingsService) UseResultsClient(client resultsapi.Client) {
	s.results = client
}

// GetBaseURL returns the application base URL
func (s *SettingsService) GetBaseURL(ctx context.Context) (string, error) {
	return s.optional(ctx, "base_url")
}

// SetBaseURL saves the application base URL
func (s *SettingsService) SetBaseURL(ctx context.Context, url string) error {
	return s.repo.SetSetting(ctx, "base_url", url)
}

// GetResultsURL returns the stored results service URL
func (s *SettingsService) GetResultsURL(ctx context.Context) (string, error) {
	return s.optional(ctx, "results_url")
}

// SetResultsURL saves the results service URL
func (s *SettingsService) SetResultsURL(ctx context.Context, url string) error {
	if err := s.repo.SetSetting(ctx, "results_url", url); err != nil {
		return err
	}
	if s.results != nil {
		s.results.SetBaseURL(url)
		s.log.Info("Results service URL updated", "url", url)
	}
	return nil
}

// GetSetting returns a raw setting
func (s *SettingsService) GetSetting(ctx context.Context, key string) (string, error) {
	return s.repo.GetSetting(ctx, key)
}

// SetSetting stores a raw setting
func (s *SettingsService) SetSetting(ctx context.Context, key, value string) error {
	return s.repo.SetSetting(ctx, key, value)
}

func (s *SettingsService) optional(ctx context.Context, key string) (string, error) {
	value, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		if err == repository.ErrNotFound {
			return "", nil // No default - setting not yet configured
		}
		return "", err // Propagate database errors
	}
	return value, nil
}

package services

import (
	"context"
	"fmt"

	"github.com/abrezinsky/cragboard/internal/errors"
	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
	"github.com/abrezinsky/cragboard/internal/repository"
	"github.com/abrezinsky/cragboard/pkg/resultsapi"
)

// ResultsService delivers finalized rankings to storage, the external
// results service and the message bus
type ResultsService struct {
	log       logger.Logger
	repo      repository.ResultsRepository
	client    resultsapi.Client
	publisher Publisher
}

// NewResultsService creates a new ResultsService. client and publisher may be nil.
func NewResultsService(log logger.Logger, repo repository.ResultsRepository, client resultsapi.Client, publisher Publisher) *ResultsService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &ResultsService{log: log, repo: repo, client: client, publisher: publisher}
}

// FinalizeResult reports what happened to each delivery target
type FinalizeResult struct {
	Category  string        `json:"category"`
	Revision  int           `json:"revision"`
	Rows      []ranking.Row `json:"rows"`
	Stored    bool          `json:"stored"`
	Delivered bool          `json:"delivered"`
	Published bool          `json:"published"`
	Errors    []string      `json:"errors,omitempty"`
}

// Finalize computes the ranking and hands it to every configured target.
// A failing target does not stop the others; the first failure is returned.
func (s *ResultsService) Finalize(ctx context.Context, boxID int, in ranking.Input, payload models.ResultsPayload) (*FinalizeResult, error) {
	res := &FinalizeResult{
		Category: payload.Category,
		Rows:     ranking.Compute(in).Rows,
	}
	var firstErr error
	fail := func(target string, err error) {
		s.log.Error("Results delivery failed", "box_id", boxID, "category", payload.Category, "target", target, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", target, err))
		if firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrInternal, "delivering results to "+target)
		}
	}

	rev, err := s.repo.SaveResults(ctx, boxID, payload, res.Rows)
	if err != nil {
		fail("storage", err)
	} else {
		res.Stored = true
		res.Revision = rev
	}

	if s.client != nil && s.client.BaseURL() != "" {
		if _, err := s.client.SaveRanking(ctx, payload); err != nil {
			fail("results service", err)
		} else {
			res.Delivered = true
		}
	}

	msg := ResultsMessage{BoxID: boxID, Revision: res.Revision, Payload: payload, Rows: res.Rows}
	if err := s.publisher.PublishResults(msg); err != nil {
		fail("bus", err)
	} else {
		res.Published = true
	}

	s.log.Info("Results finalized",
		"box_id", boxID,
		"category", payload.Category,
		"revision", res.Revision,
		"rows", len(res.Rows),
		"stored", res.Stored,
		"delivered", res.Delivered)

	return res, firstErr
}

// GetResults returns the persisted ranking of a category
func (s *ResultsService) GetResults(ctx context.Context, category string) (*repository.StoredResults, error) {
	res, err := s.repo.GetResults(ctx, category)
	if err == repository.ErrNotFound {
		return nil, errors.NotFoundf("no results for category %q", category)
	}
	if err != nil {
		return nil, errors.Internal(err)
	}
	return res, nil
}

// ListCategories returns the categories with persisted results
func (s *ResultsService) ListCategories(ctx context.Context) ([]string, error) {
	cats, err := s.repo.ListResultCategories(ctx)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return cats, nil
}

// DeleteResults discards a category's persisted ranking. A later
// finalization of the category stores it again.
func (s *ResultsService) DeleteResults(ctx context.Context, category string) error {
	err := s.repo.DeleteResults(ctx, category)
	if err == repository.ErrNotFound {
		return errors.NotFoundf("no results for category %q", category)
	}
	if err != nil {
		return errors.Internal(err)
	}
	s.log.Info("Results deleted", "category", category)
	return nil
}

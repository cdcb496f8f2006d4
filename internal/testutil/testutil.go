package testutil

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/repository"
	"github.com/abrezinsky/cragboard/internal/session"
)

// NewTestRepository creates a new in-memory repository for testing.
// Each call creates a fresh database with all migrations applied.
func NewTestRepository(t *testing.T) *repository.Repository {
	t.Helper()

	repo, err := repository.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}

	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}

// NewFakeClock returns a fake clock fixed at a stable instant
func NewFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Date(2026, 5, 16, 10, 0, 0, 0, time.UTC))
}

// BoxConfig returns a valid two-route box with three competitors
func BoxConfig(boxID int) session.Config {
	return session.Config{
		BoxID:    boxID,
		Category: "U16 Female",
		Competitors: []models.Competitor{
			{Name: "Ana", Club: "CSM"},
			{Name: "Bea", Club: "Dinamo"},
			{Name: "Cara", Club: "CSM"},
		},
		RoutesCount: 2,
		HoldsCounts: []int{25, 30},
		TimerPreset: 300,
	}
}

package repository

import (
	"context"
	"testing"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func fp(v float64) *float64 { return &v }

func samplePayload() (models.ResultsPayload, []ranking.Row) {
	payload := models.ResultsPayload{
		Category:   "U16 Female",
		RouteCount: 1,
		Scores: map[string][]*float64{
			"Ana":  {fp(10)},
			"Bea":  {fp(8)},
			"Cora": nil,
		},
		Clubs: map[string]string{"Ana": "CSM"},
	}
	res := ranking.Compute(ranking.Input{
		Scores:     payload.Scores,
		RouteCount: payload.RouteCount,
		Clubs:      payload.Clubs,
	})
	return payload, res.Rows
}

func TestSaveAndGetResults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	payload, rows := samplePayload()

	rev, err := repo.SaveResults(ctx, 2, payload, rows)
	if err != nil {
		t.Fatalf("SaveResults failed: %v", err)
	}
	if rev != 1 {
		t.Errorf("expected revision 1, got %d", rev)
	}

	got, err := repo.GetResults(ctx, "U16 Female")
	if err != nil {
		t.Fatalf("GetResults failed: %v", err)
	}
	if got.BoxID != 2 || got.RouteCount != 1 {
		t.Errorf("unexpected header %+v", got)
	}
	if len(got.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got.Rows))
	}
	if got.Rows[0].Name != "Ana" || got.Rows[0].Club != "CSM" || got.Rows[0].Total != 1 {
		t.Errorf("unexpected first row %+v", got.Rows[0])
	}
	if got.Rows[2].Name != "Cora" || got.Rows[2].Scores[0] != nil {
		t.Errorf("expected unscored Cora last, got %+v", got.Rows[2])
	}
	if got.Payload.Category != "U16 Female" || len(got.Payload.Scores) != 3 {
		t.Errorf("payload not round-tripped: %+v", got.Payload)
	}
	if got.SavedAt.IsZero() {
		t.Error("expected saved_at to be populated")
	}
}

func TestSaveResults_OverwriteBumpsRevision(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	payload, rows := samplePayload()

	if _, err := repo.SaveResults(ctx, 2, payload, rows); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	rev, err := repo.SaveResults(ctx, 2, payload, rows[:1])
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if rev != 2 {
		t.Errorf("expected revision 2, got %d", rev)
	}

	got, err := repo.GetResults(ctx, payload.Category)
	if err != nil {
		t.Fatalf("GetResults failed: %v", err)
	}
	if len(got.Rows) != 1 {
		t.Errorf("expected old rows to be replaced, got %d rows", len(got.Rows))
	}
}

func TestGetResults_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetResults(context.Background(), "nope")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndDeleteResults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	payload, rows := samplePayload()

	if _, err := repo.SaveResults(ctx, 1, payload, rows); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	payload.Category = "U18 Male"
	if _, err := repo.SaveResults(ctx, 3, payload, rows); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	cats, err := repo.ListResultCategories(ctx)
	if err != nil {
		t.Fatalf("ListResultCategories failed: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %v", cats)
	}

	if err := repo.DeleteResults(ctx, "U18 Male"); err != nil {
		t.Fatalf("DeleteResults failed: %v", err)
	}
	if err := repo.DeleteResults(ctx, "U18 Male"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	var n int
	if err := repo.DB().QueryRow(`SELECT COUNT(*) FROM ranking_rows WHERE category = 'U18 Male'`).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected cascade delete of ranking rows, got %d", n)
	}
}

func TestSettings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if v, err := repo.GetSetting(ctx, "results_url"); err != nil || v != "" {
		t.Errorf("expected default empty results_url, got %q, %v", v, err)
	}
	if _, err := repo.GetSetting(ctx, "base_url"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unset key, got %v", err)
	}

	if err := repo.SetSetting(ctx, "base_url", "http://10.0.0.5:8080"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if v, _ := repo.GetSetting(ctx, "base_url"); v != "http://10.0.0.5:8080" {
		t.Errorf("unexpected base_url %q", v)
	}
}

func TestPing(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

package services

import (
	"context"
	"strings"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/session"
)

// ConfigFromRoster converts an ingested roster into a box configuration.
// A roster without a box id is given boxID.
func ConfigFromRoster(r models.RosterUpload, boxID int) session.Config {
	if r.BoxID != nil {
		boxID = *r.BoxID
	}
	cfg := session.Config{
		BoxID:         boxID,
		Category:      strings.TrimSpace(r.Category),
		Competitors:   r.Competitors,
		RoutesCount:   r.RoutesCount,
		HoldsCounts:   r.HoldsCounts,
		TimeCriterion: r.TimeCriterion,
	}
	if r.TimerPreset != nil {
		cfg.TimerPreset = int(*r.TimerPreset)
	}
	return cfg
}

// Ingest creates a box from an uploaded roster. Rosters without a box id
// take the lowest free id.
func (s *ContestService) Ingest(ctx context.Context, r models.RosterUpload) (models.Snapshot, error) {
	return s.CreateBox(ctx, ConfigFromRoster(r, s.nextBoxID()))
}

func (s *ContestService) nextBoxID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := 0
	for {
		if _, taken := s.boxes[id]; !taken {
			return id
		}
		id++
	}
}

package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/abrezinsky/cragboard/internal/errors"
)

// LinkService builds the links handed to judges for a box
type LinkService struct {
	settings SettingsServicer
	contest  interface{ HasBox(int) bool }
}

// NewLinkService creates a new LinkService
func NewLinkService(settings SettingsServicer, contest interface{ HasBox(int) bool }) *LinkService {
	return &LinkService{settings: settings, contest: contest}
}

// JudgeURL returns {base_url}/judge/{boxId}
func (s *LinkService) JudgeURL(ctx context.Context, boxID int) (string, error) {
	if s.contest != nil && !s.contest.HasBox(boxID) {
		return "", errors.NotFoundf("box %d not found", boxID)
	}
	baseURL, err := s.settings.GetBaseURL(ctx)
	if err != nil {
		return "", errors.Internal(err)
	}
	if baseURL == "" {
		return "", errors.Validation("base_url not configured")
	}
	return fmt.Sprintf("%s/judge/%d", strings.TrimSuffix(baseURL, "/"), boxID), nil
}

// JudgeQR generates a QR code PNG image of the judge link
func (s *LinkService) JudgeQR(ctx context.Context, boxID int) ([]byte, error) {
	url, err := s.JudgeURL(ctx, boxID)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(url, qrcode.Medium, 256)
}

package handlers

import (
	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
)

// HealthResponse is the liveness probe body
type HealthResponse struct {
	Status string `json:"status"`
	Boxes  int    `json:"boxes"`
}

// SessionResponse reports whether the caller holds an operator session
type SessionResponse struct {
	Operator bool `json:"operator"`
}

// CommandResponse is returned for an accepted HTTP command
type CommandResponse struct {
	Status string       `json:"status"`
	Event  models.Event `json:"event"`
}

// RankingResponse is the live ranking of a box
type RankingResponse struct {
	BoxID        int           `json:"boxId"`
	Category     string        `json:"categorie"`
	RoutesCount  int           `json:"routesCount"`
	NCompetitors int           `json:"nCompetitors"`
	Rows         []ranking.Row `json:"rows"`
}

// PodiumResponse is the ceremony projection of a box
type PodiumResponse struct {
	BoxID    int           `json:"boxId"`
	Category string        `json:"categorie"`
	Podium   []ranking.Row `json:"podium"`
}

// RouteStandingsResponse is one route's standings
type RouteStandingsResponse struct {
	BoxID int                `json:"boxId"`
	Route int                `json:"route"`
	Rows  []ranking.RouteRow `json:"rows"`
}

// JudgeLinkResponse carries the judge URL of a box
type JudgeLinkResponse struct {
	BoxID int    `json:"boxId"`
	URL   string `json:"url"`
}

// SettingsResponse is the response for settings
type SettingsResponse struct {
	BaseURL    string `json:"base_url"`
	ResultsURL string `json:"results_url"`
}

// CategoriesResponse lists categories with persisted results
type CategoriesResponse struct {
	Categories []string `json:"categories"`
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/abrezinsky/cragboard/internal/models"
)

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, HealthResponse{Status: "ok", Boxes: len(h.Contest.ListBoxes(r.Context()))})
}

func (h *Handlers) handleListBoxes(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.Contest.ListBoxes(r.Context()))
}

// handleIngestRoster creates a box from an uploaded roster. Malformed
// rosters are rejected here and never reach a session.
func (h *Handlers) handleIngestRoster(w http.ResponseWriter, r *http.Request) {
	var roster models.RosterUpload
	if err := decodeJSON(r, &roster); err != nil {
		h.respondError(w, r, err)
		return
	}

	snap, err := h.Contest.Ingest(r.Context(), roster)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondCreated(w, snap)
}

func (h *Handlers) handleDeleteBox(w http.ResponseWriter, r *http.Request) {
	boxID, err := parseIntParam(r, "boxId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.Contest.DeleteBox(r.Context(), boxID); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondDeleted(w)
}

// handleState returns the box snapshot. The session token is only included
// for operators.
func (h *Handlers) handleState(w http.ResponseWriter, r *http.Request) {
	boxID, err := parseIntParam(r, "boxId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ev, err := h.Contest.Snapshot(r.Context(), boxID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, h.visible(r, ev))
}

func (h *Handlers) handleRanking(w http.ResponseWriter, r *http.Request) {
	boxID, err := parseIntParam(r, "boxId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	snap, err := h.snapshot(r, boxID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.Contest.Ranking(r.Context(), boxID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, RankingResponse{
		BoxID:        boxID,
		Category:     snap.Category,
		RoutesCount:  snap.RoutesCount,
		NCompetitors: res.NCompetitors,
		Rows:         res.Rows,
	})
}

func (h *Handlers) handlePodium(w http.ResponseWriter, r *http.Request) {
	boxID, err := parseIntParam(r, "boxId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	n := 3
	if v := r.URL.Query().Get("n"); v != "" {
		if n, err = strconv.Atoi(v); err != nil || n < 1 {
			h.respondError(w, r, BadRequest("Invalid n parameter"))
			return
		}
	}
	snap, err := h.snapshot(r, boxID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rows, err := h.Contest.Podium(r.Context(), boxID, n)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, PodiumResponse{BoxID: boxID, Category: snap.Category, Podium: rows})
}

func (h *Handlers) handleRouteStandings(w http.ResponseWriter, r *http.Request) {
	boxID, err := parseIntParam(r, "boxId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	route, err := parseIntParam(r, "route")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rows, err := h.Contest.RouteStandings(r.Context(), boxID, route)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, RouteStandingsResponse{BoxID: boxID, Route: route, Rows: rows})
}

func (h *Handlers) handleJudgeLink(w http.ResponseWriter, r *http.Request) {
	boxID, err := parseIntParam(r, "boxId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	url, err := h.Links.JudgeURL(r.Context(), boxID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, JudgeLinkResponse{BoxID: boxID, URL: url})
}

// handleJudgeQR serves the judge link as a PNG QR code
func (h *Handlers) handleJudgeQR(w http.ResponseWriter, r *http.Request) {
	boxID, err := parseIntParam(r, "boxId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	png, err := h.Links.JudgeQR(r.Context(), boxID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(png)
}

// handleWS subscribes the caller to one box. Operators receive session
// tokens; everyone else gets redacted events.
func (h *Handlers) handleWS(w http.ResponseWriter, r *http.Request) {
	boxID, err := parseIntParam(r, "boxId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if h.Hub == nil {
		h.respondError(w, r, NewAPIError(http.StatusServiceUnavailable, ErrCodeInternalServer, "Synchronization channel unavailable"))
		return
	}
	h.Hub.ServeBox(w, r, boxID, h.Auth.IsTrusted(r))
}

func (h *Handlers) snapshot(r *http.Request, boxID int) (*models.Snapshot, error) {
	ev, err := h.Contest.Snapshot(r.Context(), boxID)
	if err != nil {
		return nil, err
	}
	if ev.Snapshot == nil {
		return &models.Snapshot{BoxID: boxID}, nil
	}
	return ev.Snapshot, nil
}

func (h *Handlers) visible(r *http.Request, ev models.Event) models.Event {
	if h.Auth.IsTrusted(r) {
		return ev
	}
	return ev.Redacted()
}

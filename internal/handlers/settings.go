package handlers

import (
	"net/http"
	"strings"
)

func (h *Handlers) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	baseURL, err := h.Settings.GetBaseURL(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resultsURL, err := h.Settings.GetResultsURL(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, SettingsResponse{BaseURL: baseURL, ResultsURL: resultsURL})
}

func (h *Handlers) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if req.BaseURL != nil {
		if err := h.Settings.SetBaseURL(r.Context(), strings.TrimSuffix(strings.TrimSpace(*req.BaseURL), "/")); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	if req.ResultsURL != nil {
		if err := h.Settings.SetResultsURL(r.Context(), strings.TrimSpace(*req.ResultsURL)); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	h.handleGetSettings(w, r)
}

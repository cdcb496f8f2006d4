package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) handleListResultCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Results.ListCategories(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	respondOK(w, CategoriesResponse{Categories: cats})
}

// handleGetResults returns the persisted final ranking of a category
func (h *Handlers) handleGetResults(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if category == "" {
		h.respondError(w, r, BadRequest("Missing category parameter"))
		return
	}
	res, err := h.Results.GetResults(r.Context(), category)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, res)
}

func (h *Handlers) handleDeleteResults(w http.ResponseWriter, r *http.Request) {
	if err := h.Results.DeleteResults(r.Context(), chi.URLParam(r, "category")); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondDeleted(w)
}

package handlers

import (
	"net/http"

	"github.com/abrezinsky/cragboard/internal/models"
)

// handleCommand is the HTTP command intake. It takes the same envelope as
// the websocket; accepted commands are broadcast to the box, including
// REQUEST_STATE whose snapshot goes to every subscriber.
func (h *Handlers) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd models.Command
	if err := decodeJSON(r, &cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	if cmd.Type == "" {
		h.respondError(w, r, BadRequest("Missing command type"))
		return
	}
	if cmd.Type == models.CmdPong {
		respondSuccess(w, "ignored")
		return
	}

	ev, err := h.Contest.Apply(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, CommandResponse{Status: "ok", Event: h.visible(r, ev)})
}

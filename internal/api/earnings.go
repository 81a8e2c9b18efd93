package api

import (
	"errors"
	"net/http"

	"copyrelay/internal/api/middleware"
	"copyrelay/internal/relay"

	"github.com/gorilla/mux"
)

// HandleGetEarnings возвращает сводку заработка провайдера сигналов
func (h *Handler) HandleGetEarnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	summary, err := h.engine.Earnings(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to aggregate earnings", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "", summary)
}

// HandleMarkCommissionPaid помечает запись комиссии выплаченной
func (h *Handler) HandleMarkCommissionPaid(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entry, err := h.engine.MarkPaid(r.Context(), id)
	if err != nil {
		if errors.Is(err, relay.ErrIllegalState) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}

		h.logger.Error("Failed to mark commission paid", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "Commission marked paid", entry)
}

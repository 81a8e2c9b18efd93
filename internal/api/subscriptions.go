package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"copyrelay/internal/api/middleware"
	"copyrelay/internal/relay"
	"copyrelay/internal/storage"

	"github.com/gorilla/mux"
)

type CreateSubscriptionRequest struct {
	MasterAccountID string  `json:"master_account_id"`
	SlaveAccountID  string  `json:"slave_account_id"`
	FeeBps          int64   `json:"fee_bps"`
	LotMultiplier   float64 `json:"lot_multiplier"`
}

type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleCreateSubscription подписывает slave аккаунт на сигналы master
func (h *Handler) HandleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.MasterAccountID == "" || req.SlaveAccountID == "" {
		h.respondError(w, http.StatusBadRequest, "Master and slave account ids are required")
		return
	}

	if req.FeeBps < 0 || req.FeeBps > 10000 {
		h.respondError(w, http.StatusBadRequest, "Fee must be between 0 and 10000 basis points")
		return
	}

	id, err := h.index.Subscribe(r.Context(), req.MasterAccountID, req.SlaveAccountID, relay.SubscriptionConfig{
		SubscriberUserID: userID,
		FeeBps:           req.FeeBps,
		LotMultiplier:    req.LotMultiplier,
	})
	if err != nil {
		if errors.Is(err, relay.ErrUnknownAccount) {
			h.respondError(w, http.StatusNotFound, err.Error())
			return
		}

		if errors.Is(err, relay.ErrValidation) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		h.logger.Error("Failed to create subscription", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondJSON(w, http.StatusCreated, SuccessResponse{
		Message: "Subscription created",
		Data:    map[string]string{"id": id},
	})
}

// HandleDeleteSubscription удаляет подписку
func (h *Handler) HandleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.index.Unsubscribe(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "Subscription not found")
			return
		}

		h.logger.Error("Failed to delete subscription", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "Subscription deleted", nil)
}

// HandleSetSubscriptionEnabled включает или выключает подписку
func (h *Handler) HandleSetSubscriptionEnabled(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.index.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "Subscription not found")
			return
		}

		h.logger.Error("Failed to update subscription", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "Subscription updated", nil)
}

// HandleGetSubscriptions возвращает подписки на master аккаунт
func (h *Handler) HandleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	masterID := r.URL.Query().Get("master_account_id")
	if masterID == "" {
		h.respondError(w, http.StatusBadRequest, "master_account_id query parameter is required")
		return
	}

	subs, err := h.storage.ListSubscriptionsByMaster(r.Context(), masterID)
	if err != nil {
		h.logger.Error("Failed to list subscriptions", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "", subs)
}

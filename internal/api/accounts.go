package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"copyrelay/internal/api/middleware"
	"copyrelay/internal/models"
	"copyrelay/internal/storage"

	"github.com/gorilla/mux"
)

type ProvisionAccountRequest struct {
	AccountID string `json:"account_id"`
	Type      string `json:"type"`
	Broker    string `json:"broker"`
	Secret    string `json:"secret"`
}

// HandleProvisionAccount регистрирует торговый аккаунт за пользователем.
// Терминал с этим account_id и секретом сможет подключиться по WebSocket.
func (h *Handler) HandleProvisionAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req ProvisionAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" || req.Secret == "" {
		h.respondError(w, http.StatusBadRequest, "Account id and secret are required")
		return
	}

	accountType := models.AccountType(req.Type)
	if !accountType.Valid() {
		h.respondError(w, http.StatusBadRequest, "Type must be master or slave")
		return
	}

	secretHash, err := h.authService.HashSecret(req.Secret)
	if err != nil {
		h.logger.Error("Failed to hash account secret", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	profile := models.AccountProfile{
		AccountID:  req.AccountID,
		UserID:     userID,
		Type:       accountType,
		Broker:     req.Broker,
		SecretHash: secretHash,
		CreatedAt:  time.Now(),
	}

	if err := h.storage.CreateAccountProfile(r.Context(), profile); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			h.respondError(w, http.StatusConflict, "Account already provisioned")
			return
		}

		h.logger.Error("Failed to create account profile", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondJSON(w, http.StatusCreated, SuccessResponse{
		Message: "Account provisioned",
		Data:    profile,
	})
}

// HandleGetAccounts возвращает аккаунты пользователя с текущим статусом
func (h *Handler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	accounts, err := h.storage.ListAccountsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list accounts", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "", accounts)
}

// HandleDeactivateAccount снимает аккаунт с обслуживания
func (h *Handler) HandleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	accountID := mux.Vars(r)["id"]

	profile, err := h.storage.GetAccountProfile(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "Account not found")
			return
		}

		h.logger.Error("Failed to get account profile", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	// Деактивировать можно только свой аккаунт
	if profile.UserID != userID {
		h.respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	if err := h.storage.DeactivateAccount(r.Context(), accountID); err != nil {
		h.logger.Error("Failed to deactivate account", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "Account deactivated", nil)
}

// HandleGetSignals возвращает последние сигналы master аккаунта
func (h *Handler) HandleGetSignals(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	signals, err := h.storage.ListSignalsByMaster(r.Context(), accountID, 100)
	if err != nil {
		h.logger.Error("Failed to list signals", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "", signals)
}

// HandleGetDeliveries возвращает результаты доставки одного сигнала
func (h *Handler) HandleGetDeliveries(w http.ResponseWriter, r *http.Request) {
	signalID := mux.Vars(r)["id"]

	deliveries, err := h.storage.ListDeliveriesBySignal(r.Context(), signalID)
	if err != nil {
		h.logger.Error("Failed to list deliveries", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "", deliveries)
}

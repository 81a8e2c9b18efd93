package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"copyrelay/internal/storage"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	UserID   int64  `json:"user_id"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin обрабатывает вход пользователя
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.storage.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		h.logger.Error("Failed to get user", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	if err := h.authService.VerifySecret(user.PasswordHash, req.Password); err != nil {
		h.respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		h.logger.Error("Failed to generate token", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, "Login successful", LoginResponse{
		Token:    token,
		Username: user.Username,
		UserID:   user.ID,
	})
}

// HandleRegister обрабатывает регистрацию нового пользователя
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	if len(req.Password) < 6 {
		h.respondError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	passwordHash, err := h.authService.HashSecret(req.Password)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	userID, err := h.storage.CreateUser(r.Context(), req.Username, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			h.respondError(w, http.StatusConflict, "Username already exists")
			return
		}

		h.logger.Error("Failed to create user", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	token, err := h.authService.GenerateToken(userID, req.Username)
	if err != nil {
		h.logger.Error("Failed to generate token", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondJSON(w, http.StatusCreated, SuccessResponse{
		Message: "User registered",
		Data: LoginResponse{
			Token:    token,
			Username: req.Username,
			UserID:   userID,
		},
	})
}

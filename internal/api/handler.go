package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"copyrelay/internal/auth"
	"copyrelay/internal/relay"
	"copyrelay/internal/storage"
)

// Handler обрабатывает REST запросы панели управления релеем
type Handler struct {
	storage     *storage.Storage
	authService *auth.Service
	index       *relay.Index
	engine      *relay.Engine
	logger      *slog.Logger
}

func New(
	storage *storage.Storage,
	authService *auth.Service,
	index *relay.Index,
	engine *relay.Engine,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		storage:     storage,
		authService: authService,
		index:       index,
		engine:      engine,
		logger:      logger,
	}
}

// Helper функции для JSON ответов

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handler) respondSuccess(w http.ResponseWriter, message string, data any) {
	h.respondJSON(w, http.StatusOK, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

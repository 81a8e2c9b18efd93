package api

import (
	"net/http"

	"copyrelay/internal/api/middleware"

	"github.com/gorilla/mux"
)

// SetupRouter настраивает роутинг для API и WebSocket входа терминалов
func (h *Handler) SetupRouter(wsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS)

	// Публичные маршруты (не требуют аутентификации)
	r.HandleFunc("/api/auth/login", h.HandleLogin).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/auth/register", h.HandleRegister).Methods("POST", "OPTIONS")
	r.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Вход торговых терминалов
	r.Handle("/ws/copy-trading", wsHandler).Methods("GET")

	// Защищенные маршруты (требуют аутентификации)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(h.authService))

	// Accounts
	api.HandleFunc("/accounts", h.HandleGetAccounts).Methods("GET")
	api.HandleFunc("/accounts", h.HandleProvisionAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}", h.HandleDeactivateAccount).Methods("DELETE")
	api.HandleFunc("/accounts/{id}/signals", h.HandleGetSignals).Methods("GET")

	// Subscriptions
	api.HandleFunc("/subscriptions", h.HandleGetSubscriptions).Methods("GET")
	api.HandleFunc("/subscriptions", h.HandleCreateSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}", h.HandleDeleteSubscription).Methods("DELETE")
	api.HandleFunc("/subscriptions/{id}/enabled", h.HandleSetSubscriptionEnabled).Methods("PUT")

	// Signals history
	api.HandleFunc("/signals/{id}/deliveries", h.HandleGetDeliveries).Methods("GET")

	// Commissions
	api.HandleFunc("/earnings", h.HandleGetEarnings).Methods("GET")
	api.HandleFunc("/commissions/{id}/paid", h.HandleMarkCommissionPaid).Methods("PUT")

	return r
}

// HandleHealth возвращает статус здоровья сервиса
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, "OK", map[string]string{
		"status": "healthy",
	})
}

package handler

import (
	"net/http"

	"github.com/Dan9191/auth-service/internal/auth"
	"github.com/Dan9191/auth-service/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the public and token-protected routes. Request logging
// wraps the whole router so unmatched routes are logged too.
func NewRouter(h *Handler, tokens *auth.TokenManager, log *logrus.Logger) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	// Public routes
	r.HandleFunc("/", h.Home).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/verify", h.Verify).Methods("POST")
	r.HandleFunc("/forgot", h.Forgot).Methods("POST")
	r.HandleFunc("/reset", h.Reset).Methods("POST")

	// Protected routes
	requireToken := middleware.AuthMiddleware(tokens, log)
	r.Handle("/token", requireToken(http.HandlerFunc(h.RefreshToken))).Methods("GET")

	return middleware.Logging(log)(r)
}

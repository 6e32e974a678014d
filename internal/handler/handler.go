package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/auth-service/internal/auth"
	"github.com/Dan9191/auth-service/internal/config"
	"github.com/Dan9191/auth-service/internal/middleware"
	"github.com/Dan9191/auth-service/internal/models"
	"github.com/Dan9191/auth-service/internal/service"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/sirupsen/logrus"
)

// AuthService is the business logic behind the HTTP handlers
type AuthService interface {
	Health(ctx context.Context) error
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string, client models.ClientInfo) (*service.AuthResult, error)
	Verify(ctx context.Context, verification string) (*service.VerifyResult, error)
	ForgotPassword(ctx context.Context, email string, client models.ClientInfo) (*service.ForgotResult, error)
	ResetPassword(ctx context.Context, verification, password string, client models.ClientInfo) error
	RefreshToken(ctx context.Context, claims *auth.Claims, client models.ClientInfo) (*service.AuthResult, error)
}

type Handler struct {
	svc          AuthService
	log          *logrus.Logger
	cookieMaxAge time.Duration
	secureCookie bool
	trustProxy   bool
}

func NewHandler(svc AuthService, log *logrus.Logger, cfg *config.Config) *Handler {
	return &Handler{
		svc:          svc,
		log:          log,
		cookieMaxAge: cfg.JWTExpiration,
		secureCookie: cfg.IsProduction(),
		trustProxy:   cfg.TrustProxyHeaders,
	}
}

// Home handles the service root
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "auth-service",
		"status":  "ok",
	})
}

// Health reports whether the datastore is reachable
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health(r.Context()); err != nil {
		h.log.Errorf("Health check failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, MsgUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFound answers unknown routes
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, MsgURLNotFound)
}

// MethodNotAllowed answers known routes called with the wrong method
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.svc.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Name:     req.Name,
		Age:      req.Age,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.setTokenCookie(w, result.Token)
	writeJSON(w, http.StatusCreated, result)
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.svc.Login(r.Context(), req.Email, req.Password, h.clientInfo(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.setTokenCookie(w, result.Token)
	writeJSON(w, http.StatusOK, result)
}

// Verify handles email verification
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.svc.Verify(r.Context(), req.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Forgot handles password reset requests
func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req ForgotRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.svc.ForgotPassword(r.Context(), req.Email, h.clientInfo(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Reset handles password changes with a reset id
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.ID, req.Password, h.clientInfo(r)); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"msg": service.MsgPasswordChanged})
}

// RefreshToken issues a new token for an authenticated caller
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, MsgUnauthorized)
		return
	}

	result, err := h.svc.RefreshToken(r.Context(), claims, h.clientInfo(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// fail maps service errors to their HTTP status and message code
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, MsgUserDoesNotExist)
	case errors.Is(err, service.ErrEmailAlreadyExists):
		writeError(w, http.StatusUnprocessableEntity, MsgEmailAlreadyExists)
	case errors.Is(err, service.ErrWrongPassword):
		writeError(w, http.StatusConflict, MsgWrongPassword)
	case errors.Is(err, service.ErrBlockedUser):
		writeError(w, http.StatusConflict, MsgBlockedUser)
	case errors.Is(err, service.ErrNotFoundOrAlreadyVerified):
		writeError(w, http.StatusNotFound, MsgNotVerified)
	case errors.Is(err, service.ErrNotFoundOrAlreadyUsed):
		writeError(w, http.StatusNotFound, MsgNotFoundOrUsed)
	case errors.Is(err, service.ErrPasswordTooLong):
		writeValidationError(w, validation.Errors{"password": err})
	default:
		h.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Errorf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, MsgInternalError)
	}
}

func (h *Handler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientInfo describes the caller
func (h *Handler) clientInfo(r *http.Request) models.ClientInfo {
	return models.ClientInfo{
		IP:      clientIP(r, h.trustProxy),
		Browser: r.UserAgent(),
	}
}

// clientIP reads X-Forwarded-For and X-Real-IP only when a trusted proxy
// sets them; otherwise the peer address is used.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
			return realIP
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

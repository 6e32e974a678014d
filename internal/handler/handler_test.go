package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/auth-service/internal/auth"
	"github.com/Dan9191/auth-service/internal/config"
	"github.com/Dan9191/auth-service/internal/models"
	"github.com/Dan9191/auth-service/internal/service"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockAuthService struct {
	healthFunc   func(ctx context.Context) error
	registerFunc func(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	loginFunc    func(ctx context.Context, email, password string, client models.ClientInfo) (*service.AuthResult, error)
	verifyFunc   func(ctx context.Context, verification string) (*service.VerifyResult, error)
	forgotFunc   func(ctx context.Context, email string, client models.ClientInfo) (*service.ForgotResult, error)
	resetFunc    func(ctx context.Context, verification, password string, client models.ClientInfo) error
	refreshFunc  func(ctx context.Context, claims *auth.Claims, client models.ClientInfo) (*service.AuthResult, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockAuthService) Health(ctx context.Context) error {
	if m.healthFunc != nil {
		return m.healthFunc(ctx)
	}
	return nil
}

func (m *mockAuthService) Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, in)
	}
	return nil, errNotImplemented
}

func (m *mockAuthService) Login(ctx context.Context, email, password string, client models.ClientInfo) (*service.AuthResult, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, email, password, client)
	}
	return nil, errNotImplemented
}

func (m *mockAuthService) Verify(ctx context.Context, verification string) (*service.VerifyResult, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, verification)
	}
	return nil, errNotImplemented
}

func (m *mockAuthService) ForgotPassword(ctx context.Context, email string, client models.ClientInfo) (*service.ForgotResult, error) {
	if m.forgotFunc != nil {
		return m.forgotFunc(ctx, email, client)
	}
	return nil, errNotImplemented
}

func (m *mockAuthService) ResetPassword(ctx context.Context, verification, password string, client models.ClientInfo) error {
	if m.resetFunc != nil {
		return m.resetFunc(ctx, verification, password, client)
	}
	return errNotImplemented
}

func (m *mockAuthService) RefreshToken(ctx context.Context, claims *auth.Claims, client models.ClientInfo) (*service.AuthResult, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, claims, client)
	}
	return nil, errNotImplemented
}

// =============================================================================
// Test Helpers
// =============================================================================

var testTokens = auth.NewTokenManager("test-secret", time.Hour)

func newTestRouter(svc AuthService) http.Handler {
	return newTestRouterWithConfig(svc, &config.Config{JWTExpiration: time.Hour, Environment: "test"})
}

func newTestRouterWithConfig(svc AuthService, cfg *config.Config) http.Handler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewRouter(NewHandler(svc, log, cfg), testTokens, log)
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func errorMsg(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errs, ok := body["errors"].(map[string]any)
	require.True(t, ok, "body has no errors object: %s", rec.Body.String())
	msg, _ := errs["msg"].(string)
	return msg
}

func authResult(id int64, email string) *service.AuthResult {
	tok, _ := testTokens.Generate(email, id)
	return &service.AuthResult{
		Token: tok,
		User:  &models.User{ID: id, Email: email, Name: "Test", Verification: "ver-" + email},
	}
}

// =============================================================================
// Routing
// =============================================================================

func TestHome(t *testing.T) {
	rec := doRequest(t, newTestRouter(&mockAuthService{}), http.MethodGet, "/", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestNotFound(t *testing.T) {
	rec := doRequest(t, newTestRouter(&mockAuthService{}), http.MethodGet, "/404url", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MsgURLNotFound, errorMsg(t, rec))
}

func TestMethodNotAllowed(t *testing.T) {
	rec := doRequest(t, newTestRouter(&mockAuthService{}), http.MethodGet, "/login", nil, nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, MsgMethodNotAllowed, errorMsg(t, rec))
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&mockAuthService{})
	rec := doRequest(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	router = newTestRouter(&mockAuthService{
		healthFunc: func(context.Context) error { return errors.New("db down") },
	})
	rec = doRequest(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, MsgUnavailable, errorMsg(t, rec))
}

// =============================================================================
// Register
// =============================================================================

func TestRegister_Created(t *testing.T) {
	var got service.RegisterInput
	router := newTestRouter(&mockAuthService{
		registerFunc: func(_ context.Context, in service.RegisterInput) (*service.AuthResult, error) {
			got = in
			return authResult(1, in.Email), nil
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/register", map[string]any{
		"email": "alice@example.com", "password": "secret", "name": "Alice", "username": "alice", "age": 30,
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, service.RegisterInput{
		Email: "alice@example.com", Password: "secret", Name: "Alice", Username: "alice", Age: 30,
	}, got)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["token"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ver-alice@example.com", user["verification"])
	assert.NotContains(t, user, "password_hash")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "token", cookies[0].Name)
	assert.Equal(t, body["token"], cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestRegister_Duplicate(t *testing.T) {
	router := newTestRouter(&mockAuthService{
		registerFunc: func(context.Context, service.RegisterInput) (*service.AuthResult, error) {
			return nil, service.ErrEmailAlreadyExists
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/register", map[string]any{
		"email": "alice@example.com", "password": "secret", "name": "Alice",
	}, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, MsgEmailAlreadyExists, errorMsg(t, rec))
}

func TestRegister_ValidationErrors(t *testing.T) {
	called := false
	router := newTestRouter(&mockAuthService{
		registerFunc: func(context.Context, service.RegisterInput) (*service.AuthResult, error) {
			called = true
			return nil, nil
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/register", map[string]any{
		"email": "not-an-email", "password": "123", "age": -1,
	}, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, called)

	errs := decodeBody(t, rec)["errors"].(map[string]any)
	assert.Equal(t, MsgValidationError, errs["msg"])
	fields := errs["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "age")
}

func TestRegister_PasswordLongerThanBcryptLimit(t *testing.T) {
	called := false
	router := newTestRouter(&mockAuthService{
		registerFunc: func(context.Context, service.RegisterInput) (*service.AuthResult, error) {
			called = true
			return nil, nil
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/register", map[string]any{
		"email": "long@example.com", "password": strings.Repeat("a", 80), "name": "Long",
	}, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, called)
	errs := decodeBody(t, rec)["errors"].(map[string]any)
	assert.Equal(t, MsgValidationError, errs["msg"])
	assert.Contains(t, errs["fields"], "password")
}

func TestPasswordTooLongFromServiceIsValidationError(t *testing.T) {
	router := newTestRouter(&mockAuthService{
		registerFunc: func(context.Context, service.RegisterInput) (*service.AuthResult, error) {
			return nil, service.ErrPasswordTooLong
		},
		resetFunc: func(context.Context, string, string, models.ClientInfo) error {
			return fmt.Errorf("hash: %w", service.ErrPasswordTooLong)
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/register", map[string]any{
		"email": "long@example.com", "password": "12345", "name": "Long",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errs := decodeBody(t, rec)["errors"].(map[string]any)
	assert.Equal(t, MsgValidationError, errs["msg"])
	assert.Contains(t, errs["fields"], "password")

	rec = doRequest(t, router, http.MethodPost, "/reset", map[string]string{"id": "reset-1", "password": "12345"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, MsgValidationError, errorMsg(t, rec))
}

func TestRegister_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	newTestRouter(&mockAuthService{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, MsgInvalidJSON, errorMsg(t, rec))
}

func TestRegister_InternalError(t *testing.T) {
	router := newTestRouter(&mockAuthService{
		registerFunc: func(context.Context, service.RegisterInput) (*service.AuthResult, error) {
			return nil, errors.New("connection reset")
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/register", map[string]any{
		"email": "alice@example.com", "password": "secret", "name": "Alice",
	}, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgInternalError, errorMsg(t, rec))
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

// =============================================================================
// Login
// =============================================================================

func TestLogin_Success(t *testing.T) {
	var gotClient models.ClientInfo
	router := newTestRouterWithConfig(&mockAuthService{
		loginFunc: func(_ context.Context, email, password string, client models.ClientInfo) (*service.AuthResult, error) {
			gotClient = client
			return authResult(1, email), nil
		},
	}, &config.Config{JWTExpiration: time.Hour, TrustProxyHeaders: true})

	rec := doRequest(t, router, http.MethodPost, "/login",
		map[string]string{"email": "admin@admin.com", "password": "12345"},
		map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.1", "User-Agent": "chai-http"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["token"])
	assert.Equal(t, models.ClientInfo{IP: "198.51.100.4", Browser: "chai-http"}, gotClient)
	assert.Len(t, rec.Result().Cookies(), 1)
}

func TestLogin_Errors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{service.ErrWrongPassword, http.StatusConflict, MsgWrongPassword},
		{service.ErrBlockedUser, http.StatusConflict, MsgBlockedUser},
		{service.ErrUserNotFound, http.StatusNotFound, MsgUserDoesNotExist},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			router := newTestRouter(&mockAuthService{
				loginFunc: func(context.Context, string, string, models.ClientInfo) (*service.AuthResult, error) {
					return nil, tc.err
				},
			})

			rec := doRequest(t, router, http.MethodPost, "/login",
				map[string]string{"email": "bad@user.com", "password": "12345"}, nil)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.msg, errorMsg(t, rec))
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

// =============================================================================
// Verify, forgot, reset
// =============================================================================

func TestVerify(t *testing.T) {
	router := newTestRouter(&mockAuthService{
		verifyFunc: func(_ context.Context, verification string) (*service.VerifyResult, error) {
			if verification != "ver-1" {
				return nil, service.ErrNotFoundOrAlreadyVerified
			}
			return &service.VerifyResult{Email: "alice@example.com", Verified: true}, nil
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/verify", map[string]string{"id": "ver-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, true, body["verified"])

	rec = doRequest(t, router, http.MethodPost, "/verify", map[string]string{"id": "other"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MsgNotVerified, errorMsg(t, rec))

	rec = doRequest(t, router, http.MethodPost, "/verify", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestForgot(t *testing.T) {
	router := newTestRouter(&mockAuthService{
		forgotFunc: func(_ context.Context, email string, _ models.ClientInfo) (*service.ForgotResult, error) {
			return &service.ForgotResult{Msg: service.MsgResetEmailSent, Verification: "reset-1"}, nil
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/forgot", map[string]string{"email": "alice@example.com"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, service.MsgResetEmailSent, body["msg"])
	assert.Equal(t, "reset-1", body["verification"])
}

func TestReset(t *testing.T) {
	router := newTestRouter(&mockAuthService{
		resetFunc: func(_ context.Context, verification, password string, _ models.ClientInfo) error {
			if verification != "reset-1" {
				return service.ErrNotFoundOrAlreadyUsed
			}
			return nil
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/reset", map[string]string{"id": "reset-1", "password": "12345"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.MsgPasswordChanged, decodeBody(t, rec)["msg"])

	rec = doRequest(t, router, http.MethodPost, "/reset", map[string]string{"id": "used", "password": "12345"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MsgNotFoundOrUsed, errorMsg(t, rec))

	rec = doRequest(t, router, http.MethodPost, "/reset", map[string]string{"id": "reset-1", "password": strings.Repeat("a", 80)}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, MsgValidationError, errorMsg(t, rec))
}

// =============================================================================
// Token refresh
// =============================================================================

func TestRefreshToken_NoToken(t *testing.T) {
	rec := doRequest(t, newTestRouter(&mockAuthService{}), http.MethodGet, "/token", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshToken_Success(t *testing.T) {
	var gotClaims *auth.Claims
	router := newTestRouter(&mockAuthService{
		refreshFunc: func(_ context.Context, claims *auth.Claims, _ models.ClientInfo) (*service.AuthResult, error) {
			gotClaims = claims
			return authResult(claims.UserID, claims.Email), nil
		},
	})
	tok, err := testTokens.Generate("admin@admin.com", 5)
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, "/token", nil, map[string]string{"Authorization": "Bearer " + tok})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["token"])
	require.NotNil(t, gotClaims)
	assert.Equal(t, int64(5), gotClaims.UserID)
	assert.Equal(t, "admin@admin.com", gotClaims.Email)
}

// =============================================================================
// Helpers
// =============================================================================

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(req, true))

	req.Header.Set("X-Real-IP", "192.0.2.9")
	assert.Equal(t, "192.0.2.9", clientIP(req, true))

	req.Header.Set("X-Forwarded-For", "192.0.2.7, 192.0.2.8")
	assert.Equal(t, "192.0.2.7", clientIP(req, true))
}

func TestClientIP_IgnoresProxyHeadersUnlessTrusted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "8.8.8.8")
	req.Header.Set("X-Real-IP", "8.8.4.4")

	assert.Equal(t, "192.0.2.1", clientIP(req, false))
}

func TestClientIP_SkipsMalformedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "not-an-ip")

	assert.Equal(t, "192.0.2.1", clientIP(req, true))
}

func TestLogin_UsesPeerAddressByDefault(t *testing.T) {
	var got models.ClientInfo
	router := newTestRouter(&mockAuthService{
		loginFunc: func(_ context.Context, email, _ string, client models.ClientInfo) (*service.AuthResult, error) {
			got = client
			return authResult(1, email), nil
		},
	})

	rec := doRequest(t, router, http.MethodPost, "/login",
		map[string]string{"email": "admin@admin.com", "password": "12345"},
		map[string]string{"X-Forwarded-For": "8.8.8.8"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "192.0.2.1", got.IP)
}

func TestRouter_LogsUnmatchedRoutes(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	cfg := &config.Config{JWTExpiration: time.Hour}
	router := NewRouter(NewHandler(&mockAuthService{}, log, cfg), testTokens, log)

	rec := doRequest(t, router, http.MethodGet, "/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, router, http.MethodDelete, "/login", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, http.StatusNotFound, entries[0].Data["status"])
	assert.Equal(t, "/missing", entries[0].Data["path"])
	assert.Equal(t, http.StatusMethodNotAllowed, entries[1].Data["status"])
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"go-converse/internal/auth"
	"go-converse/internal/database"
	"go-converse/internal/server"
	"go-converse/internal/stats"
	"go-converse/internal/testutil"
)

var testSigningKey = []byte("test-signing-key")

func newTestApp(t *testing.T, db database.ChatRepository) *App {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)

	cs, err := server.NewChatServer(testutil.TestLogger(t), db, su)
	assert.NoError(t, err, "expected no error creating chat server")

	return &App{
		log:            testutil.TestLogger(t),
		db:             db,
		cs:             cs,
		verifier:       auth.NewTokenVerifier(testSigningKey),
		validate:       validator.New(),
		allowedOrigins: []string{"http://localhost:3000"},
		generateShortId: func() (string, error) {
			return "abc123", nil
		},
	}
}

func TestAuthMiddleware(t *testing.T) {
	a := newTestApp(t, &database.MockChatRepository{})

	handler := a.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		assert.True(t, ok, "expected user id in request context")
		assert.Equal(t, 42, userId, "expected the verified user id")
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token cookie", func(t *testing.T) {
		token, err := a.verifier.Issue(42, time.Minute)
		assert.NoError(t, err, "expected no error issuing token")

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: auth.TokenCookieName, Value: token})
		rr := httptest.NewRecorder()

		handler(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected the handler to run")
		assert.Equal(t, "no-store, no-cache, must-revalidate, private",
			rr.Header().Get("Cache-Control"), "expected no-store cache policy")
	})

	t.Run("valid bearer token", func(t *testing.T) {
		token, err := a.verifier.Issue(42, time.Minute)
		assert.NoError(t, err, "expected no error issuing token")

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()

		handler(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected the handler to run")
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		rr := httptest.NewRecorder()

		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected unauthorized")
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: auth.TokenCookieName, Value: "not-a-token"})
		rr := httptest.NewRecorder()

		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected unauthorized")
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		otherVerifier := auth.NewTokenVerifier([]byte("some-other-key"))
		token, err := otherVerifier.Issue(42, time.Minute)
		assert.NoError(t, err, "expected no error issuing token")

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: auth.TokenCookieName, Value: token})
		rr := httptest.NewRecorder()

		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected unauthorized")
	})
}

func Test_errorHandler(t *testing.T) {
	a := newTestApp(t, &database.MockChatRepository{})

	handler := a.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected internal server error")
	assert.Equal(t, "close", rr.Header().Get("Connection"), "expected connection close")
}

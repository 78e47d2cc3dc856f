package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/database"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/moderators"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningSecret     = "server-test-secret"
	testSessionIssuer     = "campaign-auth"
	testSessionCookie     = "app_session"
	testModeratorPassword = "correct horse battery staple"
	jsonContentType       = "application/json"
)

type testEnvironment struct {
	handler    http.Handler
	ledger     *ledger.Service
	store      *ledger.GormStore
	dispatcher *realtime.Dispatcher
	metrics    *metrics.Recorder
}

func newTestEnvironment(t *testing.T, mutate func(*Dependencies)) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Options{Path: filepath.Join(t.TempDir(), "campaign.db")})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	dispatcher := realtime.NewDispatcher(0)
	t.Cleanup(dispatcher.Close)
	recorder := metrics.NewRecorder()

	store, err := ledger.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	ledgerService, err := ledger.NewService(ledger.ServiceConfig{
		Store:            store,
		IDProvider:       ledger.NewUUIDProvider(),
		Notifier:         dispatcher,
		Observer:         recorder,
		Logger:           zap.NewNop(),
		SettingsID:       "main",
		DefaultHeroTitle: "Our campaign",
	})
	if err != nil {
		t.Fatalf("failed to build ledger service: %v", err)
	}
	if _, err := ledgerService.Bootstrap(testContext(t)); err != nil {
		t.Fatalf("failed to bootstrap ledger: %v", err)
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookie,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(testModeratorPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	passwordVerifier, err := auth.NewPasswordVerifier(string(hash))
	if err != nil {
		t.Fatalf("failed to build password verifier: %v", err)
	}
	moderatorService, err := moderators.NewService(moderators.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build moderator service: %v", err)
	}

	deps := Dependencies{
		Ledger:            ledgerService,
		Sessions:          sessionValidator,
		Tokens:            tokenIssuer,
		Passwords:         passwordVerifier,
		Moderators:        moderatorService,
		Feed:              dispatcher,
		Metrics:           recorder,
		Logger:            zap.NewNop(),
		SubmitBurst:       100,
		HeartbeatInterval: time.Minute,
	}
	if mutate != nil {
		mutate(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testEnvironment{handler: handler, ledger: ledgerService, store: store, dispatcher: dispatcher, metrics: recorder}
}

func (e *testEnvironment) perform(t *testing.T, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if mutate != nil {
		mutate(request)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func (e *testEnvironment) login(t *testing.T) *http.Cookie {
	t.Helper()
	response := e.perform(t, http.MethodPost, "/auth/login", map[string]string{"password": testModeratorPassword}, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", response.Code, response.Body.String())
	}
	for _, cookie := range response.Result().Cookies() {
		if cookie.Name == testSessionCookie {
			return cookie
		}
	}
	t.Fatalf("expected %s cookie after login", testSessionCookie)
	return nil
}

func withCookie(cookie *http.Cookie) func(*http.Request) {
	return func(request *http.Request) {
		request.AddCookie(cookie)
	}
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

// testContext returns a context that is canceled when the test finishes,
// mirroring testing.T.Context for toolchains that predate it.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/realtime"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	moderatorIDContextKey = "campaign_moderator_id"

	defaultPollInterval      = 30 * time.Second
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingLedgerService   = errors.New("ledger service dependency required")
	errMissingSessions        = errors.New("session validator dependency required")
	errMissingTokenIssuer     = errors.New("token issuer dependency required")
	errMissingModerators      = errors.New("moderator resolver dependency required")
	errMissingFeed            = errors.New("realtime feed dependency required")
	errMissingMetricsRecorder = errors.New("metrics recorder dependency required")
)

// SessionValidator authenticates moderator requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// SessionIssuer signs moderator sessions after a successful login.
type SessionIssuer interface {
	IssueSessionToken(ctx context.Context, identity auth.Identity) (auth.IssuedToken, error)
}

// PasswordVerifier checks the shared moderator password.
type PasswordVerifier interface {
	Verify(password string) error
}

// ModeratorResolver maps validated claims to a canonical moderator id.
type ModeratorResolver interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Ledger     *ledger.Service
	Sessions   SessionValidator
	Tokens     SessionIssuer
	Passwords  PasswordVerifier
	Moderators ModeratorResolver
	Feed       realtime.Feed
	Metrics    *metrics.Recorder
	Logger     *zap.Logger

	AllowedOrigins      []string
	SubmitRatePerMinute float64
	SubmitBurst         int
	PollInterval        time.Duration
	HeartbeatInterval   time.Duration
	// SecureCookies marks the session cookie Secure; disable only for plain-HTTP development.
	SecureCookies bool
}

// NewHTTPHandler builds the gin engine serving the public and moderator APIs.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Ledger == nil {
		return nil, errMissingLedgerService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Moderators == nil {
		return nil, errMissingModerators
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}
	if deps.Metrics == nil {
		return nil, errMissingMetricsRecorder
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pollInterval := deps.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	heartbeatInterval := deps.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(deps.Metrics.Middleware())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		ledger:            deps.Ledger,
		sessions:          deps.Sessions,
		tokens:            deps.Tokens,
		passwords:         deps.Passwords,
		moderators:        deps.Moderators,
		feed:              deps.Feed,
		metrics:           deps.Metrics,
		logger:            logger,
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
		secureCookies:     deps.SecureCookies,
		newTicker:         realtime.NewSystemTicker,
	}
	submitLimiter := newRateLimiter(deps.SubmitRatePerMinute, deps.SubmitBurst)

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	router.GET("/campaign", handler.handleCampaign)
	router.GET("/campaign/stream", handler.handleCampaignStream)
	router.POST("/payment-requests", submitLimiter.middleware(), handler.handleSubmit)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/logout", handler.handleLogout)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeModerator)
	admin.GET("/snapshot", handler.handleSnapshot)
	admin.GET("/stream", handler.handleSnapshotStream)
	admin.POST("/payment-requests/:id/approve", handler.handleApprove)
	admin.POST("/payment-requests/:id/reject", handler.handleReject)
	admin.DELETE("/payment-requests/:id", handler.handleDeleteRequest)
	admin.POST("/contributions", handler.handleAddContribution)
	admin.PATCH("/contributions/:id", handler.handleEditContribution)
	admin.DELETE("/contributions/:id", handler.handleDeleteContribution)
	admin.PATCH("/settings", handler.handleEditSettings)
	admin.POST("/reconcile", handler.handleReconcile)

	return router, nil
}

type httpHandler struct {
	ledger     *ledger.Service
	sessions   SessionValidator
	tokens     SessionIssuer
	passwords  PasswordVerifier
	moderators ModeratorResolver
	feed       realtime.Feed
	metrics    *metrics.Recorder
	logger     *zap.Logger

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	secureCookies     bool
	newTicker         realtime.TickerFactory
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "If-None-Match"},
		ExposeHeaders:    []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

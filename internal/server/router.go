package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ourea-as/meadstats-api/internal/aggregate"
	"github.com/ourea-as/meadstats-api/internal/auth"
	"github.com/ourea-as/meadstats-api/internal/reconcile"
	"github.com/ourea-as/meadstats-api/internal/records"
	"github.com/ourea-as/meadstats-api/internal/stats"
)

const (
	userNameContextKey       = "meadstats_user_name"
	defaultSessionCookieName = "jwt_token"
	defaultHeartbeatInterval = 25 * time.Second

	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

var (
	errMissingStatsService  = errors.New("stats service dependency required")
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingTokenIssuer   = errors.New("session token issuer dependency required")
	errMissingValidator     = errors.New("session validator dependency required")
	errMissingSyncStarter   = errors.New("sync runner dependency required")
	errMissingRefresher     = errors.New("first page refresher dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("session token missing or invalid")
)

// StatsService answers the read-only statistics endpoints.
type StatsService interface {
	Profile(ctx context.Context, username string) (*records.User, error)
	Checkins(ctx context.Context, username string) ([]records.Checkin, error)
	Friends(ctx context.Context, username string) ([]records.User, error)
	Countries(ctx context.Context, username string) ([]aggregate.CountryGroup, error)
	Country(ctx context.Context, username, code string) (stats.CountryReport, error)
	Breakdown(ctx context.Context, username string, dimension stats.Dimension) ([]aggregate.Group[int], error)
	Timeline(ctx context.Context, username string) ([]aggregate.TimelinePoint, error)
	TastingUsers(ctx context.Context, ids []int64) ([]records.User, error)
	TastingBeers(ctx context.Context, ids []int64) ([]records.Beer, error)
	TastingCheckins(ctx context.Context, userIDs, beerIDs []int64) ([]records.Checkin, error)
}

// Authenticator signs users in with Untappd and resolves session subjects.
type Authenticator interface {
	Authenticate(ctx context.Context, code string) (*records.User, error)
	ResolveSessionUser(ctx context.Context, userName string) (*records.User, error)
}

type SessionTokenIssuer interface {
	IssueSessionToken(ctx context.Context, userName string) (string, int64, error)
}

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type SyncStarter interface {
	Start(ctx context.Context, request reconcile.Request) (*reconcile.Run, error)
}

type FirstPageRefresher interface {
	RefreshFirstPage(ctx context.Context, user records.User) (bool, error)
}

// Dependencies wires the HTTP surface to the services behind it.
type Dependencies struct {
	Stats         StatsService
	Authenticator Authenticator
	TokenIssuer   SessionTokenIssuer
	Validator     SessionValidator
	Syncs         SyncStarter
	Refresher     FirstPageRefresher
	Realtime      *RealtimeDispatcher

	// AppURL is where a successful sign-in redirects to.
	AppURL       string
	CookieDomain string
	CookieName   string
	// TastingAdmin is the only user allowed to refresh tasting participants.
	TastingAdmin      string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Stats == nil:
		return nil, errMissingStatsService
	case deps.Authenticator == nil:
		return nil, errMissingAuthenticator
	case deps.TokenIssuer == nil:
		return nil, errMissingTokenIssuer
	case deps.Validator == nil:
		return nil, errMissingValidator
	case deps.Syncs == nil:
		return nil, errMissingSyncStarter
	case deps.Refresher == nil:
		return nil, errMissingRefresher
	case deps.Realtime == nil:
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := strings.TrimSpace(deps.CookieName)
	if cookieName == "" {
		cookieName = defaultSessionCookieName
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		stats:         deps.Stats,
		authenticator: deps.Authenticator,
		tokens:        deps.TokenIssuer,
		validator:     deps.Validator,
		syncs:         deps.Syncs,
		refresher:     deps.Refresher,
		realtime:      deps.Realtime,
		appURL:        strings.TrimSpace(deps.AppURL),
		cookieDomain:  strings.TrimSpace(deps.CookieDomain),
		cookieName:    cookieName,
		tastingAdmin:  strings.TrimSpace(deps.TastingAdmin),
		heartbeat:     heartbeat,
		logger:        logger,
	}

	router.GET("/", handler.handleHealth)
	router.GET("/auth_callback", handler.handleAuthCallback)

	v1 := router.Group("/v1")
	users := v1.Group("/users/:username")
	users.GET("", handler.handleProfile)
	users.GET("/checkins", handler.handleCheckins)
	users.GET("/friends", handler.handleFriends)
	users.GET("/countries", handler.handleCountries)
	users.GET("/countries/:code", handler.handleCountry)
	users.GET("/dayofweek", handler.breakdownHandler(stats.DimensionWeekday, "weekdays", "weekday"))
	users.GET("/timeofday", handler.breakdownHandler(stats.DimensionHour, "hours", "hour"))
	users.GET("/month", handler.breakdownHandler(stats.DimensionMonth, "months", "month"))
	users.GET("/year", handler.breakdownHandler(stats.DimensionYear, "years", "year"))
	users.GET("/graph", handler.handleGraph)

	tasting := v1.Group("/tasting")
	tasting.GET("/users", handler.handleTastingUsers)
	tasting.GET("/beers", handler.handleTastingBeers)
	tasting.GET("/checkins", handler.handleTastingCheckins)

	protected := v1.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/users/:username/update", handler.handleStartSync)
	protected.GET("/updates/stream", handler.handleUpdateStream)
	protected.POST("/tasting/updateUsers", handler.handleTastingUpdate)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	stats         StatsService
	authenticator Authenticator
	tokens        SessionTokenIssuer
	validator     SessionValidator
	syncs         SyncStarter
	refresher     FirstPageRefresher
	realtime      *RealtimeDispatcher
	appURL        string
	cookieDomain  string
	cookieName    string
	tastingAdmin  string
	heartbeat     time.Duration
	logger        *zap.Logger
}

func respondSuccess(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"status": statusSuccess, "data": data})
}

func respondFail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"status": statusFail, "message": message})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "Healthy")
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredSessionToken), errors.Is(err, auth.ErrMissingSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		respondFail(c, http.StatusUnauthorized, errInvalidAuthorization.Error())
		return
	}
	c.Set(userNameContextKey, claims.UserName)
	c.Next()
}

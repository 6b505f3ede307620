package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"matti/backend/internal/analysis"
	"matti/backend/internal/analytics"
	"matti/backend/internal/config"
	"matti/backend/internal/followup"
	"matti/backend/internal/metrics"
	"matti/backend/internal/pipeline"
)

type App struct {
	cfg       config.Config
	analyzer  *analysis.Analyzer
	scheduler *followup.Scheduler
	pipeline  *pipeline.Pipeline
	analytics *analytics.Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger
	picker    analysis.Picker
}

// Deps are the collaborators built by the binary. Analytics and Metrics may
// be nil; a nil Picker draws welcome messages at random.
type Deps struct {
	Analyzer  *analysis.Analyzer
	Scheduler *followup.Scheduler
	Pipeline  *pipeline.Pipeline
	Analytics *analytics.Publisher
	Metrics   *metrics.Metrics
	Logger    *log.Logger
	Picker    analysis.Picker
}

type AuthUser struct {
	ID   string
	Name string
}

func New(cfg config.Config, deps Deps) *App {
	picker := deps.Picker
	if picker == nil {
		picker = analysis.RandomPicker()
	}
	return &App{
		cfg:       cfg,
		analyzer:  deps.Analyzer,
		scheduler: deps.Scheduler,
		pipeline:  deps.Pipeline,
		analytics: deps.Analytics,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		picker:    picker,
	}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(a.requestLogger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)
	if a.cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}

	api := router.Group(a.cfg.APIPrefix)
	api.Use(a.authMiddleware())

	api.POST("/analysis/text", a.analyzeText)
	api.POST("/analysis/conversation", a.analyzeConversation)
	api.POST("/chat/exchange", a.processExchange)
	api.GET("/welcome", a.welcome)
	api.GET("/themes", a.themes)

	api.POST("/actions", a.createAction)
	api.GET("/actions", a.listActions)
	api.GET("/actions/stats", a.actionStats)
	api.PATCH("/actions/:action_id/status", a.updateActionStatus)
	api.GET("/actions/:action_id/follow-ups", a.listActionFollowUps)
	api.POST("/actions/:action_id/follow-ups", a.rescheduleActionFollowUps)
	api.GET("/follow-ups/pending", a.pendingFollowUps)
	api.POST("/follow-ups/:follow_up_id/respond", a.respondFollowUp)

	api.POST("/outcomes/summary", a.outcomeSummary)
	api.POST("/sessions/start", a.sessionStart)
	api.POST("/sessions/end", a.sessionEnd)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"service":          "matti-api",
		"keywords_version": a.analyzer.Version(),
	})
}

// requestLogger logs each request and records it under its route template.
func (a *App) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		a.metrics.RecordHTTPRequest(c.Request.Method, path, status, elapsed)
		a.logger.Debug("request", "method", c.Request.Method, "path", path, "status", status, "duration", elapsed)
	}
}

func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}
		tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenString == "" {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(c, http.StatusUnauthorized, "Invalid bearer token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Invalid token payload")
			return
		}
		if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
			writeError(c, http.StatusUnauthorized, "Invalid token audience")
			return
		}
		if a.cfg.JWTIssuer != "" {
			issuer, _ := claims["iss"].(string)
			if issuer != a.cfg.JWTIssuer {
				writeError(c, http.StatusUnauthorized, "Invalid token issuer")
				return
			}
		}
		sub, _ := claims["sub"].(string)
		sub = strings.TrimSpace(sub)
		if sub == "" {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}
		name, _ := claims["name"].(string)

		c.Set("authUser", AuthUser{ID: sub, Name: strings.TrimSpace(name)})
		c.Next()
	}
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

// mustAuthUser writes 401 and returns false when the middleware did not run.
func mustAuthUser(c *gin.Context) (AuthUser, bool) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
	}
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// writeServiceError maps domain errors to HTTP statuses. Anything unknown
// is logged and reported as a 500 without internals.
func (a *App) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, followup.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, followup.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, followup.ErrInvalidAction),
		errors.Is(err, analysis.ErrInvalidInput),
		errors.Is(err, pipeline.ErrInvalidExchange),
		errors.Is(err, analytics.ErrInvalidEvent):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		writeError(c, http.StatusInternalServerError, "Internal server error")
	}
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"deckmerge/internal/merge"
	"deckmerge/internal/services/health"
	"deckmerge/internal/shared/config"
	"deckmerge/internal/shared/metrics"
	"deckmerge/internal/shared/server/middleware"
	"deckmerge/web"
)

const mergeRateGroup = "MERGE"

// RouterDeps lists the handlers mounted by NewRouter.
type RouterDeps struct {
	Config       config.Config
	MergeHandler *merge.Handler
	Health       *health.Service
	RateLimiter  *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(mergeRateLimit(deps)),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService(deps.Config.UploadDir)
	}
	r.GET("/health", healthSvc.Handler())
	r.GET("/metrics", metrics.Handler())

	web.RegisterRoutes(r)
	if deps.MergeHandler != nil {
		deps.MergeHandler.RegisterRoutes(r)
	}

	return r
}

func mergeRateLimit(deps RouterDeps) middleware.RateLimitConfig {
	rules := map[string]middleware.RateLimitRule{}
	if deps.Config.MergeRatePerMinute > 0 {
		rules[mergeRateGroup] = middleware.PerMinute(deps.Config.MergeRatePerMinute)
	}
	return middleware.RateLimitConfig{
		Rules:   rules,
		Limiter: deps.RateLimiter,
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodPost && c.FullPath() == "/merge" {
				return mergeRateGroup
			}
			return ""
		},
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":3000"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}

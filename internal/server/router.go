package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/suplementia/search-backend/internal/handlers"
	"github.com/suplementia/search-backend/internal/middleware"
	"github.com/suplementia/search-backend/internal/platform/envutil"
)

type RouterConfig struct {
	SearchHandler     *handlers.SearchHandler
	SupplementHandler *handlers.SupplementHandler
	DiscoveryHandler  *handlers.DiscoveryHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if envutil.Str("APP_MODE", "development") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware("search-backend"))

	origins := strings.Split(envutil.Str("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/search", cfg.SearchHandler.Search)

		api.POST("/supplements", cfg.SupplementHandler.Create)
		api.GET("/supplements/:id", cfg.SupplementHandler.Get)
		api.PATCH("/supplements/:id", cfg.SupplementHandler.Update)

		api.GET("/discovery", cfg.DiscoveryHandler.List)
		api.GET("/discovery/:term", cfg.DiscoveryHandler.Get)
		api.POST("/discovery/:term/requeue", cfg.DiscoveryHandler.Requeue)
	}

	return router
}

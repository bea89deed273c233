package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/middleware"
)

// NewRouter assembles the gin engine: recovery, request logging, CORS, then
// the health and graph routes.
func NewRouter(cfg *config.Config, graph *GraphHandler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))

	NewHealthHandler(cfg, logger).RegisterRoutes(router)
	graph.RegisterRoutes(router.Group("/api"))
	return router
}

func corsConfig(origins []string) cors.Config {
	cc := cors.DefaultConfig()
	cc.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cc.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	cc.MaxAge = 12 * time.Hour
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}

// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"keyboard-service/internal/config"
	"keyboard-service/internal/handler"
	"keyboard-service/internal/middleware"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	db        handler.DatabaseChecker
	keyboards handler.KeyboardManager
	updates   handler.UpdateManager
	eventBus  *handler.EventBus
}

// NewRouter creates a new router instance. db is nil when the database is disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db handler.DatabaseChecker,
	keyboards handler.KeyboardManager,
	updates handler.UpdateManager,
	eventBus *handler.EventBus,
) *Router {
	return &Router{
		config:    config,
		logger:    logger,
		db:        db,
		keyboards: keyboards,
		updates:   updates,
		eventBus:  eventBus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)
	r.addDocumentationRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(r.logger))
	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.updates, r.config, r.logger)
	keyboardHandler := handler.NewKeyboardHandler(r.keyboards, r.updates, r.logger)
	updateHandler := handler.NewUpdateHandler(r.updates, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.eventBus, r.updates, r.config.Security.AllowedOrigins, r.logger)
	wsHandler.Start()

	healthHandler.RegisterRoutes(router.Group(""))

	apiV1 := router.Group("/api/v1")
	keyboardHandler.RegisterRoutes(apiV1)
	updateHandler.RegisterRoutes(apiV1)

	wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}

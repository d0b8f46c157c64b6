package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qazdrive/uploadhub/cmd/upload-gateway/routes"
	"github.com/qazdrive/uploadhub/internal/auth"
	"github.com/qazdrive/uploadhub/internal/common"
	"github.com/qazdrive/uploadhub/internal/courses"
	"github.com/qazdrive/uploadhub/internal/storage"
	"github.com/qazdrive/uploadhub/internal/upload"
	"github.com/qazdrive/uploadhub/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()

	// Setup logging
	cfg.Logging.SetupLogging()

	log.Info().Msg("Starting upload gateway")

	// Initialize database
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize cache
	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cache.Close()

	// Initialize storage
	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	blobStorage, err := storageFactory.CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	// Initialize services
	authService := auth.NewService(db, cache, &cfg.Auth)
	uploadService := upload.NewService(upload.NewGormSessionStore(db), blobStorage, &cfg.Upload)
	coursesService := courses.NewService(db, blobStorage)

	// Completed uploads become course videos
	uploadService.OnComplete(coursesService.VideoFromUpload)

	// Background sweeper for expired upload sessions
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeper := upload.NewSweeper(uploadService, cache, &cfg.Upload)
	go sweeper.Run(sweeperCtx)

	// Setup HTTP server
	router := setupRouter(cfg, authService, uploadService, coursesService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopSweeper()

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

func setupRouter(cfg *config.Config, authService *auth.Service, uploadService *upload.Service, coursesService *courses.Service) *gin.Engine {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "upload-gateway",
			"time":    time.Now().UTC(),
		})
	})

	// API routes
	api := router.Group("/api")
	{
		routes.AuthRoutes(api, authService)
		routes.UploadRoutes(api, uploadService, authService, &cfg.Upload)
		routes.CoursesRoutes(api, coursesService, authService)
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Content-Range, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

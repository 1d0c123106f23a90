package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tutor-chat/internal/auth"
	"tutor-chat/internal/config"
	"tutor-chat/internal/database"
	"tutor-chat/internal/handlers"
	"tutor-chat/internal/services"
	"tutor-chat/internal/uploads"
	"tutor-chat/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.GlobalLogger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if err := cfg.RequireJWTSecret(); err != nil {
		logger.Fatal("%v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database: %v", err)
	}

	// Initialize uploads
	store, err := uploads.New(ctx, cfg.Uploads)
	if err != nil {
		logger.Fatal("Failed to initialize uploads: %v", err)
	}
	uploadDir := ""
	if local, ok := store.(*uploads.LocalStorage); ok {
		uploadDir = local.Dir()
	}

	// Initialize services and handlers
	authService := auth.NewService([]byte(cfg.JWT.Secret), cfg.JWT.ExpiresIn)
	chatHandlers := handlers.NewChatHandlers(services.NewChatService(db))
	uploadHandlers := handlers.NewUploadHandlers(uploads.NewUploader(store, cfg.Uploads.MaxBytes), cfg.Uploads.MaxBytes)

	server := &http.Server{
		Addr:         cfg.API.Port,
		Handler:      handlers.NewAPIRouter(authService, chatHandlers, uploadHandlers, uploadDir),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	logger.Info("🚀 API started on http://localhost%s (%s, uploads: %s)", cfg.API.Port, cfg.Database.Driver, cfg.Uploads.Backend)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("API shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   GET  /conversations")
	logger.Info("   POST /conversations")
	logger.Info("   GET  /messages/{conversationId}")
	logger.Info("   POST /messages")
	logger.Info("   PUT  /messages/read/{conversationId}")
	logger.Info("   POST /upload/{kind}")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tutor-chat/internal/auth"
	"tutor-chat/internal/broker"
	"tutor-chat/internal/config"
	"tutor-chat/internal/handlers"
	"tutor-chat/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.GlobalLogger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if err := cfg.RequireJWTSecret(); err != nil {
		logger.Fatal("%v", err)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := broker.NewMetrics(registry)

	// Broker
	authService := auth.NewService([]byte(cfg.JWT.Secret), cfg.JWT.ExpiresIn)
	b := broker.New(cfg.Broker, metrics, logger.GlobalLogger)
	wsHandlers := handlers.NewWebSocketHandlers(authService, b, cfg.Broker)

	// No write timeout: websocket connections are long lived and the
	// pumps set their own deadlines.
	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     handlers.NewBrokerRouter(wsHandlers),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		logger.Info("📈 Metrics: http://localhost%s/metrics", cfg.Metrics.Addr)
	}

	logger.Info("🚀 Broker started on ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Broker shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// hijacked websocket connections are not tracked by http.Server
	b.Shutdown()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(ctx)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"calihouse/client"
	"calihouse/config"
	"calihouse/dashboard"
	"calihouse/logging"
	"go.uber.org/zap"
)

func main() {
	backend := flag.String("backend", "", "prediction service base URL (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	flag.Parse()

	configPath := config.Find()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if configPath != "" {
		cfg.RelativeTo(filepath.Dir(configPath))
	}
	if *backend != "" {
		cfg.Dashboard.BackendURL = *backend
	}
	if *port > 0 {
		cfg.Dashboard.Port = *port
	}
	modelPath := cfg.Dashboard.ModelPath
	if modelPath == "" {
		modelPath = cfg.Model.Path
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	dash, err := dashboard.New(client.New(cfg.Dashboard.BackendURL, cfg.Dashboard.Timeout), dashboard.Config{
		BackendURL: cfg.Dashboard.BackendURL,
		ModelPath:  modelPath,
		Timeout:    cfg.Dashboard.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build dashboard", zap.Error(err))
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Dashboard.Port),
		Handler:           dash.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("dashboard listening", zap.String("addr", server.Addr), zap.String("backend", cfg.Dashboard.BackendURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("dashboard server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("dashboard forced to shutdown", zap.Error(err))
	}
}

package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"calihouse/config"
	"calihouse/db"
	qhttp "calihouse/http"
	"calihouse/logging"
	"calihouse/ml"
	"calihouse/monitoring"
	"go.uber.org/zap"
)

func main() {
	// 1. Load config
	configPath := config.Find()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if configPath != "" {
		cfg.RelativeTo(filepath.Dir(configPath))
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. Initialize database
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Model loader
	loader, err := ml.NewLoader(ml.LoaderConfig{
		Path:      cfg.Model.Path,
		Policy:    ml.LoadPolicy(cfg.Model.Policy),
		CacheSize: cfg.Model.CacheSize,
		Watch:     cfg.Model.Watch,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create model loader", zap.Error(err))
	}
	defer loader.Close()

	hub := monitoring.NewHub(logger)
	go hub.Start()
	defer hub.Stop()

	// 4. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		CollapseErrors: cfg.Http.CollapseErrors,
	}, qhttp.Dependencies{
		Models: loader,
		Store:  store,
		Feed:   hub,
		Logger: logger,
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("exiting")
}

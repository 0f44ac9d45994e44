// Package http 提供预测服务的HTTP服务器
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"calihouse/ml"
	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
	// CollapseErrors reports every prediction failure as 500 with only a
	// detail message.
	CollapseErrors bool
}

// Dependencies are the collaborators the handlers call. Store and Feed are
// optional.
type Dependencies struct {
	Models ml.ModelProvider
	Store  PredictionStore
	Feed   PredictionFeed
	Logger *zap.Logger
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8001,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
	}
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewHandler(config, deps),
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: deps.Logger,
	}
}

// NewHandler builds the routed and wrapped handler without binding a port.
func NewHandler(config ServerConfig, deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	NewAPI(deps, config.CollapseErrors).Register(mux)

	chain := Chain(
		RecoveryMiddleware(deps.Logger),
		LoggerMiddleware(deps.Logger.Named("http")),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		RequestSizeMiddleware(config.MaxBodyBytes),
		TimeoutMiddleware(config.Timeout, feedPath),
	)
	return chain(mux)
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}

// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ecoharvest/logging"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *logging.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
		RateLimit:      20,
		RateBurst:      40,
	}
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, api *API, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	mux := http.NewServeMux()
	api.Register(mux)

	chain := Chain(
		RecoveryMiddleware(logger),                              // 1. 最先执行，捕获panic
		LoggerMiddleware(logger),                                // 2. 访问日志
		SecurityHeadersMiddleware,                               // 3. 安全头
		CORSMiddleware(config.AllowedOrigins),                   // 4. CORS
		RateLimitMiddleware(config.RateLimit, config.RateBurst), // 5. 限速
		TimeoutMiddleware(config.Timeout),                       // 6. 请求截止时间
		RequestSizeMiddleware(config.MaxBodyBytes),              // 7. 请求体大小
	)

	return &Server{
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			Handler:     chain(mux),
			ReadTimeout: config.Timeout,
			// 留出余量，让超时响应本身能写出
			WriteTimeout: config.Timeout + 5*time.Second,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	s.logger.Infow("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Handler 返回带中间件的处理器
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}

package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	hub    *QuoteHub
	log    *zap.SugaredLogger
}

// ServerOptions 服务器配置
type ServerOptions struct {
	Port    int
	Timeout time.Duration
	Origins []string
}

// NewServer 创建HTTP服务器并挂载路由与中间件
func NewServer(opts ServerOptions, handler *Handler, hub *QuoteHub, log *zap.SugaredLogger) *Server {
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	origins := opts.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	chain := Chain(
		RecoveryMiddleware(log),
		LoggerMiddleware(log),
		SecurityHeadersMiddleware,
		CORSMiddleware(origins),
		TimeoutMiddleware(opts.Timeout),
	)

	// websocket升级后连接被劫持，不走超时中间件
	root := http.NewServeMux()
	if hub != nil {
		root.HandleFunc("GET /api/ws/quotes", hub.HandleWebSocket)
	}
	root.Handle("/", chain(mux))

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Port),
			Handler:      root,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout + 5*time.Second,
			IdleTimeout:  120 * time.Second,
		},
		hub: hub,
		log: log,
	}
}

// Start 启动服务（阻塞直到关闭）
func (s *Server) Start() error {
	if s.hub != nil {
		s.hub.Start()
	}
	s.log.Infow("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}
	return s.server.Shutdown(ctx)
}

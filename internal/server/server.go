package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-vision/internal/config"
	"github.com/getcharzp/sam2-vision/internal/handler"
	"github.com/getcharzp/sam2-vision/internal/logger"
	"github.com/getcharzp/sam2-vision/internal/metrics"
	"github.com/getcharzp/sam2-vision/internal/service"
	"github.com/getcharzp/sam2-vision/internal/storage"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// Server HTTP 服务
type Server struct {
	cfg     config.ServerConfig
	engine  *gin.Engine
	httpSrv *http.Server
}

// New 创建 HTTP 服务并注册全部路由
//
// # Params:
//
//	cfg: 服务配置
//	svc: 业务逻辑
//	store: 上传文件存储, 通过 /uploads 对外提供
//	m: 指标, 为 nil 时不暴露 /metrics
func New(cfg config.ServerConfig, svc *service.Service, store storage.Store, m *metrics.Metrics) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(requestID(), accessLog(m), gin.Recovery(), corsMiddleware(cfg.AllowOrigins))
	if cfg.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = cfg.MaxUploadBytes
		r.Use(limitBody(cfg.MaxUploadBytes))
	}

	handler.New(svc).Register(r)

	files := http.StripPrefix(storage.URLPrefix, store.Handler())
	r.GET(storage.URLPrefix+"*filepath", gin.WrapH(files))
	r.HEAD(storage.URLPrefix+"*filepath", gin.WrapH(files))
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	return &Server{
		cfg:    cfg,
		engine: r,
		httpSrv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}
}

// Handler 返回路由, 用于测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 启动服务, ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	log, _ := logger.GetZapLogger(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// requestID 为每个请求生成 ID 并写入 context
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			if u, err := uuid.NewV4(); err == nil {
				id = u.String()
			}
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog 记录访问日志与请求指标
func accessLog(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(route, strconv.Itoa(status))

		log, _ := logger.GetZapLogger(c.Request.Context())
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// corsMiddleware 配置中包含 "*" 时允许全部来源
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", RequestIDHeader}
	cfg.ExposeHeaders = []string{RequestIDHeader}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// limitBody 限制请求体大小
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > n {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

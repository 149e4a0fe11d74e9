package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greentrace/carbon-backend/internal/conf"
	filestorebiz "github.com/greentrace/carbon-backend/internal/filestore/biz"
	idembiz "github.com/greentrace/carbon-backend/internal/idempotency/biz"
	idemmiddleware "github.com/greentrace/carbon-backend/internal/idempotency/middleware"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"github.com/greentrace/carbon-backend/internal/pkg/redis"
	quotabiz "github.com/greentrace/carbon-backend/internal/quota/biz"
	"github.com/greentrace/carbon-backend/internal/server/middleware"
	"go.uber.org/zap"
)

type HTTPServer struct {
	server    *http.Server
	router    *gin.Engine
	logger    *logger.Logger
	fileStore *filestorebiz.FileStoreUseCase
	ledger    *quotabiz.Ledger
}

// NewHTTPServer 组装 HTTP 服务
//
// 业务路由由调用方通过 Router() 注册，注册的处理器可以从
// FileStore()/Ledger() 取用例；这里只挂公共中间件和健康检查。
func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	gate *idembiz.Gate,
	fileStore *filestorebiz.FileStoreUseCase,
	ledger *quotabiz.Ledger,
	redisClient *redis.Client,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))

	if config.RateLimit.Enable {
		router.Use(middleware.RateLimiter(redisClient, config.RateLimit, log))
	}
	router.Use(idemmiddleware.Idempotency(gate, log))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)

	return &HTTPServer{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		router:    router,
		logger:    log,
		fileStore: fileStore,
		ledger:    ledger,
	}
}

// Router 暴露路由引擎供调用方注册业务路由
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}

// FileStore 返回文件去重存储用例
func (s *HTTPServer) FileStore() *filestorebiz.FileStoreUseCase {
	return s.fileStore
}

// Ledger 返回配额账本
func (s *HTTPServer) Ledger() *quotabiz.Ledger {
	return s.ledger
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		log.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}

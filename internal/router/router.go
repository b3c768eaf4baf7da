package router

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/handler"
	"github.com/user/kinomerge/internal/middleware"
)

// New 创建 gin 引擎并挂载中间件和路由
func New(h *handler.Handler, log *zap.Logger, apiToken string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	RegisterRoutes(r, h, apiToken)
	return r
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler, apiToken string) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(middleware.RequireToken(apiToken))
	{
		api.POST("/sync", h.EnqueueSync)
		api.GET("/sync/:kind/:id", h.SyncStatus)

		api.GET("/users/:uid/movies", h.ListRelations)
		api.PUT("/users/:uid/movies/:id/relation", h.SetRelation)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/app"
	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/handler"
	"github.com/user/kinomerge/internal/logger"
	"github.com/user/kinomerge/internal/router"
	"github.com/user/kinomerge/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库和同步服务
	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("初始化失败", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			zl.Warn("关闭数据库失败", zap.Error(err))
		}
	}()

	// 后台同步队列，ctx 取消后不再重试
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	queue := service.NewTaskQueue(queueCtx, a.Sync, cfg.Queue, zl)

	// 启动定期重新同步
	resync := service.NewResyncService(a.Store, queue, cfg.Resync, zl)
	resync.Start(ctx)

	// 初始化 Gin
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(a.Store, queue, a.Sync, a.Relations, zl)
	r := router.New(h, zl, cfg.APIToken)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	go func() {
		zl.Info("服务器启动", zap.String("addr", "http://localhost:"+cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("正在关闭服务器...")

	// 5 秒超时上下文用于关闭过程
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("服务器强制关闭", zap.Error(err))
	}

	// 排队中的任务直接丢弃，等待执行中的任务返回
	cancelQueue()
	queue.Stop()

	zl.Info("服务器已退出")
}

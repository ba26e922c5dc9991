// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/tune-forge/internal/config"
	"github.com/yourusername/tune-forge/internal/jobs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	logger := log.Default()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, sweeper, closeJobs, err := setupJobs(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up jobs: %v", err)
	}
	defer closeJobs()
	sweeper.Start(ctx)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i, o := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(o)
	}

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	// ダウンロード時のファイル名をフロントエンドから読めるように公開
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	// WebSocket も同じオリジンに制限
	setupRoutes(router, manager, statusPushInterval, allowedOrigins)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Printf("job manager shutdown error: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "tune-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, manager *jobs.Manager, pushInterval time.Duration, allowedOrigins []string) {
	upgrader := newUpgrader(allowedOrigins)

	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		api.GET("/download/:mediaId", legacyDownloadHandler(manager))

		jobRoutes := api.Group("/jobs")
		{
			jobRoutes.POST("", submitJobHandler(manager))
			jobRoutes.GET("", jobListHandler(manager))
			jobRoutes.GET("/:id", jobStatusHandler(manager))
			jobRoutes.GET("/:id/download", jobDownloadHandler(manager))
			jobRoutes.POST("/:id/cancel", jobCancelHandler(manager))
			jobRoutes.GET("/:id/ws", jobWebSocketHandler(manager, pushInterval, upgrader))
		}
	}
}

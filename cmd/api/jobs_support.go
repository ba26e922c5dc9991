package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/tune-forge/internal/cache"
	"github.com/yourusername/tune-forge/internal/config"
	"github.com/yourusername/tune-forge/internal/jobs"
	"github.com/yourusername/tune-forge/internal/lyrics"
	"github.com/yourusername/tune-forge/internal/media"
	"github.com/yourusername/tune-forge/internal/storage"
	"github.com/yourusername/tune-forge/internal/youtube"
)

const (
	defaultContentType = "audio/mp4"
	statusPushInterval = 500 * time.Millisecond
	sniffBytes         = 3072
)

// setupJobs は設定に従ってジョブマネージャーと掃除処理を組み立てます。
// 戻り値の close はキャッシュ接続などの後始末です。
func setupJobs(ctx context.Context, cfg *config.Config, logger *log.Logger) (*jobs.Manager, *jobs.Sweeper, func(), error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}
	source := youtube.NewSource(nil)
	closeFn := func() {}

	var resolver media.Resolver = source
	if cfg.CacheRedisURL != "" {
		metaCache, err := cache.Dial(ctx, cfg.CacheRedisURL, cfg.MetadataCacheTTL())
		if err != nil {
			// キャッシュなしでも動作できるため起動は続ける
			logger.Printf("metadata cache disabled: %v", err)
		} else {
			resolver = media.NewCachingResolver(source, metaCache, logger)
			closeFn = func() {
				if err := metaCache.Close(); err != nil {
					logger.Printf("failed to close metadata cache: %v", err)
				}
			}
		}
	}

	deps := jobs.Dependencies{
		Resolver:   resolver,
		Opener:     source,
		Covers:     media.NewCoverFetcher(httpClient),
		Transcoder: media.NewTranscoder(cfg.FFmpegPath, cfg.AudioBitrate),
		Storage:    storage.NewLocal(cfg.WorkDir),
	}
	if cfg.LyricsAPIURL != "" {
		deps.Lyrics = lyrics.NewClient(cfg.LyricsAPIURL, httpClient)
	}

	manager, err := jobs.NewManager(jobs.NewStore(), deps, jobs.Options{
		JobTimeout:      cfg.JobTimeout(),
		DownloadRetries: cfg.DownloadRetries,
		ResultBaseURL:   cfg.JobResultBaseURL,
	}, logger)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	sweeper := jobs.NewSweeper(manager, cfg.JobTTL(), cfg.CleanupInterval(), cfg.StallTimeout())
	return manager, sweeper, closeFn, nil
}

type submitRequest struct {
	MediaID string `json:"mediaId"`
	Quality string `json:"quality"`
}

func submitJobHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "リクエストボディが不正です。",
			})
			return
		}
		respondSubmitted(c, manager, req.MediaID, req.Quality)
	}
}

// legacyDownloadHandler は GET /api/download/:mediaId?quality= 形式の受付です。
func legacyDownloadHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		respondSubmitted(c, manager, c.Param("mediaId"), c.Query("quality"))
	}
}

func respondSubmitted(c *gin.Context, manager *jobs.Manager, mediaID, quality string) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "mediaId を指定してください。",
		})
		return
	}

	jobID := manager.Submit(mediaID, quality)
	record, _ := manager.Status(jobID)
	c.JSON(http.StatusAccepted, gin.H{
		"jobId":  jobID,
		"status": record.Status,
		"progress": gin.H{
			"percent": record.Progress.Percent,
			"stage":   record.Progress.Stage,
		},
	})
}

func jobListHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		records := manager.List()
		items := make([]gin.H, 0, len(records))
		for _, r := range records {
			items = append(items, jobPayload(manager, r))
		}
		c.JSON(http.StatusOK, gin.H{"jobs": items})
	}
}

func jobStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := manager.Status(c.Param("id"))
		if !ok {
			respondJobNotFound(c)
			return
		}
		c.JSON(http.StatusOK, jobPayload(manager, record))
	}
}

func jobDownloadHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, record, err := manager.OpenFile(c.Param("id"))
		if err != nil {
			if errors.Is(err, jobs.ErrNotReady) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_READY",
					"message": "ジョブの成果物はまだ取得できません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}

		contentType := sniffContentType(file)
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}

		encodedName := url.PathEscape(record.OutputName)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", asciiFallback(record.OutputName), encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", record.JobID)
		c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
	}
}

func jobCancelHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if err := manager.Cancel(jobID); err != nil {
			switch {
			case errors.Is(err, jobs.ErrJobNotFound):
				respondJobNotFound(c)
			case errors.Is(err, jobs.ErrJobFinished):
				c.JSON(http.StatusConflict, gin.H{
					"code":    "JOB_FINISHED",
					"message": "ジョブは既に終了しています。",
				})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "ジョブのキャンセルに失敗しました。",
				})
			}
			return
		}
		record, _ := manager.Status(jobID)
		c.JSON(http.StatusOK, jobPayload(manager, record))
	}
}

// newUpgrader は CORS と同じ許可オリジンだけを受け付ける Upgrader を作成します。
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

// originAllowed は Origin ヘッダーが許可リストに含まれるかを判定します。
// ブラウザ以外のクライアントは Origin を送らないため、空の場合は許可します。
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, a := range allowed {
		a = strings.TrimRight(strings.TrimSpace(a), "/")
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// jobWebSocketHandler はジョブが終了するまで一定間隔で状態を送信します。
func jobWebSocketHandler(manager *jobs.Manager, interval time.Duration, upgrader *websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if _, ok := manager.Status(jobID); !ok {
			respondJobNotFound(c)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("failed to upgrade websocket job=%s: %v", jobID, err)
			return
		}
		defer conn.Close()

		// クライアントからの切断を検知するためだけに読み続ける
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			record, ok := manager.Status(jobID)
			if !ok {
				_ = conn.WriteJSON(gin.H{"code": "JOB_NOT_FOUND", "message": "ジョブは削除されました。"})
				break
			}
			if err := conn.WriteJSON(jobPayload(manager, record)); err != nil {
				return
			}
			if record.Status.IsTerminal() {
				break
			}
			select {
			case <-ticker.C:
			case <-gone:
				return
			case <-c.Request.Context().Done():
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
}

func jobPayload(manager *jobs.Manager, record jobs.Record) gin.H {
	payload := gin.H{
		"jobId":   record.JobID,
		"mediaId": record.MediaID,
		"quality": record.Quality,
		"status":  record.Status,
		"progress": gin.H{
			"percent": record.Progress.Percent,
			"stage":   record.Progress.Stage,
		},
		"createdAt": record.CreatedAt,
		"updatedAt": record.UpdatedAt,
	}
	if record.Meta != nil {
		payload["meta"] = record.Meta
	}
	if record.Error != nil {
		payload["error"] = record.Error
	}
	if record.FinishedAt != nil {
		payload["finishedAt"] = record.FinishedAt
	}
	if downloadURL := manager.DownloadURL(record); downloadURL != "" {
		payload["downloadUrl"] = downloadURL
		payload["filename"] = record.OutputName
	}
	return payload
}

func respondJobNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "JOB_NOT_FOUND",
		"message": "指定されたジョブは存在しません。",
	})
}

// sniffContentType は先頭バイトから音声の種類を判定します。判定できない場合は audio/mp4 です。
func sniffContentType(r io.Reader) string {
	mt, err := mimetype.DetectReader(io.LimitReader(r, sniffBytes))
	if err != nil || !strings.HasPrefix(mt.String(), "audio/") || mt.Is("audio/x-m4a") {
		return defaultContentType
	}
	return mt.String()
}

// asciiFallback は filename= 用に ASCII 以外と引用符を置き換えます。
func asciiFallback(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

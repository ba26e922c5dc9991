package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yourusername/tune-forge/internal/media"
	"github.com/yourusername/tune-forge/internal/storage"
)

const (
	rawAudioName = "audio.raw"
	outputExt    = ".m4a"
	fallbackName = "audio"
	commentTag   = "Downloaded via tune-forge"
)

// run は1件のジョブを最後まで処理します。結果はすべてストアに記録されます。
func (m *Manager) run(ctx context.Context, jobID, mediaID string, quality media.Quality, ws storage.Workspace) {
	defer m.wg.Done()

	if m.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.JobTimeout)
		defer cancel()
	}

	var outputFile, outputName string
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				m.logf("job=%s panic: %v", jobID, r)
				err = media.NewError(media.CodeInternal, fmt.Sprintf("予期しないエラーが発生しました: %v", r), nil)
			}
		}()
		outputFile, outputName, err = m.process(ctx, jobID, mediaID, quality, ws)
		return err
	}()
	m.complete(ctx, jobID, outputFile, outputName, err)
}

// complete は終了状態を記録します。Cancel と同じロックの下で行うため、
// キャンセルを受け付けたジョブが completed になることはありません。
func (m *Manager) complete(ctx context.Context, jobID, outputFile, outputName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancel := m.cancels[jobID]
	delete(m.cancels, jobID)
	if cancel != nil {
		defer cancel(context.Canceled)
	}

	if err == nil && errors.Is(context.Cause(ctx), errCancelRequested) {
		err = context.Cause(ctx)
	}
	if err != nil {
		if ferr := m.failJobWithError(ctx, jobID, err); ferr != nil {
			m.logf("failed to record failure job=%s: %v", jobID, ferr)
		}
		return
	}
	if ferr := m.finishJob(jobID, outputFile, outputName); ferr != nil {
		m.logf("failed to record completion job=%s: %v", jobID, ferr)
	}
}

func (m *Manager) process(ctx context.Context, jobID, mediaID string, quality media.Quality, ws storage.Workspace) (string, string, error) {
	acc := &Accumulator{}

	// 1. 楽曲情報の解決
	m.setProgress(jobID, acc.Percent(), StageResolve)
	meta, err := m.deps.Resolver.Resolve(ctx, mediaID)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", media.NewError(media.CodeResolveFailed, err.Error(), err)
	}
	if meta == nil {
		return "", "", media.NewError(media.CodeResolveFailed, "楽曲情報を取得できませんでした。", nil)
	}
	m.updateMeta(jobID, func(mt *Meta) {
		mt.Title = meta.Title
		mt.Artist = meta.Artist
		mt.Album = meta.Album
	})

	// 2. ストリーム選択
	variant, ok := media.SelectVariant(meta.Variants, quality)
	if !ok {
		return "", "", media.NewError(media.CodeNoStream, "利用可能な音声ストリームがありません。", nil)
	}
	m.updateMeta(jobID, func(mt *Meta) { mt.Bitrate = variant.Bitrate })

	// 3. ダウンロード (0-50%)
	m.setProgress(jobID, acc.Percent(), StageDownload)
	rawPath := filepath.Join(ws.InDir, rawAudioName)
	lastPercent := acc.Percent()
	onDownload := func(done, remaining int64) {
		total := int64(-1)
		if remaining >= 0 {
			total = done + remaining
		}
		if p := acc.Download(done, total); p != lastPercent {
			lastPercent = p
			m.setProgress(jobID, p, StageDownload)
		}
	}
	if err := m.downloadWithRetry(ctx, jobID, mediaID, variant, rawPath, onDownload); err != nil {
		return "", "", err
	}
	m.setProgress(jobID, acc.FinishDownload(), StageDownload)

	// 4. カバー画像と歌詞（失敗しても続行）
	m.setProgress(jobID, acc.Percent(), StageEnrich)
	coverPath, lyrics := m.enrich(ctx, jobID, meta, ws)
	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	m.updateMeta(jobID, func(mt *Meta) {
		mt.HasCover = coverPath != ""
		mt.HasLyrics = lyrics != ""
	})

	// 5. 変換 (50-100%)
	m.setProgress(jobID, acc.Percent(), StageTranscode)
	outputName := storage.SafeFilename(meta.Title, outputExt, fallbackName)
	outputPath := filepath.Join(ws.OutDir, outputName)
	lastPercent = acc.Percent()
	onTranscode := func(position, duration time.Duration) {
		if p := acc.Transcode(position, duration); p != lastPercent {
			lastPercent = p
			m.setProgress(jobID, p, StageTranscode)
		}
	}
	err = m.deps.Transcoder.Transcode(ctx, media.TranscodeRequest{
		InputPath:  rawPath,
		CoverPath:  coverPath,
		OutputPath: outputPath,
		Tags: media.Tags{
			Title:   meta.Title,
			Artist:  meta.Artist,
			Album:   meta.Album,
			Lyrics:  lyrics,
			Comment: commentTag,
		},
	}, onTranscode)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if media.CodeOf(err) == media.CodeInternal {
			return "", "", media.NewError(media.CodeTranscodeFailed, err.Error(), err)
		}
		return "", "", err
	}

	return outputPath, outputName, nil
}

// downloadWithRetry は転送エラー時に一定時間待って再試行します。
func (m *Manager) downloadWithRetry(ctx context.Context, jobID, mediaID string, variant media.Variant, dst string, onProgress media.DownloadProgressFunc) error {
	var lastErr error
	for attempt := 0; attempt <= m.opts.DownloadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.opts.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			m.logf("job=%s retrying download, attempt %d", jobID, attempt+1)
		}

		err := media.Download(ctx, m.deps.Opener, mediaID, variant, dst, onProgress)
		if err == nil {
			return nil
		}
		lastErr = err
		m.logf("job=%s download attempt %d failed: %v", jobID, attempt+1, err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		// ローカルディスクの問題は再試行しても直らない
		if media.CodeOf(err) == media.CodeStorageError {
			return err
		}
	}
	return lastErr
}

// enrich はカバー画像と歌詞を並行して取得します。どちらも失敗はログのみです。
func (m *Manager) enrich(ctx context.Context, jobID string, meta *media.Metadata, ws storage.Workspace) (string, string) {
	var coverPath, lyrics string
	g, gctx := errgroup.WithContext(ctx)

	if m.deps.Covers != nil && meta.CoverURL != "" {
		g.Go(func() error {
			path, err := m.deps.Covers.Fetch(gctx, meta.CoverURL, ws.InDir)
			if err != nil {
				m.logf("job=%s cover skipped: %v", jobID, err)
				return nil
			}
			coverPath = path
			return nil
		})
	}
	if m.deps.Lyrics != nil {
		g.Go(func() error {
			text, err := m.deps.Lyrics.Lookup(gctx, meta.Artist, meta.Title)
			if err != nil {
				m.logf("job=%s lyrics skipped: %v", jobID, err)
				return nil
			}
			lyrics = text
			return nil
		})
	}

	_ = g.Wait()
	return coverPath, lyrics
}

func (m *Manager) updateMeta(jobID string, mutate func(*Meta)) {
	err := m.store.Update(jobID, func(r *Record) {
		if r.Meta == nil {
			r.Meta = &Meta{}
		}
		mutate(r.Meta)
	})
	if err != nil {
		m.logf("failed to update meta job=%s: %v", jobID, err)
	}
}

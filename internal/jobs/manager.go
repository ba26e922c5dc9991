package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/tune-forge/internal/media"
	"github.com/yourusername/tune-forge/internal/storage"
)

const defaultRetryBackoff = 2 * time.Second

var (
	// ErrNotReady は成果物がまだ（または既に）取得できない場合のエラーです。
	ErrNotReady = errors.New("job result not ready")

	errCancelRequested = fmt.Errorf("cancel requested: %w", context.Canceled)
	errStalled         = fmt.Errorf("job stalled: %w", context.DeadlineExceeded)
)

// Transcoder は音源を m4a に変換します。
type Transcoder interface {
	Transcode(ctx context.Context, req media.TranscodeRequest, onProgress media.ProgressFunc) error
}

// CoverFetcher はカバー画像を dir に保存してパスを返します。
type CoverFetcher interface {
	Fetch(ctx context.Context, url, dir string) (string, error)
}

// Dependencies はワーカーが利用する外部処理です。Lyrics と Covers は省略できます。
type Dependencies struct {
	Resolver   media.Resolver
	Opener     media.StreamOpener
	Lyrics     media.LyricsFinder
	Covers     CoverFetcher
	Transcoder Transcoder
	Storage    *storage.Local
}

// Options はジョブ実行の設定です。
type Options struct {
	JobTimeout      time.Duration // 0 以下なら期限なし
	DownloadRetries int
	RetryBackoff    time.Duration
	ResultBaseURL   string
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	store   *Store
	deps    Dependencies
	opts    Options
	logger  *log.Logger
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// NewManager は Manager を初期化します。
func NewManager(store *Store, deps Dependencies, opts Options, logger *log.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if deps.Resolver == nil {
		return nil, errors.New("resolver is nil")
	}
	if deps.Opener == nil {
		return nil, errors.New("stream opener is nil")
	}
	if deps.Transcoder == nil {
		return nil, errors.New("transcoder is nil")
	}
	if deps.Storage == nil {
		return nil, errors.New("storage is nil")
	}
	if opts.DownloadRetries < 0 {
		opts.DownloadRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		deps:    deps,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		stop:    stop,
		cancels: make(map[string]context.CancelCauseFunc),
	}, nil
}

// Submit はジョブを登録してバックグラウンドで処理を開始し、ジョブIDを返します。
// 失敗はジョブの状態として記録されるため、この関数自体はエラーを返しません。
func (m *Manager) Submit(mediaID, quality string) string {
	jobID := uuid.NewString()
	q := media.ParseQuality(quality)
	record := Record{
		JobID:   jobID,
		MediaID: mediaID,
		Quality: string(q),
		Status:  StatusProcessing,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   StageQueued,
		},
	}

	if m.ctx.Err() != nil {
		m.insertFailed(record, StatusCancelled, media.CodeCancelled, "サーバーが停止処理中のため受け付けられませんでした。")
		return jobID
	}

	ws, err := m.deps.Storage.Create(jobID)
	if err != nil {
		m.logf("failed to create workspace job=%s: %v", jobID, err)
		m.insertFailed(record, StatusFailed, media.CodeStorageError, "作業ディレクトリを作成できませんでした。")
		return jobID
	}
	record.WorkDir = ws.Dir

	ctx, cancel := context.WithCancelCause(m.ctx)
	m.mu.Lock()
	m.cancels[jobID] = cancel
	m.mu.Unlock()
	if err := m.store.Put(record); err != nil {
		m.mu.Lock()
		delete(m.cancels, jobID)
		m.mu.Unlock()
		cancel(err)
		m.logf("failed to register job=%s: %v", jobID, err)
		return jobID
	}

	m.wg.Add(1)
	go m.run(ctx, jobID, mediaID, q, ws)

	m.logf("job=%s submitted media=%s quality=%s", jobID, mediaID, q)
	return jobID
}

// Status はジョブのスナップショットを返します。
func (m *Manager) Status(jobID string) (Record, bool) {
	return m.store.Get(jobID)
}

// List は全ジョブのスナップショットを返します。
func (m *Manager) List() []Record {
	return m.store.List()
}

// OpenFile は完了したジョブの成果物を開きます。
// 読み取りロック中に開くため、返したファイルが掃除と競合することはありません。
func (m *Manager) OpenFile(jobID string) (*os.File, Record, error) {
	var (
		file     *os.File
		snapshot Record
	)
	err := m.store.View(jobID, func(r Record) error {
		if r.Status != StatusCompleted || r.OutputFile == "" {
			return ErrNotReady
		}
		f, err := os.Open(r.OutputFile)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		file = f
		snapshot = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, Record{}, ErrNotReady
		}
		return nil, Record{}, err
	}
	return file, snapshot, nil
}

// Cancel は処理中のジョブを中断します。状態の記録はワーカーが行います。
// nil を返した場合、そのジョブの最終状態は completed にはなりません。
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancel, ok := m.cancels[jobID]
	if !ok {
		if _, exists := m.store.Get(jobID); exists {
			return ErrJobFinished
		}
		return ErrJobNotFound
	}
	cancel(errCancelRequested)
	m.logf("job=%s cancel requested", jobID)
	return nil
}

// Shutdown は全ワーカーを中断し、終了するまで待ちます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DownloadURL は完了済みジョブの取得URLを返します。未完了の場合は空文字列です。
func (m *Manager) DownloadURL(record Record) string {
	if record.Status != StatusCompleted {
		return ""
	}
	return m.buildDownloadURL(record)
}

func (m *Manager) abort(jobID string, cause error) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	cancel(cause)
	return true
}

func (m *Manager) insertFailed(record Record, status Status, code, message string) {
	if err := m.store.Put(record); err != nil {
		m.logf("failed to register job=%s: %v", record.JobID, err)
		return
	}
	if err := m.failJob(record.JobID, status, code, message); err != nil {
		m.logf("failed to mark job=%s %s: %v", record.JobID, status, err)
	}
}

func (m *Manager) setProgress(jobID string, percent int, stage string) {
	if err := m.store.UpdateProgress(jobID, percent, stage); err != nil && !errors.Is(err, ErrJobFinished) {
		m.logf("failed to update progress job=%s: %v", jobID, err)
	}
}

func (m *Manager) finishJob(jobID, outputFile, outputName string) error {
	if err := m.store.MarkDone(jobID, outputFile, outputName); err != nil {
		return err
	}
	m.logf("job=%s completed output=%s", jobID, outputName)
	return nil
}

func (m *Manager) failJob(jobID string, status Status, code, message string) error {
	return m.store.MarkFailed(jobID, status, &ErrorInfo{
		Code:    code,
		Message: message,
	})
}

// failJobWithError はエラーの種類に応じて終了状態を決めて記録します。
func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	status, code, message := classify(ctx, err)
	m.logf("job=%s %s code=%s: %v", jobID, status, code, err)
	return m.failJob(jobID, status, code, message)
}

func classify(ctx context.Context, err error) (Status, string, string) {
	if ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
			return StatusTimedOut, media.CodeTimedOut, "処理が制限時間を超えたため中断しました。"
		}
		return StatusCancelled, media.CodeCancelled, "ジョブはキャンセルされました。"
	}
	var mErr *media.Error
	if errors.As(err, &mErr) {
		return StatusFailed, mErr.Code, mErr.Message
	}
	return StatusFailed, media.CodeInternal, err.Error()
}

func (m *Manager) buildDownloadURL(record Record) string {
	base := m.opts.ResultBaseURL
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", record.JobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), record.JobID, url.PathEscape(record.OutputName))
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}

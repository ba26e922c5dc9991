package media

import (
	"context"
	"fmt"
	"io"
	"os"
)

// DownloadProgressFunc は取得済みバイト数と残りバイト数を受け取ります。残りが不明な場合は -1 です。
type DownloadProgressFunc func(downloaded, remaining int64)

// Download は選択されたストリームを dst に保存します。
func Download(ctx context.Context, opener StreamOpener, mediaID string, variant Variant, dst string, onProgress DownloadProgressFunc) error {
	body, size, err := opener.OpenStream(ctx, mediaID, variant)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return NewError(CodeDownloadFailed, "音声ストリームを開けませんでした。", err)
	}
	defer body.Close()

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return NewError(CodeStorageError, "ダウンロード先ファイルを作成できませんでした。", err)
	}
	defer file.Close()

	counter := &progressWriter{total: size, onProgress: onProgress}
	written, err := io.Copy(file, io.TeeReader(&contextReader{ctx: ctx, r: body}, counter))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return NewError(CodeDownloadFailed, "音声ストリームの受信中にエラーが発生しました。", err)
	}
	if size > 0 && written < size {
		return NewError(CodeDownloadFailed, fmt.Sprintf("受信サイズが不足しています (%d/%d bytes)", written, size), io.ErrUnexpectedEOF)
	}
	if err := file.Sync(); err != nil {
		return NewError(CodeStorageError, "ダウンロードファイルの保存に失敗しました。", err)
	}
	return nil
}

type progressWriter struct {
	total      int64
	done       int64
	onProgress DownloadProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	if w.onProgress != nil {
		remaining := int64(-1)
		if w.total > 0 {
			remaining = w.total - w.done
			if remaining < 0 {
				remaining = 0
			}
		}
		w.onProgress(w.done, remaining)
	}
	return len(p), nil
}

// contextReader はコンテキストが終了したら読み込みを打ち切ります。
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

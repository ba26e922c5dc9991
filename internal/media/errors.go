package media

import (
	"context"
	"errors"
	"fmt"
)

// エラーコード一覧。ジョブの error.code としてそのまま公開されます。
const (
	CodeResolveFailed   = "RESOLVE_FAILED"
	CodeNoStream        = "NO_STREAM"
	CodeDownloadFailed  = "DOWNLOAD_FAILED"
	CodeTranscodeFailed = "TRANSCODE_FAILED"
	CodeStorageError    = "STORAGE_ERROR"
	CodeCancelled       = "CANCELLED"
	CodeTimedOut        = "TIMED_OUT"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error はコード付きの処理エラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap は errors.Is / errors.As 用に元のエラーを返します。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError は Error を生成します。
func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf は err に含まれる Error のコードを返します。該当しない場合は INTERNAL_ERROR です。
func CodeOf(err error) string {
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimedOut
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	return CodeInternal
}

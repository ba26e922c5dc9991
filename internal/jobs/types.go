// Package jobs は変換ジョブの受付・実行・状態管理を提供します。
package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimedOut   Status = "timed_out"
)

// IsTerminal は processing 以外の状態で true を返します。
func (s Status) IsTerminal() bool {
	return s != StatusProcessing
}

// 進捗ステージ
const (
	StageQueued    = "queued"
	StageResolve   = "resolve"
	StageDownload  = "download"
	StageEnrich    = "enrich"
	StageTranscode = "transcode"
	StageCompleted = "completed"
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta は処理中に判明した楽曲情報です。
type Meta struct {
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Album     string `json:"album,omitempty"`
	Bitrate   string `json:"bitrate,omitempty"`
	HasCover  bool   `json:"hasCover"`
	HasLyrics bool   `json:"hasLyrics"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID    string       `json:"jobId"`
	MediaID  string       `json:"mediaId"`
	Quality  string       `json:"quality"`
	Status   Status       `json:"status"`
	Progress ProgressInfo `json:"progress"`
	Meta     *Meta        `json:"meta,omitempty"`
	Error    *ErrorInfo   `json:"error,omitempty"`

	// OutputName はダウンロード時のファイル名です。
	OutputName string `json:"outputName,omitempty"`
	// OutputFile と WorkDir はサーバー内部のパスなので公開しません。
	OutputFile string `json:"-"`
	WorkDir    string `json:"-"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// clone はポインタフィールドを複製したコピーを返します。
func (r *Record) clone() Record {
	out := *r
	if r.Meta != nil {
		m := *r.Meta
		out.Meta = &m
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

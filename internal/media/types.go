// Package media は音源の解決・取得・変換など、ジョブが利用する外部処理をまとめます。
package media

import (
	"context"
	"io"
	"strings"
)

// Quality は音質の希望を表します。
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ParseQuality は文字列を Quality に変換します。未知の値は high として扱います。
func ParseQuality(raw string) Quality {
	switch Quality(strings.ToLower(strings.TrimSpace(raw))) {
	case QualityLow:
		return QualityLow
	case QualityMedium:
		return QualityMedium
	default:
		return QualityHigh
	}
}

// Variant はダウンロード可能な音声ストリームの1つを表します。
type Variant struct {
	// Bitrate はソースが報告するビットレート表記です（例: "128kbps"）。不明な場合は空です。
	Bitrate string `json:"bitrate"`
	// Ref は StreamOpener が解釈する参照値です。
	Ref string `json:"ref"`
}

// Metadata はメディアIDから解決された楽曲情報です。
type Metadata struct {
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	Album    string    `json:"album,omitempty"`
	CoverURL string    `json:"coverUrl,omitempty"`
	Variants []Variant `json:"variants"`
}

// Resolver はメディアIDを楽曲情報とストリーム一覧に解決します。
type Resolver interface {
	Resolve(ctx context.Context, mediaID string) (*Metadata, error)
}

// StreamOpener は選択されたストリームの読み出しを開始します。
// 戻り値のサイズが不明な場合は 0 以下を返します。
type StreamOpener interface {
	OpenStream(ctx context.Context, mediaID string, variant Variant) (io.ReadCloser, int64, error)
}

// LyricsFinder はアーティスト名と曲名から歌詞を検索します。
type LyricsFinder interface {
	Lookup(ctx context.Context, artist, title string) (string, error)
}

package jobs

import (
	"sync"
	"time"
)

const (
	downloadShare  = 50
	transcodeStart = 50
)

// Accumulator はダウンロード (0-50%) と変換 (50-100%) の進捗を1つの値にまとめます。
// 一度返した値より小さい値は返しません。
type Accumulator struct {
	mu      sync.Mutex
	percent int
}

// Percent は現在の進捗率を返します。
func (a *Accumulator) Percent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.percent
}

// Download は取得済みバイト数から進捗率を計算します。total が不明な場合は現在値を維持します。
func (a *Accumulator) Download(done, total int64) int {
	if total <= 0 {
		return a.Percent()
	}
	if done < 0 {
		done = 0
	}
	return a.advance(clamp(int(done*downloadShare/total), 0, downloadShare))
}

// FinishDownload はダウンロード完了として進捗を変換フェーズの開始値 (50) まで進めます。
// サイズ不明のままダウンロードが終わった場合もここで 50 になります。
func (a *Accumulator) FinishDownload() int {
	return a.advance(transcodeStart)
}

// Transcode は変換位置から進捗率を計算します。総時間が不明な場合はフェーズ開始値以上の現在値を維持します。
func (a *Accumulator) Transcode(position, duration time.Duration) int {
	if duration <= 0 {
		return a.Percent()
	}
	if position < 0 {
		position = 0
	}
	p := transcodeStart + int(int64(position)*(100-transcodeStart)/int64(duration))
	return a.advance(clamp(p, transcodeStart, 100))
}

// Complete は進捗を 100 にします。
func (a *Accumulator) Complete() int {
	return a.advance(100)
}

func (a *Accumulator) advance(p int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p > a.percent {
		a.percent = p
	}
	return a.percent
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

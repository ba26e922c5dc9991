package media

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ProgressFunc は変換の現在位置と総再生時間を受け取るコールバックです。
type ProgressFunc func(position, duration time.Duration)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{1,2}):(\d{1,2}(?:\.\d+)?)`)
	positionPattern = regexp.MustCompile(`time=\s*(\d+):(\d{1,2}):(\d{1,2}(?:\.\d+)?)`)
)

const (
	maxPendingLine = 64 * 1024
	tailLines      = 5
)

// progressParser は ffmpeg の診断出力から総再生時間と現在位置を取り出します。
// 総再生時間は最初の Duration: 行（入力 #0 の音源）だけから読み取ります。
// その値が N/A の場合、後続の入力（カバー画像など）の値は採用しません。
type progressParser struct {
	durationSeen bool
	duration     time.Duration
	onProgress   ProgressFunc
	tail         []string
}

func newProgressParser(cb ProgressFunc) *progressParser {
	return &progressParser{onProgress: cb}
}

func (p *progressParser) parseLine(line string) {
	p.remember(line)

	if !p.durationSeen {
		if !strings.Contains(line, "Duration:") {
			return
		}
		p.durationSeen = true
		if m := durationPattern.FindStringSubmatch(line); m != nil {
			if d, ok := clockToDuration(m[1], m[2], m[3]); ok && d > 0 {
				p.duration = d
			}
		}
		return
	}
	if p.duration <= 0 {
		return
	}

	m := positionPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	pos, ok := clockToDuration(m[1], m[2], m[3])
	if !ok || p.onProgress == nil {
		return
	}
	p.onProgress(pos, p.duration)
}

func (p *progressParser) remember(line string) {
	p.tail = append(p.tail, line)
	if len(p.tail) > tailLines {
		p.tail = p.tail[len(p.tail)-tailLines:]
	}
}

// lastLine は最後に受け取った診断行を返します。エラーメッセージに使います。
func (p *progressParser) lastLine() string {
	if len(p.tail) == 0 {
		return ""
	}
	return p.tail[len(p.tail)-1]
}

func clockToDuration(h, m, s string) (time.Duration, bool) {
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}

// lineWriter は書き込まれたバイト列を \n または \r で区切って1行ずつ渡します。
// ffmpeg の統計行は \r で上書き表示されるため、両方を区切りとして扱います。
type lineWriter struct {
	buf    []byte
	handle func(string)
}

func newLineWriter(handle func(string)) *lineWriter {
	return &lineWriter{handle: handle}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(w.buf[:i])
		w.buf = w.buf[i+1:]
		if len(line) > 0 {
			w.handle(string(line))
		}
	}
	if len(w.buf) > maxPendingLine {
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush は区切り文字で終わらなかった残りを1行として渡します。
func (w *lineWriter) Flush() {
	line := bytes.TrimSpace(w.buf)
	w.buf = nil
	if len(line) > 0 {
		w.handle(string(line))
	}
}

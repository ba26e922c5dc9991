package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

const defaultAudioBitrate = "192k"

// Tags は出力ファイルに埋め込むメタデータです。
type Tags struct {
	Title   string
	Artist  string
	Album   string
	Lyrics  string
	Comment string
}

// TranscodeRequest は1回の変換に必要な入出力です。CoverPath は空でも構いません。
type TranscodeRequest struct {
	InputPath  string
	CoverPath  string
	OutputPath string
	Tags       Tags
}

// commandRunner は外部コマンドの実行を抽象化します（テスト用に差し替え可能）。
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stderr io.Writer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	return cmd.Run()
}

// Transcoder は ffmpeg を使って音声を m4a に変換し、カバー画像とタグを埋め込みます。
type Transcoder struct {
	ffmpegPath   string
	audioBitrate string
	runner       commandRunner
}

// NewTranscoder は Transcoder を作成します。
func NewTranscoder(ffmpegPath, audioBitrate string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if audioBitrate == "" {
		audioBitrate = defaultAudioBitrate
	}
	return &Transcoder{
		ffmpegPath:   ffmpegPath,
		audioBitrate: audioBitrate,
		runner:       execRunner{},
	}
}

// Transcode は ffmpeg を実行し、診断出力から読み取った進捗を onProgress に通知します。
func (t *Transcoder) Transcode(ctx context.Context, req TranscodeRequest, onProgress ProgressFunc) error {
	if req.InputPath == "" || req.OutputPath == "" {
		return fmt.Errorf("input and output paths are required")
	}

	args := buildFFmpegArgs(req, t.audioBitrate)
	parser := newProgressParser(onProgress)
	stderr := newLineWriter(parser.parseLine)

	runErr := t.runner.Run(ctx, t.ffmpegPath, args, stderr)
	stderr.Flush()
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return NewError(CodeTranscodeFailed, fmt.Sprintf("ffmpeg による変換に失敗しました: %s", parser.lastLine()), runErr)
	}

	if _, err := os.Stat(req.OutputPath); err != nil {
		return NewError(CodeTranscodeFailed, "ffmpeg は終了しましたが出力ファイルが見つかりません。", err)
	}
	return nil
}

func buildFFmpegArgs(req TranscodeRequest, audioBitrate string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", req.InputPath,
	}

	if req.CoverPath != "" {
		args = append(args,
			"-i", req.CoverPath,
			"-map", "0:a",
			"-map", "1:v",
			"-c:v", "png",
			"-disposition:v:0", "attached_pic",
		)
	} else {
		args = append(args, "-vn")
	}

	args = append(args, "-c:a", "aac", "-b:a", audioBitrate)

	tags := []struct {
		key   string
		value string
	}{
		{"title", req.Tags.Title},
		{"artist", req.Tags.Artist},
		{"album", req.Tags.Album},
		{"lyrics", req.Tags.Lyrics},
		{"comment", req.Tags.Comment},
	}
	for _, tag := range tags {
		if tag.value == "" {
			continue
		}
		args = append(args, "-metadata", tag.key+"="+tag.value)
	}

	return append(args, req.OutputPath)
}

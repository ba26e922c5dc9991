// Package youtube は YouTube の動画IDを楽曲情報と音声ストリームに解決します。
package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/yourusername/tune-forge/internal/media"
)

const (
	topicSuffix     = " - Topic"
	providedPrefix  = "Provided to YouTube by "
	trackSeparator  = " · "
	copyrightPrefix = "℗"
	releasedPrefix  = "Released on:"
)

// Source は media.Resolver と media.StreamOpener を実装します。
type Source struct {
	client *youtube.Client
}

// NewSource は Source を作成します。httpClient が nil の場合は既定のクライアントを使います。
func NewSource(httpClient *http.Client) *Source {
	return &Source{client: &youtube.Client{HTTPClient: httpClient}}
}

// Resolve は動画情報を取得し、音声のみのフォーマットをストリーム候補として返します。
func (s *Source) Resolve(ctx context.Context, mediaID string) (*media.Metadata, error) {
	if strings.TrimSpace(mediaID) == "" {
		return nil, fmt.Errorf("media id is required")
	}
	video, err := s.client.GetVideoContext(ctx, mediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch video %s: %w", mediaID, err)
	}

	return metadataFromVideo(video), nil
}

// metadataFromVideo は動画情報を楽曲情報に変換します。
// アルバム名は API から取得できないため、自動生成された説明文から読み取れた場合だけ設定します。
func metadataFromVideo(video *youtube.Video) *media.Metadata {
	return &media.Metadata{
		Title:    video.Title,
		Artist:   cleanArtist(video.Author),
		Album:    albumFromDescription(video.Description),
		CoverURL: pickThumbnail(video.Thumbnails),
		Variants: variantsFromFormats(video.Formats),
	}
}

// OpenStream は itag で指定されたフォーマットの読み出しを開始します。
func (s *Source) OpenStream(ctx context.Context, mediaID string, variant media.Variant) (io.ReadCloser, int64, error) {
	itag, err := strconv.Atoi(variant.Ref)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid stream reference %q: %w", variant.Ref, err)
	}
	video, err := s.client.GetVideoContext(ctx, mediaID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch video %s: %w", mediaID, err)
	}
	format := video.Formats.FindByItag(itag)
	if format == nil {
		return nil, 0, fmt.Errorf("stream itag=%d is no longer offered for %s", itag, mediaID)
	}
	return s.client.GetStreamContext(ctx, video, format)
}

// variantsFromFormats は音声のみのフォーマットを候補にします。mp4 コンテナがあればそれを優先します。
func variantsFromFormats(formats youtube.FormatList) []media.Variant {
	audio := make([]youtube.Format, 0, len(formats))
	mp4 := make([]youtube.Format, 0, len(formats))
	for _, f := range formats {
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		audio = append(audio, f)
		if strings.HasPrefix(f.MimeType, "audio/mp4") {
			mp4 = append(mp4, f)
		}
	}
	if len(mp4) > 0 {
		audio = mp4
	}

	variants := make([]media.Variant, 0, len(audio))
	for _, f := range audio {
		variants = append(variants, media.Variant{
			Bitrate: bitrateLabel(f),
			Ref:     strconv.Itoa(f.ItagNo),
		})
	}
	return variants
}

func bitrateLabel(f youtube.Format) string {
	bps := f.AverageBitrate
	if bps <= 0 {
		bps = f.Bitrate
	}
	if bps <= 0 {
		return ""
	}
	return fmt.Sprintf("%dkbps", bps/1000)
}

func pickThumbnail(thumbs youtube.Thumbnails) string {
	best := ""
	var bestArea uint
	for _, th := range thumbs {
		area := th.Width * th.Height
		if best == "" || area > bestArea {
			best = th.URL
			bestArea = area
		}
	}
	return best
}

func cleanArtist(author string) string {
	artist := strings.TrimSpace(strings.TrimSuffix(author, topicSuffix))
	if artist == "" {
		return "Unknown"
	}
	return artist
}

// albumFromDescription は YouTube Music の自動生成動画の説明文からアルバム名を取り出します。
//
//	Provided to YouTube by <レーベル>
//
//	<曲名> · <アーティスト>
//
//	<アルバム名>
//
//	℗ ...
//
// この形式でない場合は空文字列を返します。
func albumFromDescription(description string) string {
	description = strings.ReplaceAll(description, "\r\n", "\n")
	if !strings.HasPrefix(strings.TrimSpace(description), providedPrefix) {
		return ""
	}
	var paragraphs []string
	for _, p := range strings.Split(description, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	for i, p := range paragraphs {
		if !strings.Contains(p, trackSeparator) || i+1 >= len(paragraphs) {
			continue
		}
		album := paragraphs[i+1]
		if strings.HasPrefix(album, copyrightPrefix) || strings.HasPrefix(album, releasedPrefix) || strings.Contains(album, "\n") {
			return ""
		}
		return album
	}
	return ""
}

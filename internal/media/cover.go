package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const maxCoverBytes = 10 << 20

// CoverFetcher はカバー画像を取得して作業ディレクトリに保存します。
type CoverFetcher struct {
	client *http.Client
}

// NewCoverFetcher は CoverFetcher を作成します。client が nil の場合は http.DefaultClient を使います。
func NewCoverFetcher(client *http.Client) *CoverFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &CoverFetcher{client: client}
}

// Fetch は url の画像を dir/cover.<ext> に保存し、そのパスを返します。
// 拡張子は内容から判定し、画像でないものはエラーにします。
func (f *CoverFetcher) Fetch(ctx context.Context, url, dir string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("cover url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cover request failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("cover image is empty")
	}
	if len(data) > maxCoverBytes {
		return "", fmt.Errorf("cover image exceeds %d bytes", maxCoverBytes)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("cover is not an image: %s", mt.String())
	}

	path := filepath.Join(dir, "cover"+mt.Extension())
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", err
	}
	return path, nil
}

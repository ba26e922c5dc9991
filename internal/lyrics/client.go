// Package lyrics は Lyrica API から歌詞を取得します。
package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Client は Lyrica API のクライアントです。
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient は Client を作成します。
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type timedLine struct {
	Text string `json:"text"`
}

type lyricaResponse struct {
	Data struct {
		TimedLyrics []timedLine `json:"timed_lyrics"`
		Lyrics      string      `json:"lyrics"`
		Source      string      `json:"source"`
	} `json:"data"`
}

// Lookup は歌詞をプレーンテキストで返します。見つからない場合は空文字列です。
func (c *Client) Lookup(ctx context.Context, artist, title string) (string, error) {
	if strings.TrimSpace(artist) == "" || strings.TrimSpace(title) == "" {
		return "", nil
	}

	q := url.Values{}
	q.Set("artist", artist)
	q.Set("song", title)
	q.Set("timestamps", "true")
	endpoint := c.baseURL + "/lyrics/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lyrica api failed with %d", resp.StatusCode)
	}

	var body lyricaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode lyrica response: %w", err)
	}

	if len(body.Data.TimedLyrics) > 0 {
		lines := make([]string, 0, len(body.Data.TimedLyrics))
		for _, l := range body.Data.TimedLyrics {
			lines = append(lines, l.Text)
		}
		return strings.TrimSpace(strings.Join(lines, "\n")), nil
	}
	return strings.TrimSpace(body.Data.Lyrics), nil
}

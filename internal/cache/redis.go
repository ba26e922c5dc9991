// Package cache は解決済みメタデータを Redis に保存します。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/tune-forge/internal/media"
)

const (
	metaKeyPrefix = "meta:"
)

// Redis はメタデータを JSON として Redis に保存します。
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis は Redis キャッシュを作成します。
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		rdb: rdb,
		ttl: ttl,
	}
}

// Dial は URL から Redis クライアントを作成し、疎通を確認します。
func Dial(ctx context.Context, rawURL string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return NewRedis(rdb, ttl), nil
}

// Get はメタデータを取得します。存在しない場合は nil, nil を返します。
func (s *Redis) Get(ctx context.Context, mediaID string) (*media.Metadata, error) {
	if mediaID == "" {
		return nil, fmt.Errorf("mediaID is required")
	}
	data, err := s.rdb.Get(ctx, metaKey(mediaID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var meta media.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Set はメタデータを保存します。
func (s *Redis) Set(ctx context.Context, mediaID string, meta *media.Metadata) error {
	if meta == nil {
		return fmt.Errorf("meta is nil")
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, metaKey(mediaID), payload, s.ttl).Err()
}

// Close は Redis クライアントを閉じます。
func (s *Redis) Close() error {
	return s.rdb.Close()
}

func metaKey(id string) string {
	return metaKeyPrefix + id
}

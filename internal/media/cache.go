package media

import (
	"context"
	"log"
)

// MetadataCache は解決済みメタデータのキャッシュです。未登録の場合は nil, nil を返します。
type MetadataCache interface {
	Get(ctx context.Context, mediaID string) (*Metadata, error)
	Set(ctx context.Context, mediaID string, meta *Metadata) error
}

// CachingResolver は Resolver の結果をキャッシュします。
// キャッシュ側のエラーはログに残して無視し、解決処理自体は失敗させません。
type CachingResolver struct {
	next   Resolver
	cache  MetadataCache
	logger *log.Logger
}

// NewCachingResolver は CachingResolver を作成します。
func NewCachingResolver(next Resolver, cache MetadataCache, logger *log.Logger) *CachingResolver {
	if logger == nil {
		logger = log.Default()
	}
	return &CachingResolver{next: next, cache: cache, logger: logger}
}

// Resolve はキャッシュを優先し、なければ下位の Resolver に問い合わせます。
func (r *CachingResolver) Resolve(ctx context.Context, mediaID string) (*Metadata, error) {
	cached, err := r.cache.Get(ctx, mediaID)
	if err != nil {
		r.logger.Printf("metadata cache get failed media=%s: %v", mediaID, err)
	} else if cached != nil {
		return cached, nil
	}

	meta, err := r.next.Resolve(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, mediaID, meta); err != nil {
		r.logger.Printf("metadata cache set failed media=%s: %v", mediaID, err)
	}
	return meta, nil
}

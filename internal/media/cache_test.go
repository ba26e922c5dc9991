package media

import (
	"context"
	"errors"
	"testing"
)

type mapCache struct {
	items  map[string]*Metadata
	getErr error
	sets   int
}

func (c *mapCache) Get(ctx context.Context, id string) (*Metadata, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.items[id], nil
}

func (c *mapCache) Set(ctx context.Context, id string, meta *Metadata) error {
	c.sets++
	c.items[id] = meta
	return nil
}

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) Resolve(ctx context.Context, id string) (*Metadata, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &Metadata{Title: "title-" + id}, nil
}

func TestCachingResolverHitsCacheOnSecondCall(t *testing.T) {
	cache := &mapCache{items: map[string]*Metadata{}}
	next := &countingResolver{}
	r := NewCachingResolver(next, cache, nil)

	for i := 0; i < 2; i++ {
		meta, err := r.Resolve(context.Background(), "abc")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if meta.Title != "title-abc" {
			t.Fatalf("title = %q", meta.Title)
		}
	}
	if next.calls != 1 {
		t.Fatalf("resolver calls = %d, want 1", next.calls)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}
}

func TestCachingResolverBypassesBrokenCache(t *testing.T) {
	cache := &mapCache{items: map[string]*Metadata{}, getErr: errors.New("connection refused")}
	next := &countingResolver{}

	if _, err := NewCachingResolver(next, cache, nil).Resolve(context.Background(), "abc"); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("resolver calls = %d, want 1", next.calls)
	}
}

func TestCachingResolverDoesNotCacheErrors(t *testing.T) {
	cache := &mapCache{items: map[string]*Metadata{}}
	next := &countingResolver{err: errors.New("video unavailable")}

	if _, err := NewCachingResolver(next, cache, nil).Resolve(context.Background(), "abc"); err == nil {
		t.Fatal("expected error")
	}
	if cache.sets != 0 {
		t.Fatalf("cache sets = %d, want 0", cache.sets)
	}
}

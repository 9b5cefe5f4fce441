package client

import (
	"context"
	"fmt"

	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

type cachingFetcher struct {
	next    PageFetcher
	cache   *lru.Cache[string, string]
	metrics *metrics.Metrics
}

// NewCachingFetcher keeps the last size successful fetches in memory so a
// URL requested twice in one run is fetched once. Errors are not cached.
func NewCachingFetcher(next PageFetcher, size int, m *metrics.Metrics) (PageFetcher, error) {
	if size <= 0 {
		return next, nil
	}

	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch cache: %w", err)
	}

	return &cachingFetcher{
		next:    next,
		cache:   cache,
		metrics: m,
	}, nil
}

func (f *cachingFetcher) Fetch(ctx context.Context, pageURL string, kind domain.PageKind) (string, error) {
	key := kind.String() + " " + pageURL
	if html, ok := f.cache.Get(key); ok {
		log.Debugf("Cache hit for %s", pageURL)
		f.metrics.IncCacheHit()
		return html, nil
	}

	html, err := f.next.Fetch(ctx, pageURL, kind)
	if err != nil {
		return "", err
	}

	f.cache.Add(key, html)
	return html, nil
}

func (f *cachingFetcher) Close() error {
	f.cache.Purge()
	return f.next.Close()
}

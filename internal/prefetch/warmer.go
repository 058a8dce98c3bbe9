package prefetch

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"pulse-feed-core/internal/pkg/logger"
)

// Prefetcher accepts an ordered list of resource identifiers to warm.
type Prefetcher interface {
	Warm(ctx context.Context, ids []string)
}

// FetchFunc performs the actual warm-up of one resource (range request,
// manifest download). Injected; this package only decides what to warm.
type FetchFunc func(ctx context.Context, id string) error

// AssetWarmer remembers recently warmed assets in a TTL cache so identical
// consecutive windows cost nothing. A failed warm is forgotten immediately
// and will be retried on the next window that includes it.
type AssetWarmer struct {
	warmed *gocache.Cache
	fetch  FetchFunc
	log    logger.ILogger
}

func NewAssetWarmer(ttl time.Duration, fetch FetchFunc, log logger.ILogger) *AssetWarmer {
	return &AssetWarmer{
		warmed: gocache.New(ttl, 10*time.Minute),
		fetch:  fetch,
		log:    log,
	}
}

func (w *AssetWarmer) Warm(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, found := w.warmed.Get(id); found {
			continue
		}
		w.warmed.Set(id, struct{}{}, gocache.DefaultExpiration)

		if err := w.fetch(ctx, id); err != nil {
			w.warmed.Delete(id)
			w.log.Warn("AssetWarmer", "Warm-up failed", map[string]interface{}{
				"asset": id, "error": err.Error(),
			})
		}
	}
}

package presence

import (
	"context"
	"sync"

	"pulse-feed-core/internal/cache"
	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/pkg/logger"
	"pulse-feed-core/internal/prefetch"
)

const DefaultWindow = 2

// Tracker derives the currently active feed item from visibility reports
// and keeps a preload window of currentIndex +/- N warm via the prefetch
// collaborator. Empty reports are ignored so transient scroll-through
// states never thrash playback or preload.
type Tracker struct {
	cache      *cache.CollectionCache
	key        model.CollectionKey
	prefetcher prefetch.Prefetcher
	window     int
	assetField string
	log        logger.ILogger

	mu           sync.Mutex
	currentIndex int
	lastWindow   []string
}

// NewTracker watches the collection at key. assetField names the item field
// holding the preloadable resource (e.g. "videoUrl"); items without it fall
// back to their id.
func NewTracker(c *cache.CollectionCache, key model.CollectionKey, p prefetch.Prefetcher, window int, assetField string, log logger.ILogger) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		cache:      c,
		key:        key,
		prefetcher: p,
		window:     window,
		assetField: assetField,
		log:        log,
	}
}

// Report consumes one visibility report: the indices currently visible, in
// display order. The first visible item becomes current; an empty report
// keeps the prior index.
func (t *Tracker) Report(ctx context.Context, visible []int) {
	if len(visible) == 0 {
		return
	}

	t.mu.Lock()
	t.currentIndex = visible[0]
	index := t.currentIndex
	t.mu.Unlock()

	window := t.resolveWindow(index)

	t.mu.Lock()
	if equalWindows(window, t.lastWindow) {
		t.mu.Unlock()
		return
	}
	t.lastWindow = window
	t.mu.Unlock()

	if len(window) > 0 {
		t.log.Debug("PresenceTracker", "Forwarding preload window", map[string]interface{}{
			"index": index, "assets": len(window),
		})
		t.prefetcher.Warm(ctx, window)
	}
}

func (t *Tracker) CurrentIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentIndex
}

func (t *Tracker) resolveWindow(index int) []string {
	items := t.cache.Materialized(t.key)
	if len(items) == 0 {
		return nil
	}

	var assets []string
	for i := index - t.window; i <= index+t.window; i++ {
		if i < 0 || i >= len(items) {
			continue
		}
		if url, ok := items[i].Field(t.assetField); ok {
			if s, isString := url.(string); isString && s != "" {
				assets = append(assets, s)
				continue
			}
		}
		assets = append(assets, items[i].ID)
	}
	return assets
}

func equalWindows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

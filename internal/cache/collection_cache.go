package cache

import (
	"errors"
	"sync"

	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/pkg/logger"
)

var (
	// ErrOrderingViolation is returned when a page append arrives out of
	// fetch-initiation order. The collection is left unchanged.
	ErrOrderingViolation = errors.New("page append out of fetch order")

	// ErrStaleFetch is returned when a fetch ticket was superseded by an
	// Invalidate before its page arrived. The result is discarded.
	ErrStaleFetch = errors.New("fetch superseded by invalidation")
)

// FetchTicket orders page appends. One ticket is issued per page fetch at
// initiation time; the cache applies appends strictly in ticket order and
// discards tickets from a superseded generation. A ticket whose fetch failed
// must be released with AbandonFetch or it blocks every later ticket.
type FetchTicket struct {
	key        string
	Cursor     string
	seq        int
	generation uint64
}

type storedPage struct {
	cursor     string
	items      []string // item ids in page order
	nextCursor string
}

type collection struct {
	key   model.CollectionKey
	pages []*storedPage
	items map[string]*model.Item

	// dataGeneration is the generation whose pages are materialized;
	// generation advances on Invalidate, cancelling in-flight fetches.
	generation     uint64
	dataGeneration uint64
	issuedSeq      int
	nextSeq        int
	abandoned      map[int]struct{}
	stale          bool
}

// CollectionCache is the keyed, cursor-based store of ordered collections.
// All operations are synchronous: once a mutation returns, every subsequent
// read observes it. A single mutex stands in for the source platform's
// single UI thread; interleaving of higher-level operations is last-write-
// wins per field.
type CollectionCache struct {
	mu      sync.Mutex
	entries map[string]*collection
	log     logger.ILogger
}

func NewCollectionCache(log logger.ILogger) *CollectionCache {
	return &CollectionCache{
		entries: make(map[string]*collection),
		log:     log,
	}
}

// Materialize ensures an entry exists for the key. Router-driven patches
// still no-op on keys that were never materialized; this is for the owning
// screen declaring interest before its first fetch.
func (c *CollectionCache) Materialize(key model.CollectionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(key)
}

// BeginFetch issues an ordered ticket for fetching the page at cursor.
// Tickets must be obtained at fetch initiation time, before awaiting the
// network, so resumption order cannot corrupt page order.
func (c *CollectionCache) BeginFetch(key model.CollectionKey, cursor string) FetchTicket {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entry(key)
	ticket := FetchTicket{
		key:        key.Canonical(),
		Cursor:     cursor,
		seq:        entry.issuedSeq,
		generation: entry.generation,
	}
	entry.issuedSeq++
	return ticket
}

// AbandonFetch releases a ticket whose fetch failed, so later tickets are not
// wedged waiting for a page that will never arrive. The caller may retry with
// a fresh ticket.
func (c *CollectionCache) AbandonFetch(ticket FetchTicket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ticket.key]
	if !ok || ticket.generation != entry.generation {
		return // superseded; nothing is waiting on this seq anymore
	}
	if ticket.seq == entry.nextSeq {
		entry.nextSeq++
		c.skipAbandonedLocked(entry)
		return
	}
	entry.abandoned[ticket.seq] = struct{}{}
}

// AppendPage applies a fetched page under its ticket. Pages apply strictly
// in initiation order: an append whose predecessor has not applied yet is
// rejected (logged, no-op) rather than buffered. Items already present keep
// their position; their fields are merged with the incoming record.
func (c *CollectionCache) AppendPage(ticket FetchTicket, page model.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ticket.key]
	if !ok {
		return ErrStaleFetch
	}

	if ticket.generation != entry.generation {
		c.log.Debug("CollectionCache", "Discarding page from superseded fetch", map[string]interface{}{
			"key": ticket.key, "seq": ticket.seq,
		})
		return ErrStaleFetch
	}

	if ticket.seq != entry.nextSeq {
		c.log.Warn("CollectionCache", "Rejecting out-of-order page append", map[string]interface{}{
			"key": ticket.key, "seq": ticket.seq, "expected": entry.nextSeq,
		})
		return ErrOrderingViolation
	}

	// First page of a fresh generation replaces whatever stale data the
	// previous generation left materialized.
	if entry.dataGeneration != entry.generation {
		entry.pages = nil
		entry.items = make(map[string]*model.Item)
		entry.dataGeneration = entry.generation
	}

	stored := &storedPage{cursor: ticket.Cursor, nextCursor: page.NextCursor}
	for _, item := range page.Items {
		if existing, dup := entry.items[item.ID]; dup {
			// Revisited across pages during refetch: keep position, merge fields.
			existing.Merge(item.Fields)
			continue
		}
		clone := item.Clone()
		entry.items[item.ID] = &clone
		stored.items = append(stored.items, item.ID)
	}
	entry.pages = append(entry.pages, stored)
	entry.nextSeq++
	c.skipAbandonedLocked(entry)
	entry.stale = false
	return nil
}

// skipAbandonedLocked advances nextSeq past tickets released by AbandonFetch.
// Caller holds c.mu.
func (c *CollectionCache) skipAbandonedLocked(entry *collection) {
	for {
		if _, ok := entry.abandoned[entry.nextSeq]; !ok {
			return
		}
		delete(entry.abandoned, entry.nextSeq)
		entry.nextSeq++
	}
}

// GetPage returns the materialized page fetched with the given cursor.
func (c *CollectionCache) GetPage(key model.CollectionKey, cursor string) (model.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return model.Page{}, false
	}
	for _, page := range entry.pages {
		if page.cursor == cursor {
			out := model.Page{NextCursor: page.nextCursor}
			for _, id := range page.items {
				if item, present := entry.items[id]; present {
					out.Items = append(out.Items, item.Clone())
				}
			}
			return out, true
		}
	}
	return model.Page{}, false
}

// NextCursor returns the cursor for fetching the page after everything
// currently materialized, and whether more pages may exist. An empty
// collection fetches from the first page (empty cursor).
func (c *CollectionCache) NextCursor(key model.CollectionKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok || len(entry.pages) == 0 || entry.dataGeneration != entry.generation {
		return "", true
	}
	last := entry.pages[len(entry.pages)-1]
	return last.nextCursor, last.nextCursor != ""
}

// UpsertItem merges the item into the collection if its id exists, otherwise
// inserts it at the head of the first page. No-op when the key was never
// materialized (the user is not on that screen).
func (c *CollectionCache) UpsertItem(key model.CollectionKey, item model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return
	}
	if existing, present := entry.items[item.ID]; present {
		existing.Merge(item.Fields)
		return
	}
	c.insertLocked(entry, item, true)
}

// AppendItem merges the item in place if its id exists, otherwise appends it
// at the tail of the last page (chat messages: most-recent-last).
func (c *CollectionCache) AppendItem(key model.CollectionKey, item model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return
	}
	if existing, present := entry.items[item.ID]; present {
		existing.Merge(item.Fields)
		return
	}
	c.insertLocked(entry, item, false)
}

// ReplaceItem overwrites all fields of the item, dropping fields absent from
// the replacement. Used for whole-entity pushes. No-op on cache miss.
func (c *CollectionCache) ReplaceItem(key model.CollectionKey, item model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return
	}
	if existing, present := entry.items[item.ID]; present {
		clone := item.Clone()
		existing.Fields = clone.Fields
	}
}

// PatchItemFields merges only the named fields into the item. A missing key
// or item is a silent no-op: the patch may arrive before the enclosing page
// was ever fetched.
func (c *CollectionCache) PatchItemFields(key model.CollectionKey, itemID string, patch map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return
	}
	if item, present := entry.items[itemID]; present {
		item.Merge(patch)
	}
}

// TransformItemFields captures the current values of exactly the named
// fields and applies the transform's patch to the item, all under one lock:
// no other mutation can slip between capture and apply. Returns the captured
// baseline; ok is false when the key or item is not materialized.
func (c *CollectionCache) TransformItemFields(key model.CollectionKey, itemID string, fields []string, transform func(current map[string]any) map[string]any) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return nil, false
	}
	item, present := entry.items[itemID]
	if !present {
		return nil, false
	}

	baseline := make(map[string]any, len(fields))
	current := make(map[string]any, len(fields))
	for _, field := range fields {
		value := item.Fields[field]
		baseline[field] = value
		current[field] = value
	}
	item.Merge(transform(current))
	return baseline, true
}

// PatchItemEverywhere merges the patch into every materialized collection
// containing the item id.
func (c *CollectionCache) PatchItemEverywhere(itemID string, patch map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		if item, present := entry.items[itemID]; present {
			item.Merge(patch)
		}
	}
}

// IncrementItemField adds delta to a numeric field on every materialized
// copy of the item, flooring at zero. Missing or non-numeric fields count
// as zero.
func (c *CollectionCache) IncrementItemField(itemID, field string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		if item, present := entry.items[itemID]; present {
			current := numeric(item.Fields[field])
			next := current + delta
			if next < 0 {
				next = 0
			}
			item.Fields[field] = next
		}
	}
}

// GetItem returns a copy of the item in the given collection.
func (c *CollectionCache) GetItem(key model.CollectionKey, itemID string) (model.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return model.Item{}, false
	}
	item, present := entry.items[itemID]
	if !present {
		return model.Item{}, false
	}
	return item.Clone(), true
}

// Materialized returns the concatenation of all fetched pages in order.
func (c *CollectionCache) Materialized(key model.CollectionKey) []model.Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return nil
	}
	var out []model.Item
	for _, page := range entry.pages {
		for _, id := range page.items {
			if item, present := entry.items[id]; present {
				out = append(out, item.Clone())
			}
		}
	}
	return out
}

// Invalidate marks the collection stale and supersedes every in-flight fetch
// for it. The materialized data stays readable until a fresh first page
// replaces it.
func (c *CollectionCache) Invalidate(key model.CollectionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return
	}
	entry.stale = true
	entry.generation++
	entry.issuedSeq = 0
	entry.nextSeq = 0
	entry.abandoned = make(map[int]struct{})
}

func (c *CollectionCache) IsStale(key model.CollectionKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	return ok && entry.stale
}

// Len returns the number of materialized items for the key.
func (c *CollectionCache) Len(key model.CollectionKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.Canonical()]
	if !ok {
		return 0
	}
	total := 0
	for _, page := range entry.pages {
		total += len(page.items)
	}
	return total
}

// Stats reports per-collection sizes for the debug endpoint.
func (c *CollectionCache) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(map[string]int, len(c.entries))
	for canonical, entry := range c.entries {
		total := 0
		for _, page := range entry.pages {
			total += len(page.items)
		}
		stats[canonical] = total
	}
	return stats
}

func (c *CollectionCache) entry(key model.CollectionKey) *collection {
	canonical := key.Canonical()
	entry, ok := c.entries[canonical]
	if !ok {
		entry = &collection{
			key:       key,
			items:     make(map[string]*model.Item),
			abandoned: make(map[int]struct{}),
		}
		c.entries[canonical] = entry
	}
	return entry
}

// insertLocked places a new item at the head of the first page or the tail
// of the last one, creating a synthetic page for an empty collection.
func (c *CollectionCache) insertLocked(entry *collection, item model.Item, atHead bool) {
	if len(entry.pages) == 0 {
		entry.pages = append(entry.pages, &storedPage{})
		entry.dataGeneration = entry.generation
	}
	clone := item.Clone()
	entry.items[item.ID] = &clone

	if atHead {
		first := entry.pages[0]
		first.items = append([]string{item.ID}, first.items...)
	} else {
		last := entry.pages[len(entry.pages)-1]
		last.items = append(last.items, item.ID)
	}
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

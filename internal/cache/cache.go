// Package cache memoizes parsing and classification per document fingerprint.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mfenderov/doclens/internal/storage"
	"github.com/mfenderov/doclens/pkg/models"
)

// DefaultTimeout bounds one parse-and-classify computation.
const DefaultTimeout = 5 * time.Minute

// ErrNotCached is returned by Document for an unknown fingerprint.
var ErrNotCached = errors.New("document not cached")

// Entry is the cached result for one fingerprint.
type Entry struct {
	Document       *models.ParsedDocument `json:"document"`
	Classification models.Classification  `json:"classification"`
	CachedAt       time.Time              `json:"cached_at"`
}

// ParseFunc produces the parsed document on a cache miss.
type ParseFunc func(ctx context.Context) (*models.ParsedDocument, error)

// ClassifyFunc classifies a freshly parsed document.
type ClassifyFunc func(ctx context.Context, doc *models.ParsedDocument) (models.Classification, error)

// Mirror is durable write-through storage for entries. storage.Store
// implementations satisfy it.
type Mirror interface {
	Put(ctx context.Context, collection, key string, v any) error
	Get(ctx context.Context, collection, key string, v any) error
	Delete(ctx context.Context, collection, key string) error
	DeleteAll(ctx context.Context, collection string) error
}

// Config configures a Cache.
type Config struct {
	// Timeout bounds a computation independently of the callers waiting on it.
	Timeout time.Duration
}

// Stats counts cache activity.
type Stats struct {
	Entries  int
	Hits     int
	Loads    int // warm starts from the mirror
	Computes int
}

// Cache maps fingerprints to parsed documents and classifications. Entries
// are only removed by Clear and Forget.
type Cache struct {
	mu         sync.RWMutex
	entries    map[models.Fingerprint]*Entry
	generation uint64
	stats      Stats

	group   singleflight.Group
	mirror  Mirror
	timeout time.Duration
}

// New creates a cache. mirror may be nil.
func New(mirror Mirror, cfg Config) *Cache {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Cache{
		entries: make(map[models.Fingerprint]*Entry),
		mirror:  mirror,
		timeout: cfg.Timeout,
	}
}

// GetOrCreate returns the entry for fp, computing it at most once however
// many callers ask concurrently. The computation is detached from the first
// caller: a caller whose ctx ends stops waiting without affecting the others.
// Nothing is stored when parse or classify fails.
func (c *Cache) GetOrCreate(ctx context.Context, fp models.Fingerprint, parse ParseFunc, classify ClassifyFunc) (*Entry, error) {
	if e, ok := c.hit(fp); ok {
		return e, nil
	}

	ch := c.group.DoChan(string(fp), func() (any, error) {
		if e, ok := c.hit(fp); ok {
			return e, nil
		}
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.compute(computeCtx, fp, parse, classify)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Entry), nil
	}
}

func (c *Cache) compute(ctx context.Context, fp models.Fingerprint, parse ParseFunc, classify ClassifyFunc) (*Entry, error) {
	gen := c.currentGeneration()

	if e := c.load(ctx, fp); e != nil {
		c.publish(gen, fp, e)
		c.count(func(s *Stats) { s.Loads++ })
		return e, nil
	}

	doc, err := parse(ctx)
	if err != nil {
		return nil, err
	}
	class, err := classify(ctx, doc)
	if err != nil {
		return nil, err
	}

	e := &Entry{Document: doc, Classification: class, CachedAt: time.Now().UTC()}
	c.count(func(s *Stats) { s.Computes++ })
	if c.publish(gen, fp, e) && c.mirror != nil {
		if err := c.mirror.Put(ctx, storage.CollectionDocuments, string(fp), e); err != nil {
			slog.Warn("failed to mirror cache entry", "fingerprint", fp.Short(), "error", err)
		}
	}
	slog.Debug("cache entry created",
		"fingerprint", fp.Short(),
		"type", class.Type,
		"chars", len(doc.Text))
	return e, nil
}

// load reads a mirrored entry. Mirror failures count as a miss.
func (c *Cache) load(ctx context.Context, fp models.Fingerprint) *Entry {
	if c.mirror == nil {
		return nil
	}
	var e Entry
	err := c.mirror.Get(ctx, storage.CollectionDocuments, string(fp), &e)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("failed to read mirrored cache entry", "fingerprint", fp.Short(), "error", err)
		}
		return nil
	}
	if e.Document == nil || e.Document.Fingerprint != fp {
		slog.Warn("ignoring mismatched mirrored cache entry", "fingerprint", fp.Short())
		return nil
	}
	return &e
}

// publish stores e unless the cache was cleared since gen was read.
func (c *Cache) publish(gen uint64, fp models.Fingerprint, e *Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.entries[fp] = e
	return true
}

func (c *Cache) hit(fp models.Fingerprint) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if ok {
		c.stats.Hits++
	}
	return e, ok
}

func (c *Cache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *Cache) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// Get returns the in-memory entry for fp.
func (c *Cache) Get(fp models.Fingerprint) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fp]
	return e, ok
}

// Document returns the parsed document for fp from memory, or from the
// mirror on a warm start.
func (c *Cache) Document(ctx context.Context, fp models.Fingerprint) (*models.ParsedDocument, error) {
	if e, ok := c.Get(fp); ok {
		return e.Document, nil
	}
	gen := c.currentGeneration()
	if e := c.load(ctx, fp); e != nil {
		c.publish(gen, fp, e)
		return e.Document, nil
	}
	return nil, fmt.Errorf("%s: %w", fp.Short(), ErrNotCached)
}

// Fingerprints lists cached fingerprints in sorted order.
func (c *Cache) Fingerprints() []models.Fingerprint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fps := make([]models.Fingerprint, 0, len(c.entries))
	for fp := range c.entries {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })
	return fps
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Clear drops every entry, here and in the mirror. Computations in flight
// still answer their callers but are not stored.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[models.Fingerprint]*Entry)
	c.generation++
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.DeleteAll(ctx, storage.CollectionDocuments); err != nil {
			slog.Warn("failed to clear mirrored cache", "error", err)
		}
	}
	slog.Info("cache cleared")
	return nil
}

// Forget drops one fingerprint, here and in the mirror.
func (c *Cache) Forget(ctx context.Context, fp models.Fingerprint) error {
	c.mu.Lock()
	delete(c.entries, fp)
	c.generation++
	c.mu.Unlock()
	c.group.Forget(string(fp))

	if c.mirror != nil {
		if err := c.mirror.Delete(ctx, storage.CollectionDocuments, string(fp)); err != nil {
			slog.Warn("failed to delete mirrored cache entry", "fingerprint", fp.Short(), "error", err)
		}
	}
	slog.Debug("cache entry forgotten", "fingerprint", fp.Short())
	return nil
}

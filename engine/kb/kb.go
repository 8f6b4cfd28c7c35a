// Package kb manages knowledge bases: the chunks and vector index built from
// one document, cached in memory per identity and persisted as artifacts.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
)

// KnowledgeBase is everything retrieval needs for one document. Chunks are
// ordered by id and ids are ordinals, so lookup is positional.
type KnowledgeBase struct {
	Identity domain.Identity
	Chunks   []domain.Chunk
	Index    *semantic.Index
}

// Chunk resolves a chunk id. Falls back to a scan if ids are not ordinal,
// which only happens with hand-edited artifacts.
func (k *KnowledgeBase) Chunk(id uint32) (domain.Chunk, bool) {
	if int(id) < len(k.Chunks) && k.Chunks[id].ID == id {
		return k.Chunks[id], true
	}
	for _, ch := range k.Chunks {
		if ch.ID == id {
			return ch, true
		}
	}
	return domain.Chunk{}, false
}

// Store persists knowledge bases by identity.
type Store interface {
	// Load returns ErrNotFound when no artifact pair exists.
	Load(ctx context.Context, id domain.Identity) (*KnowledgeBase, error)
	Save(ctx context.Context, kb *KnowledgeBase) error
	Exists(id domain.Identity) bool
}

// BuilderFunc builds a knowledge base from scratch. Invoked at most once per
// identity while it is absent from cache and store.
type BuilderFunc func(ctx context.Context) (*KnowledgeBase, error)

// Cache keeps open knowledge bases in memory, backed by a durable store.
// Builds for the same identity coalesce; different identities build in
// parallel.
type Cache struct {
	store Store
	log   *slog.Logger
	group singleflight.Group

	mu   sync.RWMutex
	open map[domain.Identity]*KnowledgeBase
}

// NewCache creates an empty cache over the given store.
func NewCache(store Store, log *slog.Logger) *Cache {
	return &Cache{
		store: store,
		log:   log,
		open:  make(map[domain.Identity]*KnowledgeBase),
	}
}

// Get returns an already-built knowledge base, opening it from the store if
// needed. Never builds; missing → ErrNotFound.
func (c *Cache) Get(ctx context.Context, id domain.Identity) (*KnowledgeBase, error) {
	if kb := c.peek(id); kb != nil {
		return kb, nil
	}
	kb, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.admit(kb)
	return kb, nil
}

// GetOrBuild returns the knowledge base for id, building and persisting it
// if absent. Concurrent callers for one identity share a single build; the
// winning caller's context governs it. A cached identity is returned as-is,
// so re-ingesting known content is a no-op.
func (c *Cache) GetOrBuild(ctx context.Context, id domain.Identity, build BuilderFunc) (*KnowledgeBase, error) {
	if kb := c.peek(id); kb != nil {
		return kb, nil
	}

	v, err, _ := c.group.Do(id.String(), func() (any, error) {
		if kb := c.peek(id); kb != nil {
			return kb, nil
		}

		kb, err := c.store.Load(ctx, id)
		if err == nil {
			c.admit(kb)
			return kb, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			c.log.Warn("knowledge base artifacts unreadable, rebuilding",
				slog.String("identity", id.Short()), slog.String("error", err.Error()))
		}

		kb, err = build(ctx)
		if err != nil {
			return nil, err
		}
		if kb.Identity != id {
			return nil, fmt.Errorf("kb: builder returned identity %s for %s", kb.Identity.Short(), id.Short())
		}
		if err := c.store.Save(ctx, kb); err != nil {
			return nil, err
		}
		c.admit(kb)
		return kb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*KnowledgeBase), nil
}

// Evict drops an identity from the open set. Artifacts stay on disk.
func (c *Cache) Evict(id domain.Identity) {
	c.mu.Lock()
	delete(c.open, id)
	c.mu.Unlock()
}

func (c *Cache) peek(id domain.Identity) *KnowledgeBase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open[id]
}

func (c *Cache) admit(kb *KnowledgeBase) {
	c.mu.Lock()
	c.open[kb.Identity] = kb
	c.mu.Unlock()
}

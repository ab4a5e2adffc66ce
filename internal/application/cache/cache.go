// Package cache holds the latest fetched collection of every entity kind.
//
// A load is a total replacement: the collection is either swapped for the
// fetched one or, when the fetch fails, reset to empty. Responses may arrive
// out of order, so each load takes a per-kind generation token and only the
// newest token issued for a kind may commit.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
	"github.com/schooladmin/recordsync/pkg/logger"
)

// Lister fetches the full collection of a kind. The remote client implements it.
type Lister interface {
	List(ctx context.Context, kind records.Kind) ([]records.Record, error)
}

// Load outcomes reported to a LoadHook.
const (
	OutcomeApplied    = "applied"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)

// LoadHook observes every load attempt. Metrics implement it.
type LoadHook func(kind records.Kind, outcome string, d time.Duration)

// Observer is notified after every committed replacement of a kind, in commit
// order, before the committing Load returns. The snapshot is the observer's
// own copy. Observers may read the cache but must not call Load.
type Observer func(kind records.Kind, snapshot []records.Record)

type entry struct {
	records  []records.Record
	byID     map[records.ID]int
	loaded   bool
	loadedAt time.Time
}

// EntityCache is the single owner of all per-kind collections.
type EntityCache struct {
	lister Lister
	logger *logger.Logger
	hook   LoadHook

	mu      sync.RWMutex
	entries map[records.Kind]*entry
	issued  map[records.Kind]uint64

	// notifyMu orders observer notification by commit.
	notifyMu  sync.Mutex
	observers []Observer
}

// Option configures an EntityCache.
type Option func(*EntityCache)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *EntityCache) { c.logger = l }
}

// WithLoadHook sets the load outcome hook.
func WithLoadHook(h LoadHook) Option {
	return func(c *EntityCache) { c.hook = h }
}

// New creates an empty cache in which no kind has been loaded.
func New(lister Lister, opts ...Option) *EntityCache {
	c := &EntityCache{
		lister:  lister,
		logger:  logger.Nop(),
		entries: make(map[records.Kind]*entry),
		issued:  make(map[records.Kind]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("cache"))
	return c
}

// OnReplace registers an observer. Register observers before the first Load.
func (c *EntityCache) OnReplace(o Observer) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.observers = append(c.observers, o)
}

// Load fetches the kind and replaces its collection.
//
// On success the fetched records are committed and returned. On failure the
// collection is reset to empty and the error returned. If a newer Load for the
// same kind was started meanwhile, nothing is committed: a superseded success
// still returns its records with a nil error, a superseded failure returns its
// error marked with shared.ErrSuperseded.
func (c *EntityCache) Load(ctx context.Context, kind records.Kind) ([]records.Record, error) {
	if !kind.Valid() {
		return nil, shared.WrapError("cache", "Load", shared.ErrUnknownKind, "unknown kind "+string(kind), nil)
	}

	c.mu.Lock()
	c.issued[kind]++
	gen := c.issued[kind]
	c.mu.Unlock()

	start := time.Now()
	fetched, err := c.lister.List(ctx, kind)
	elapsed := time.Since(start)

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.issued[kind] != gen {
		latest := c.issued[kind]
		c.mu.Unlock()
		c.report(kind, OutcomeSuperseded, elapsed)
		c.logger.Debug("discarding superseded load",
			logger.Kind(string(kind)), logger.Generation(gen), logger.Any("latest", latest))
		if err != nil {
			return nil, shared.WrapError("cache", "Load", shared.ErrSuperseded, shared.UserMessage(err), err)
		}
		return fetched, nil
	}

	e := &entry{}
	if err == nil {
		e.records = records.CloneAll(fetched)
		e.loaded = true
		e.loadedAt = time.Now()
	} else {
		e.records = []records.Record{}
	}
	e.byID = indexByID(kind, e.records)
	c.entries[kind] = e
	snapshotFor := func() []records.Record { return records.CloneAll(e.records) }
	c.mu.Unlock()

	if err != nil {
		c.report(kind, OutcomeFailed, elapsed)
		c.logger.Warn("load failed, collection reset to empty",
			logger.Kind(string(kind)), logger.Generation(gen), logger.Err(err))
	} else {
		c.report(kind, OutcomeApplied, elapsed)
		c.logger.Debug("collection replaced",
			logger.Kind(string(kind)), logger.Generation(gen), logger.Int("count", len(e.records)))
	}

	for _, o := range c.observers {
		o(kind, snapshotFor())
	}

	if err != nil {
		return nil, err
	}
	return fetched, nil
}

// LoadIfEmpty loads the kind when it was never loaded or holds no records,
// and otherwise returns the current snapshot without I/O.
func (c *EntityCache) LoadIfEmpty(ctx context.Context, kind records.Kind) ([]records.Record, error) {
	c.mu.RLock()
	e, ok := c.entries[kind]
	populated := ok && e.loaded && len(e.records) > 0
	c.mu.RUnlock()
	if populated {
		return c.Snapshot(kind), nil
	}
	return c.Load(ctx, kind)
}

// Snapshot returns a copy of the current collection. A kind that was never
// loaded yields an empty, non-nil slice. Snapshot never performs I/O.
func (c *EntityCache) Snapshot(kind records.Kind) []records.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	if !ok {
		return []records.Record{}
	}
	return records.CloneAll(e.records)
}

// Loaded reports whether the current collection came from a successful load.
func (c *EntityCache) Loaded(kind records.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	return ok && e.loaded
}

// LoadedAt returns the commit time of the current collection.
func (c *EntityCache) LoadedAt(kind records.Kind) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	if !ok || !e.loaded {
		return time.Time{}, false
	}
	return e.loadedAt, true
}

// Find returns a copy of the cached record with the given identifier.
func (c *EntityCache) Find(kind records.Kind, id records.ID) (records.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	if !ok {
		return nil, false
	}
	i, ok := e.byID[id]
	if !ok {
		return nil, false
	}
	return e.records[i].Clone(), true
}

// Generation returns the newest load token issued for the kind.
func (c *EntityCache) Generation(kind records.Kind) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.issued[kind]
}

func (c *EntityCache) report(kind records.Kind, outcome string, d time.Duration) {
	if c.hook != nil {
		c.hook(kind, outcome, d)
	}
}

func indexByID(kind records.Kind, recs []records.Record) map[records.ID]int {
	idx := make(map[records.ID]int, len(recs))
	for i, r := range recs {
		if id, ok := r.ID(kind); ok {
			idx[id] = i
		}
	}
	return idx
}

// Package refindex keeps the identifier sets of the referenced kinds
// (students, courses, enrollments) used to check references before a write.
//
// A set is rebuilt from every committed cache snapshot. A lookup that misses
// triggers exactly one reload of the kind and one re-check; there is no retry
// loop.
package refindex

import (
	"context"
	"sync"

	"github.com/schooladmin/recordsync/internal/application/cache"
	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
	"github.com/schooladmin/recordsync/pkg/logger"
)

// Source is the cache the index derives from.
type Source interface {
	Load(ctx context.Context, kind records.Kind) ([]records.Record, error)
	Snapshot(kind records.Kind) []records.Record
	OnReplace(o cache.Observer)
}

// Check outcomes reported to a CheckHook.
const (
	OutcomeHit       = "hit"
	OutcomeRefreshed = "refreshed"
	OutcomeMissing   = "missing"
	OutcomeError     = "error"
)

// CheckHook observes every existence check.
type CheckHook func(kind records.Kind, outcome string)

// Index is the reference-existence index.
type Index struct {
	source Source
	hook   CheckHook
	logger *logger.Logger

	mu   sync.RWMutex
	sets map[records.Kind]map[records.ID]struct{}
}

// Option configures an Index.
type Option func(*Index)

// WithCheckHook sets the check outcome hook.
func WithCheckHook(h CheckHook) Option {
	return func(ix *Index) { ix.hook = h }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// New builds the index from the current snapshots and subscribes it to every
// later replacement.
func New(src Source, opts ...Option) *Index {
	ix := &Index{
		source: src,
		logger: logger.Nop(),
		sets:   make(map[records.Kind]map[records.ID]struct{}),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With(logger.Component("refindex"))

	for _, k := range records.ReferencedKinds() {
		ix.rebuild(k, src.Snapshot(k))
	}
	src.OnReplace(ix.rebuild)
	return ix
}

// rebuild recomputes the set of a referenced kind. Other kinds are ignored.
func (ix *Index) rebuild(kind records.Kind, snapshot []records.Record) {
	if !referenced(kind) {
		return
	}
	set := make(map[records.ID]struct{}, len(snapshot))
	for _, r := range snapshot {
		if id, ok := r.ID(kind); ok {
			set[id] = struct{}{}
		}
	}
	ix.mu.Lock()
	ix.sets[kind] = set
	ix.mu.Unlock()
}

// Contains checks the current set only, without I/O.
func (ix *Index) Contains(kind records.Kind, id records.ID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.sets[kind][id]
	return ok
}

// Size returns the number of identifiers known for kind.
func (ix *Index) Size(kind records.Kind) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.sets[kind])
}

// Exists reports whether id is a known identifier of kind. A hit costs no I/O.
// A miss reloads the kind once and answers from the rebuilt set. If that
// reload fails, the network error is returned, unless a newer load already
// committed a set that holds id.
func (ix *Index) Exists(ctx context.Context, kind records.Kind, id records.ID) (bool, error) {
	if !referenced(kind) {
		return false, shared.WrapError("refindex", "Exists", shared.ErrUnknownKind,
			kind.Label()+" is not a referenced kind", nil)
	}
	if ix.Contains(kind, id) {
		ix.report(kind, OutcomeHit)
		return true, nil
	}

	ix.logger.Debug("reference miss, reloading",
		logger.Kind(string(kind)), logger.RecordID(int64(id)))
	if _, err := ix.source.Load(ctx, kind); err != nil {
		if shared.IsSuperseded(err) && ix.Contains(kind, id) {
			ix.report(kind, OutcomeRefreshed)
			return true, nil
		}
		ix.report(kind, OutcomeError)
		return false, err
	}

	if ix.Contains(kind, id) {
		ix.report(kind, OutcomeRefreshed)
		return true, nil
	}
	ix.report(kind, OutcomeMissing)
	return false, nil
}

// Require checks every reference in order and fails on the first one that
// does not resolve, with a client validation error naming it.
func (ix *Index) Require(ctx context.Context, refs []records.Ref) error {
	for _, ref := range refs {
		ok, err := ix.Exists(ctx, ref.Kind, ref.ID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.Invalid("refindex", "Require", "%s %d does not exist (%s)",
				ref.Kind.Label(), ref.ID, ref.Field)
		}
	}
	return nil
}

func (ix *Index) report(kind records.Kind, outcome string) {
	if ix.hook != nil {
		ix.hook(kind, outcome)
	}
}

func referenced(kind records.Kind) bool {
	for _, k := range records.ReferencedKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

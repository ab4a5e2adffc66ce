package crud

import (
	"context"
	"sync"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// RowState is the editing state of one displayed record.
type RowState int

const (
	Viewing RowState = iota
	Editing
	Pending
)

func (s RowState) String() string {
	switch s {
	case Viewing:
		return "viewing"
	case Editing:
		return "editing"
	case Pending:
		return "pending"
	}
	return "unknown"
}

type rowKey struct {
	kind records.Kind
	id   records.ID
}

type row struct {
	state RowState
	edits map[string]any
}

// Updater is the save path of the row editor.
type Updater interface {
	Update(ctx context.Context, kind records.Kind, id records.ID, edits map[string]any) (Result, error)
}

// RowEditor tracks per-row edit state:
//
//	Viewing -> Editing -> Viewing            (cancel)
//	Viewing -> Editing -> Pending -> Viewing (save, success or failure)
//
// Any committed reload of a kind returns all its rows to Viewing. Register
// Reset as a cache observer for that.
type RowEditor struct {
	updater Updater
	finder  interface {
		Find(kind records.Kind, id records.ID) (records.Record, bool)
	}

	mu   sync.Mutex
	rows map[rowKey]*row
}

// NewRowEditor creates a RowEditor over the orchestrator and the cache.
func NewRowEditor(u Updater, c Cache) *RowEditor {
	return &RowEditor{updater: u, finder: c, rows: make(map[rowKey]*row)}
}

// State returns the current state of a row.
func (e *RowEditor) State(kind records.Kind, id records.ID) RowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rows[rowKey{kind, id}]; ok {
		return r.state
	}
	return Viewing
}

// Begin moves a cached row into Editing.
func (e *RowEditor) Begin(kind records.Kind, id records.ID) error {
	if _, ok := e.finder.Find(kind, id); !ok {
		return shared.NewDomainError("crud", "Begin", shared.ErrNotFoundLocally,
			kind.Label()+" "+id.String()+" is no longer in the list; reload and try again")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	k := rowKey{kind, id}
	if r, ok := e.rows[k]; ok && r.state != Viewing {
		return shared.Invalid("crud", "Begin", "%s %s is already being edited", kind.Label(), id)
	}
	e.rows[k] = &row{state: Editing, edits: map[string]any{}}
	return nil
}

// Set records an uncommitted field value on a row being edited.
func (e *RowEditor) Set(kind records.Kind, id records.ID, field string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rows[rowKey{kind, id}]
	if !ok || r.state != Editing {
		return shared.Invalid("crud", "Set", "%s %s is not being edited", kind.Label(), id)
	}
	r.edits[field] = value
	return nil
}

// Cancel discards uncommitted input and returns the row to Viewing.
func (e *RowEditor) Cancel(kind records.Kind, id records.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := rowKey{kind, id}
	if r, ok := e.rows[k]; ok && r.state == Editing {
		delete(e.rows, k)
	}
}

// Save submits the row's edits. The row is Pending while the request is in
// flight and Viewing afterwards whatever the outcome; on failure the input
// is discarded and the error returned.
func (e *RowEditor) Save(ctx context.Context, kind records.Kind, id records.ID) (Result, error) {
	k := rowKey{kind, id}

	e.mu.Lock()
	r, ok := e.rows[k]
	if !ok || r.state != Editing {
		e.mu.Unlock()
		return Result{}, shared.Invalid("crud", "Save", "%s %s is not being edited", kind.Label(), id)
	}
	r.state = Pending
	edits := r.edits
	e.mu.Unlock()

	res, err := e.updater.Update(ctx, kind, id, edits)

	e.mu.Lock()
	if cur, ok := e.rows[k]; ok && cur == r {
		delete(e.rows, k)
	}
	e.mu.Unlock()
	return res, err
}

// Reset returns every row of kind to Viewing. It has the cache observer
// signature.
func (e *RowEditor) Reset(kind records.Kind, _ []records.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.rows {
		if k.kind == kind {
			delete(e.rows, k)
		}
	}
}

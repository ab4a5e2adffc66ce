package crud

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/schooladmin/recordsync/internal/domain/records"
)

// Remote is the write side of the records API.
type Remote interface {
	Create(ctx context.Context, kind records.Kind, payload any) (records.Record, error)
	CreateAggregate(ctx context.Context, payload *records.PersonDraft) (records.Record, error)
	UpdatePartial(ctx context.Context, kind records.Kind, id records.ID, patch records.Patch) (records.Record, error)
	UpdateFull(ctx context.Context, kind records.Kind, id records.ID, payload any) (records.Record, error)
	Delete(ctx context.Context, kind records.Kind, id records.ID) error
	UploadCSV(ctx context.Context, kind records.Kind, filename string, r io.Reader) (string, error)
}

// Cache is the part of the entity cache the orchestrator uses.
type Cache interface {
	Load(ctx context.Context, kind records.Kind) ([]records.Record, error)
	Find(kind records.Kind, id records.ID) (records.Record, bool)
}

// References checks references before a write.
type References interface {
	Require(ctx context.Context, refs []records.Ref) error
}

// Confirmer asks the user to confirm a destructive operation.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// Always is a Confirmer for callers that confirmed up front.
var Always Confirmer = ConfirmFunc(func(context.Context, string) bool { return true })

// Write operations.
const (
	OpCreate          = "create"
	OpCreateAggregate = "create_aggregate"
	OpUpdatePartial   = "update_partial"
	OpUpdateFull      = "update_full"
	OpDelete          = "delete"
	OpUpload          = "upload"
)

// JournalEntry is one remote write attempt.
type JournalEntry struct {
	OpID     uuid.UUID       `json:"opId"`
	Op       string          `json:"op"`
	Kind     records.Kind    `json:"kind"`
	RecordID *records.ID     `json:"recordId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
	At       time.Time       `json:"at"`
}

// Journal records write attempts. The PostgreSQL journal implements it.
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
}

// Change announces a successful write to peer instances.
type Change struct {
	Kind records.Kind
	Op   string
	ID   *records.ID
}

// Notifier publishes changes. The Redis broadcaster implements it.
type Notifier interface {
	Publish(ctx context.Context, c Change) error
}

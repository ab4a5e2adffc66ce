// Package crud orchestrates create, update and delete across all seven kinds.
//
// Every write follows the same pipeline: client-side validation, reference
// checks, one remote call, then a reload of the affected caches. Validation
// and reference failures never reach the network; a failed remote call leaves
// the cache untouched.
package crud

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
	"github.com/schooladmin/recordsync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE POLICY
// ══════════════════════════════════════════════════════════════════════════════

// UpdateMode is how edits of a kind reach the remote store.
type UpdateMode int

const (
	// FullReplace sends the whole record with PUT.
	FullReplace UpdateMode = iota
	// PartialPatch sends only changed fields with PATCH.
	PartialPatch
)

var updateModes = map[records.Kind]UpdateMode{
	records.Person: PartialPatch,
}

// ModeOf returns the update mode used for kind.
func ModeOf(kind records.Kind) UpdateMode {
	return updateModes[kind]
}

// ══════════════════════════════════════════════════════════════════════════════
// ORCHESTRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Result describes a completed write.
type Result struct {
	Op     string
	Kind   records.Kind
	ID     *records.ID
	Record records.Record // as echoed by the server, may be nil
	// Changed lists the patched fields of a partial update.
	Changed []string
	// NoChange is set when a partial update found nothing to send.
	NoChange bool
	// Message is the server's confirmation text for uploads.
	Message string
}

// Orchestrator is the generic CRUD pipeline.
type Orchestrator struct {
	remote   Remote
	cache    Cache
	refs     References
	journal  Journal
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records every remote write attempt.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithNotifier publishes successful writes to peers.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(remote Remote, cache Cache, refs References, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote: remote,
		cache:  cache,
		refs:   refs,
		logger: logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(logger.Component("crud"))
	return o
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE
// ══════════════════════════════════════════════════════════════════════════════

// CreateFrom builds a draft of kind from loosely typed values and creates it.
func (o *Orchestrator) CreateFrom(ctx context.Context, kind records.Kind, values map[string]any) (Result, error) {
	d, err := records.BuildDraft(kind, values)
	if err != nil {
		return Result{}, err
	}
	return o.Create(ctx, d)
}

// Create validates the draft, checks its references, submits it and reloads
// the kind. A student draft is routed through CreatePerson.
func (o *Orchestrator) Create(ctx context.Context, d records.Draft) (Result, error) {
	if d == nil {
		return Result{}, shared.Invalid("crud", "Create", "nothing to submit")
	}
	if pd, ok := d.(*records.PersonDraft); ok {
		return o.CreatePerson(ctx, pd)
	}
	if err := records.Validate(d); err != nil {
		return Result{}, err
	}
	if err := o.refs.Require(ctx, d.References()); err != nil {
		return Result{}, err
	}

	kind := d.Kind()
	rec, err := o.write(ctx, OpCreate, kind, nil, d, func(ctx context.Context) (records.Record, error) {
		return o.remote.Create(ctx, kind, d)
	}, kind)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpCreate, Kind: kind, ID: idOf(kind, rec), Record: rec}, nil
}

// CreatePerson creates a student. When the draft carries dependents the
// aggregate endpoint creates them in the same transaction; their course
// references are checked first and every included dependent kind is
// reloaded afterwards.
func (o *Orchestrator) CreatePerson(ctx context.Context, d *records.PersonDraft) (Result, error) {
	if d == nil {
		return Result{}, shared.Invalid("crud", "CreatePerson", "nothing to submit")
	}
	if err := records.Validate(d); err != nil {
		return Result{}, err
	}
	if err := o.refs.Require(ctx, d.References()); err != nil {
		return Result{}, err
	}

	op := OpCreate
	call := func(ctx context.Context) (records.Record, error) { return o.remote.Create(ctx, records.Person, d) }
	reload := []records.Kind{records.Person}
	if d.Aggregate() {
		op = OpCreateAggregate
		call = func(ctx context.Context) (records.Record, error) { return o.remote.CreateAggregate(ctx, d) }
		if len(d.Enrollments) > 0 {
			reload = append(reload, records.Enrollment)
		}
		if len(d.Addresses) > 0 {
			reload = append(reload, records.Address)
		}
		if len(d.Contacts) > 0 {
			reload = append(reload, records.Contact)
		}
	}

	rec, err := o.write(ctx, op, records.Person, nil, d, call, reload...)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: op, Kind: records.Person, ID: idOf(records.Person, rec), Record: rec}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE
// ══════════════════════════════════════════════════════════════════════════════

// Update applies edits to a cached record using the kind's update mode.
func (o *Orchestrator) Update(ctx context.Context, kind records.Kind, id records.ID, edits map[string]any) (Result, error) {
	if ModeOf(kind) == PartialPatch {
		return o.UpdatePartial(ctx, kind, id, edits)
	}
	return o.UpdateFull(ctx, kind, id, edits)
}

// UpdatePartial sends only the fields whose typed value differs from the
// cached record. An empty diff returns NoChange without any network call.
func (o *Orchestrator) UpdatePartial(ctx context.Context, kind records.Kind, id records.ID, edits map[string]any) (Result, error) {
	s, orig, err := o.cached(kind, id, "UpdatePartial")
	if err != nil {
		return Result{}, err
	}
	patch, err := records.Diff(s, orig, edits)
	if err != nil {
		return Result{}, err
	}
	if patch.Empty() {
		return Result{Op: OpUpdatePartial, Kind: kind, ID: &id, NoChange: true}, nil
	}
	if err := records.ValidatePatch(kind, patch); err != nil {
		return Result{}, err
	}
	if err := o.refs.Require(ctx, patchRefs(s, patch)); err != nil {
		return Result{}, err
	}

	rec, err := o.write(ctx, OpUpdatePartial, kind, &id, patch, func(ctx context.Context) (records.Record, error) {
		return o.remote.UpdatePartial(ctx, kind, id, patch)
	}, kind)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpUpdatePartial, Kind: kind, ID: &id, Record: rec, Changed: patch.Fields()}, nil
}

// UpdateFull sends the cached record with edits applied as a full
// replacement, validated like a create.
func (o *Orchestrator) UpdateFull(ctx context.Context, kind records.Kind, id records.ID, edits map[string]any) (Result, error) {
	_, orig, err := o.cached(kind, id, "UpdateFull")
	if err != nil {
		return Result{}, err
	}
	d, err := records.DraftFromRecord(kind, orig, edits)
	if err != nil {
		return Result{}, err
	}
	if pd, ok := d.(*records.PersonDraft); ok && pd.Aggregate() {
		return Result{}, shared.Invalid("crud", "UpdateFull", "dependent records cannot be replaced through a student update")
	}
	if err := records.Validate(d); err != nil {
		return Result{}, err
	}
	if err := o.refs.Require(ctx, d.References()); err != nil {
		return Result{}, err
	}

	rec, err := o.write(ctx, OpUpdateFull, kind, &id, d, func(ctx context.Context) (records.Record, error) {
		return o.remote.UpdateFull(ctx, kind, id, d)
	}, kind)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpUpdateFull, Kind: kind, ID: &id, Record: rec}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DELETE & UPLOAD
// ══════════════════════════════════════════════════════════════════════════════

// Delete removes a cached record after the confirmer agrees. The kind and
// every kind the server cascades the delete to are reloaded.
func (o *Orchestrator) Delete(ctx context.Context, kind records.Kind, id records.ID, confirm Confirmer) (Result, error) {
	s, _, err := o.cached(kind, id, "Delete")
	if err != nil {
		return Result{}, err
	}
	if confirm == nil || !confirm.Confirm(ctx, DeletePrompt(kind, id)) {
		return Result{}, shared.NewDomainError("crud", "Delete", shared.ErrCancelled, "delete cancelled")
	}

	reload := append([]records.Kind{kind}, s.Cascade...)
	_, err = o.write(ctx, OpDelete, kind, &id, nil, func(ctx context.Context) (records.Record, error) {
		return nil, o.remote.Delete(ctx, kind, id)
	}, reload...)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpDelete, Kind: kind, ID: &id}, nil
}

// DeletePrompt is the confirmation question for deleting a record.
func DeletePrompt(kind records.Kind, id records.ID) string {
	return "Are you sure you want to delete " + kind.Label() + " " + id.String() + "?"
}

// Upload hands a CSV file to the remote bulk import and reloads the kind when
// the import reports success.
func (o *Orchestrator) Upload(ctx context.Context, kind records.Kind, filename string, r io.Reader) (Result, error) {
	if !kind.Valid() {
		return Result{}, shared.WrapError("crud", "Upload", shared.ErrUnknownKind, "unknown kind "+string(kind), nil)
	}
	if r == nil || filename == "" {
		return Result{}, shared.Invalid("crud", "Upload", "please select a file to upload")
	}

	var msg string
	_, err := o.write(ctx, OpUpload, kind, nil, map[string]string{"file": filename}, func(ctx context.Context) (records.Record, error) {
		var err error
		msg, err = o.remote.UploadCSV(ctx, kind, filename, r)
		return nil, err
	}, kind)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpUpload, Kind: kind, Message: msg}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERNAL HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (o *Orchestrator) cached(kind records.Kind, id records.ID, op string) (records.Schema, records.Record, error) {
	s, ok := records.SchemaOf(kind)
	if !ok {
		return records.Schema{}, nil, shared.WrapError("crud", op, shared.ErrUnknownKind, "unknown kind "+string(kind), nil)
	}
	rec, ok := o.cache.Find(kind, id)
	if !ok {
		return s, nil, shared.NewDomainError("crud", op, shared.ErrNotFoundLocally,
			s.Label+" "+id.String()+" is no longer in the list; reload and try again")
	}
	return s, rec, nil
}

// write performs one remote call, journals it and, on success, reloads the
// given kinds and announces the change.
func (o *Orchestrator) write(
	ctx context.Context,
	op string,
	kind records.Kind,
	id *records.ID,
	payload any,
	call func(ctx context.Context) (records.Record, error),
	reload ...records.Kind,
) (records.Record, error) {
	opID := uuid.New()
	log := o.logger.With(logger.String("op_id", opID.String()), logger.Operation(op), logger.Kind(string(kind)))

	start := o.now()
	rec, err := call(ctx)
	elapsed := o.now().Sub(start)

	o.recordJournal(ctx, log, opID, op, kind, id, payload, elapsed, err)

	if err != nil {
		log.Info("remote write rejected", logger.Err(err))
		return nil, err
	}
	log.Info("remote write succeeded", logger.Latency(elapsed))

	for _, k := range reload {
		if _, lerr := o.cache.Load(ctx, k); lerr != nil {
			log.Warn("reload after write failed", logger.Kind(string(k)), logger.Err(lerr))
		}
		o.announce(ctx, log, Change{Kind: k, Op: op, ID: id})
	}
	return rec, nil
}

func (o *Orchestrator) recordJournal(ctx context.Context, log *logger.Logger, opID uuid.UUID, op string, kind records.Kind, id *records.ID, payload any, d time.Duration, err error) {
	if o.journal == nil {
		return
	}
	e := JournalEntry{
		OpID:     opID,
		Op:       op,
		Kind:     kind,
		RecordID: id,
		Success:  err == nil,
		Duration: d,
		At:       o.now().UTC(),
	}
	if payload != nil {
		if data, merr := json.Marshal(payload); merr == nil {
			e.Payload = data
		}
	}
	if err != nil {
		e.Error = err.Error()
	}
	if jerr := o.journal.Record(ctx, e); jerr != nil {
		log.Warn("journal write failed", logger.Err(jerr))
	}
}

func (o *Orchestrator) announce(ctx context.Context, log *logger.Logger, c Change) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Publish(ctx, c); err != nil {
		log.Warn("change broadcast failed", logger.Kind(string(c.Kind)), logger.Err(err))
	}
}

// patchRefs returns the references named by changed reference fields.
func patchRefs(s records.Schema, p records.Patch) []records.Ref {
	var refs []records.Ref
	for _, name := range p.Fields() {
		f, ok := s.Field(name)
		if !ok || f.Type != records.FieldReference {
			continue
		}
		if id, ok := p[name].(records.ID); ok {
			refs = append(refs, records.Ref{Field: name, Kind: f.Ref, ID: id})
		}
	}
	return refs
}

func idOf(kind records.Kind, rec records.Record) *records.ID {
	if rec == nil {
		return nil
	}
	if id, ok := rec.ID(kind); ok {
		return &id
	}
	return nil
}

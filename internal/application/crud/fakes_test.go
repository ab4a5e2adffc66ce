package crud

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schooladmin/recordsync/internal/application/cache"
	"github.com/schooladmin/recordsync/internal/application/refindex"
	"github.com/schooladmin/recordsync/internal/domain/records"
)

// memoryRemote is an in-memory records API that counts every call.
type memoryRemote struct {
	mu     sync.Mutex
	data   map[records.Kind][]records.Record
	nextID int64
	calls  map[string]int
	lists  map[records.Kind]int
	bodies []any
	fail   error

	// cascade runs inside Delete with the lock held.
	cascade func(kind records.Kind, id records.ID)
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{
		data:   map[records.Kind][]records.Record{},
		nextID: 100,
		calls:  map[string]int{},
		lists:  map[records.Kind]int{},
	}
}

func (m *memoryRemote) seed(kind records.Kind, recs ...records.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[kind] = append(m.data[kind], recs...)
}

func (m *memoryRemote) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memoryRemote) listCount(kind records.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists[kind]
}

func (m *memoryRemote) lastBody() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[len(m.bodies)-1]
}

func (m *memoryRemote) List(_ context.Context, kind records.Kind) ([]records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[kind]++
	return records.CloneAll(m.data[kind]), nil
}

func (m *memoryRemote) store(kind records.Kind, payload any) records.Record {
	data, _ := json.Marshal(payload)
	rec, _ := records.DecodeRecord(data)
	m.nextID++
	rec[records.MustSchema(kind).IDField] = m.nextID
	m.data[kind] = append(m.data[kind], rec)
	return rec
}

func (m *memoryRemote) begin(op string, body any) error {
	m.calls[op]++
	m.bodies = append(m.bodies, body)
	return m.fail
}

func (m *memoryRemote) Create(_ context.Context, kind records.Kind, payload any) (records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpCreate, payload); err != nil {
		return nil, err
	}
	return m.store(kind, payload), nil
}

func (m *memoryRemote) CreateAggregate(_ context.Context, d *records.PersonDraft) (records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpCreateAggregate, d); err != nil {
		return nil, err
	}
	person := *d
	person.Addresses, person.Contacts, person.Enrollments = nil, nil, nil
	rec := m.store(records.Person, person)
	for _, e := range d.Enrollments {
		er := m.store(records.Enrollment, e)
		er["studentNumber"] = rec["studentNumber"]
	}
	return rec, nil
}

func (m *memoryRemote) UpdatePartial(_ context.Context, kind records.Kind, id records.ID, patch records.Patch) (records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpUpdatePartial, patch); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *memoryRemote) UpdateFull(_ context.Context, kind records.Kind, id records.ID, payload any) (records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpUpdateFull, payload); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *memoryRemote) Delete(_ context.Context, kind records.Kind, id records.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpDelete, nil); err != nil {
		return err
	}
	kept := m.data[kind][:0]
	for _, r := range m.data[kind] {
		if rid, ok := r.ID(kind); !ok || rid != id {
			kept = append(kept, r)
		}
	}
	m.data[kind] = kept
	if m.cascade != nil {
		m.cascade(kind, id)
	}
	return nil
}

// dropReferencing removes rows of kind whose field references id. The caller
// holds the lock.
func (m *memoryRemote) dropReferencing(kind records.Kind, field string, id records.ID) {
	ref, _ := records.MustSchema(kind).Reference(field)
	kept := m.data[kind][:0]
	for _, r := range m.data[kind] {
		if rid, ok := r.Reference(ref); !ok || rid != id {
			kept = append(kept, r)
		}
	}
	m.data[kind] = kept
}

func (m *memoryRemote) UploadCSV(_ context.Context, kind records.Kind, filename string, r io.Reader) (string, error) {
	data, _ := io.ReadAll(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpUpload, string(data)); err != nil {
		return "", err
	}
	return "Imported " + filename, nil
}

type memoryJournal struct {
	entries []JournalEntry
}

func (j *memoryJournal) Record(_ context.Context, e JournalEntry) error {
	j.entries = append(j.entries, e)
	return nil
}

type memoryNotifier struct {
	changes []Change
}

func (n *memoryNotifier) Publish(_ context.Context, c Change) error {
	n.changes = append(n.changes, c)
	return nil
}

type fixture struct {
	remote   *memoryRemote
	cache    *cache.EntityCache
	index    *refindex.Index
	orch     *Orchestrator
	journal  *memoryJournal
	notifier *memoryNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{remote: newMemoryRemote(), journal: &memoryJournal{}, notifier: &memoryNotifier{}}
	f.cache = cache.New(f.remote)
	f.index = refindex.New(f.cache)
	f.orch = New(f.remote, f.cache, f.index, WithJournal(f.journal), WithNotifier(f.notifier))
	return f
}

// load seeds the remote and loads the kind into the cache.
func (f *fixture) load(t *testing.T, kind records.Kind, recs ...records.Record) {
	t.Helper()
	f.remote.seed(kind, recs...)
	_, err := f.cache.Load(context.Background(), kind)
	require.NoError(t, err)
}

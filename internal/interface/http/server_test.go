package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/schooladmin/recordsync/config"
	"github.com/schooladmin/recordsync/internal/application/crud"
	"github.com/schooladmin/recordsync/internal/application/query"
	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
	"github.com/schooladmin/recordsync/internal/interface/http/handlers"
	"github.com/schooladmin/recordsync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type call struct {
	op     string
	kind   records.Kind
	id     records.ID
	values map[string]any
	file   string
	body   string
}

type fakeWriter struct {
	calls []call
	err   error
	res   crud.Result
}

func (f *fakeWriter) CreateFrom(_ context.Context, kind records.Kind, values map[string]any) (crud.Result, error) {
	f.calls = append(f.calls, call{op: "create", kind: kind, values: values})
	return f.res, f.err
}

func (f *fakeWriter) Update(_ context.Context, kind records.Kind, id records.ID, edits map[string]any) (crud.Result, error) {
	f.calls = append(f.calls, call{op: "update", kind: kind, id: id, values: edits})
	return f.res, f.err
}

func (f *fakeWriter) UpdateFull(_ context.Context, kind records.Kind, id records.ID, edits map[string]any) (crud.Result, error) {
	f.calls = append(f.calls, call{op: "replace", kind: kind, id: id, values: edits})
	return f.res, f.err
}

func (f *fakeWriter) Delete(ctx context.Context, kind records.Kind, id records.ID, confirm crud.Confirmer) (crud.Result, error) {
	if !confirm.Confirm(ctx, crud.DeletePrompt(kind, id)) {
		return crud.Result{}, shared.NewDomainError("crud", "Delete", shared.ErrCancelled, "delete cancelled")
	}
	f.calls = append(f.calls, call{op: "delete", kind: kind, id: id})
	return crud.Result{Op: crud.OpDelete, Kind: kind, ID: &id}, f.err
}

func (f *fakeWriter) Upload(_ context.Context, kind records.Kind, filename string, r io.Reader) (crud.Result, error) {
	data, _ := io.ReadAll(r)
	f.calls = append(f.calls, call{op: "upload", kind: kind, file: filename, body: string(data)})
	return crud.Result{Op: crud.OpUpload, Kind: kind, Message: "Imported " + filename}, f.err
}

type fakeSearcher struct {
	last query.SearchQuery
	err  error
}

func (f *fakeSearcher) Handle(_ context.Context, q query.SearchQuery) (*query.SearchResult, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return &query.SearchResult{Kind: q.Kind, Query: q.Text, Records: []records.Record{{"courseNumber": float64(10)}}, Total: 1, Message: "Showing all courses"}, nil
}

type fakeReloader struct{ kinds []records.Kind }

func (f *fakeReloader) Load(_ context.Context, kind records.Kind) ([]records.Record, error) {
	f.kinds = append(f.kinds, kind)
	return []records.Record{{"id": float64(1)}, {"id": float64(2)}}, nil
}

type fakeJournal struct {
	kind  records.Kind
	limit int
}

func (f *fakeJournal) Recent(_ context.Context, kind records.Kind, limit int) ([]crud.JournalEntry, error) {
	f.kind, f.limit = kind, limit
	return []crud.JournalEntry{{Op: crud.OpCreate, Kind: records.Course, Success: true}}, nil
}

type cachedOnly map[records.ID]records.Record

func (c cachedOnly) Find(_ records.Kind, id records.ID) (records.Record, bool) {
	r, ok := c[id]
	return r, ok
}

func (c cachedOnly) Load(context.Context, records.Kind) ([]records.Record, error) { return nil, nil }

type harness struct {
	writer   *fakeWriter
	searcher *fakeSearcher
	reloader *fakeReloader
	journal  *fakeJournal
	features *config.FeatureFlags
	logs     *observer.ObservedLogs
	handler  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		writer:   &fakeWriter{},
		searcher: &fakeSearcher{},
		reloader: &fakeReloader{},
		journal:  &fakeJournal{},
		features: config.NewFeatureFlags(nil),
	}
	editor := crud.NewRowEditor(h.writer, cachedOnly{5: {"studentNumber": float64(5)}})
	health := handlers.NewHealthChecker("test")
	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs

	srv := NewServer(Config{MaxUploadBytes: 1 << 10}, Dependencies{
		Writer:   h.writer,
		Searcher: h.searcher,
		Reloader: h.reloader,
		Editor:   editor,
		Journal:  h.journal,
		Features: h.features,
		Health:   health,
		Logger:   logger.FromZap(zap.New(core)),
	})
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, writeResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var resp writeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSearch(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/sections/courses?q=Physics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, query.SearchQuery{Kind: records.Course, Text: "Physics", AutoLoad: true}, h.searcher.last)

	var res query.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Total)
}

func TestSearch_AutoLoadFollowsFeatureFlag(t *testing.T) {
	h := newHarness(t)
	h.features.Set(config.FeatureAutoLoad, false)

	h.do(t, http.MethodGet, "/sections/grades", "")

	assert.False(t, h.searcher.last.AutoLoad)
}

func TestSearch_NetworkFailure(t *testing.T) {
	h := newHarness(t)
	h.searcher.err = shared.WrapError("restapi", "GET", shared.ErrNetwork, "Failed to fetch", nil)

	rec, resp := h.do(t, http.MethodGet, "/sections/courses", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, crud.Status{Level: crud.LevelError, Text: "Network error: Failed to fetch"}, resp.Status)
}

func TestFailureIsLoggedWithRequestID(t *testing.T) {
	h := newHarness(t)
	h.searcher.err = shared.WrapError("restapi", "GET", shared.ErrNetwork, "Failed to fetch", nil)

	h.do(t, http.MethodGet, "/sections/courses", "")

	failed := h.logs.FilterMessage("request failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.NotEmpty(t, fields[logger.RequestIDKey])
	assert.Equal(t, "courses", fields["kind"])

	done := h.logs.FilterMessage("http request").All()
	require.Len(t, done, 1)
	assert.Equal(t, fields[logger.RequestIDKey], done[0].ContextMap()[logger.RequestIDKey])
}

func TestUnknownSection(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodGet, "/sections/librarians", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Unknown section librarians", resp.Status.Text)
}

func TestReload(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/sections/enrollments/reload", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []records.Kind{records.Enrollment}, h.reloader.kinds)
	assert.Contains(t, rec.Body.String(), "Loaded 2 Enrollment records")
}

func TestCreate(t *testing.T) {
	h := newHarness(t)
	id := records.ID(11)
	h.writer.res = crud.Result{Op: crud.OpCreate, Kind: records.Course, ID: &id}

	rec, resp := h.do(t, http.MethodPost, "/sections/courses", `{"courseName":"Physics","courseCode":"PHY1","courseCredits":"3"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Course created successfully", resp.Status.Text)
	require.NotNil(t, resp.ID)
	assert.Equal(t, id, *resp.ID)
	require.Len(t, h.writer.calls, 1)
	assert.Equal(t, "Physics", h.writer.calls[0].values["courseName"])
}

func TestCreate_ValidationError(t *testing.T) {
	h := newHarness(t)
	h.writer.err = shared.Invalid("records", "Validate", "Course 99 does not exist (courseNumber)")

	rec, resp := h.do(t, http.MethodPost, "/sections/enrollments", `{"courseNumber":99}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, crud.Status{Level: crud.LevelError, Text: "Course 99 does not exist (courseNumber)"}, resp.Status)
}

func TestCreate_MalformedBody(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/sections/courses", `[1,2]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.writer.calls)
}

func TestCreate_AggregateDisabled(t *testing.T) {
	h := newHarness(t)
	h.features.Set(config.FeatureAggregateCreate, false)

	rec, resp := h.do(t, http.MethodPost, "/sections/students", `{"firstName":"Ana","contacts":[{"emailAddress":"a@b.c"}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Status.Text, "disabled")
	assert.Empty(t, h.writer.calls)
}

func TestCreate_ServerRejection(t *testing.T) {
	h := newHarness(t)
	h.writer.err = shared.NewDomainError("restapi", "POST", shared.ErrServerValidation, "Course code already exists")

	rec, resp := h.do(t, http.MethodPost, "/sections/courses", `{"courseName":"Physics"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Course code already exists", resp.Status.Text)
}

func TestUpdate_UsesKindPolicy(t *testing.T) {
	h := newHarness(t)
	h.writer.res = crud.Result{Op: crud.OpUpdatePartial, Kind: records.Person, Changed: []string{"lastName"}}

	rec, resp := h.do(t, http.MethodPatch, "/sections/students/5", `{"lastName":"Ortiz"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Student updated successfully", resp.Status.Text)
	assert.Equal(t, []string{"lastName"}, resp.Changed)
	assert.Equal(t, call{op: "update", kind: records.Person, id: 5, values: map[string]any{"lastName": "Ortiz"}}, h.writer.calls[0])
}

func TestUpdate_NoChange(t *testing.T) {
	h := newHarness(t)
	h.writer.res = crud.Result{Op: crud.OpUpdatePartial, Kind: records.Person, NoChange: true}

	_, resp := h.do(t, http.MethodPatch, "/sections/students/5", `{"lastName":"Ortiz"}`)

	assert.Equal(t, crud.Status{Level: crud.LevelInfo, Text: "No changes to save"}, resp.Status)
}

func TestReplace(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPut, "/sections/courses/10", `{"courseName":"Algebra"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "replace", h.writer.calls[0].op)
	assert.Equal(t, records.ID(10), h.writer.calls[0].id)
}

func TestUpdate_BadID(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPatch, "/sections/students/abc", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.writer.calls)
}

func TestUpdate_NotInCache(t *testing.T) {
	h := newHarness(t)
	h.writer.err = shared.NewDomainError("crud", "Update", shared.ErrNotFoundLocally, "Student 9 is no longer in the list")

	rec, _ := h.do(t, http.MethodPatch, "/sections/students/9", `{"lastName":"X"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodDelete, "/sections/grades/7", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Are you sure you want to delete Grade 7?", resp.Prompt)
	assert.Equal(t, crud.LevelInfo, resp.Status.Level)
	assert.Empty(t, h.writer.calls)
}

func TestDelete_Confirmed(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodDelete, "/sections/grades/7?confirm=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Grade deleted successfully", resp.Status.Text)
	assert.Equal(t, call{op: "delete", kind: records.Assessment, id: 7}, h.writer.calls[0])
}

func uploadRequest(t *testing.T, target, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()

	h.handler.ServeHTTP(rec, uploadRequest(t, "/sections/courses/upload", "courses.csv", "name,code\nPhysics,PHY1\n"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Imported courses.csv")
	assert.Equal(t, "name,code\nPhysics,PHY1\n", h.writer.calls[0].body)
}

func TestUpload_TooLarge(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()

	h.handler.ServeHTTP(rec, uploadRequest(t, "/sections/courses/upload", "big.csv", strings.Repeat("x", 4<<10)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, h.writer.calls)
}

func TestUpload_Disabled(t *testing.T) {
	h := newHarness(t)
	h.features.Set(config.FeatureCSVUpload, false)
	rec := httptest.NewRecorder()

	h.handler.ServeHTTP(rec, uploadRequest(t, "/sections/courses/upload", "courses.csv", "a"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRowEditing(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(t, http.MethodPost, "/sections/students/5/edit", "")
	assert.Equal(t, "editing", resp.State)

	rec, _ := h.do(t, http.MethodPost, "/sections/students/5/edit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a row cannot be opened twice")

	_, resp = h.do(t, http.MethodPut, "/sections/students/5/edit", `{"lastName":"Ortiz"}`)
	assert.Equal(t, "editing", resp.State)

	rec, resp = h.do(t, http.MethodPost, "/sections/students/5/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Student updated successfully", resp.Status.Text)
	assert.Equal(t, map[string]any{"lastName": "Ortiz"}, h.writer.calls[0].values)

	_, resp = h.do(t, http.MethodGet, "/sections/students/5/edit", "")
	assert.Equal(t, "viewing", resp.State)
}

func TestRowEditing_Cancel(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/sections/students/5/edit", "")
	_, resp := h.do(t, http.MethodDelete, "/sections/students/5/edit", "")
	assert.Equal(t, "viewing", resp.State)

	rec, _ := h.do(t, http.MethodPost, "/sections/students/5/save", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.writer.calls)
}

func TestRowEditing_NotCached(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/sections/students/6/edit", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJournal(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/journal?kind=courses&limit=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, records.Course, h.journal.kind)
	assert.Equal(t, 5, h.journal.limit)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "create", entries[0]["op"])
	assert.Equal(t, "courses", entries[0]["kind"])
	assert.Contains(t, entries[0], "opId")
	assert.NotContains(t, entries[0], "OpID")

	rec, _ = h.do(t, http.MethodGet, "/journal?kind=librarians", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusCode(errors.New("boom")))
	assert.Equal(t, http.StatusGatewayTimeout, statusCode(context.DeadlineExceeded))
	assert.Equal(t, http.StatusNotFound, statusCode(shared.WrapError("query", "Search", shared.ErrUnknownKind, "unknown", nil)))
}

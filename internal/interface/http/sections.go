package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/schooladmin/recordsync/config"
	"github.com/schooladmin/recordsync/internal/application/crud"
	"github.com/schooladmin/recordsync/internal/application/query"
	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
	"github.com/schooladmin/recordsync/pkg/logger"
)

// writeResponse is the body of every write endpoint.
type writeResponse struct {
	Status  crud.Status    `json:"status"`
	ID      *records.ID    `json:"id,omitempty"`
	Record  records.Record `json:"record,omitempty"`
	Changed []string       `json:"changed,omitempty"`
	Prompt  string         `json:"prompt,omitempty"`
	State   string         `json:"state,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PATH PARAMETERS
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey int

const (
	kindKey ctxKey = iota
	idKey
)

func kindContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind := records.Kind(chi.URLParam(r, "kind"))
		if !kind.Valid() {
			writeStatus(w, http.StatusNotFound, crud.Status{Level: crud.LevelError, Text: "Unknown section " + string(kind)})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), kindKey, kind)))
	})
}

func idContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := records.ParseID(chi.URLParam(r, "id"))
		if err != nil {
			writeStatus(w, http.StatusBadRequest, crud.Status{Level: crud.LevelError, Text: shared.UserMessage(err)})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), idKey, id)))
	})
}

func kindOf(r *http.Request) records.Kind { return r.Context().Value(kindKey).(records.Kind) }
func idOf(r *http.Request) records.ID     { return r.Context().Value(idKey).(records.ID) }

// ══════════════════════════════════════════════════════════════════════════════
// READ
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Searcher.Handle(r.Context(), query.SearchQuery{
		Kind:     kindOf(r),
		Text:     r.URL.Query().Get("q"),
		AutoLoad: s.deps.Features.IsEnabled(config.FeatureAutoLoad),
	})
	if err != nil {
		s.fail(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	kind := kindOf(r)
	recs, err := s.deps.Reloader.Load(r.Context(), kind)
	if err != nil {
		s.fail(w, r, "reload", err)
		return
	}
	writeJSON(w, http.StatusOK, query.SearchResult{
		Kind:    kind,
		Records: recs,
		Total:   len(recs),
		Message: "Loaded " + strconv.Itoa(len(recs)) + " " + kind.Label() + " records",
	})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	kind := records.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeStatus(w, http.StatusBadRequest, crud.Status{Level: crud.LevelError, Text: "Unknown section " + string(kind)})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.deps.Journal.Recent(r.Context(), kind, limit)
	if err != nil {
		s.fail(w, r, "journal", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind := kindOf(r)
	values, ok := s.decodeValues(w, r, crud.OpCreate)
	if !ok {
		return
	}

	op := crud.OpCreate
	if kind == records.Person && hasDependents(values) {
		if !s.deps.Features.IsEnabled(config.FeatureAggregateCreate) {
			s.fail(w, r, op, shared.Invalid("http", "Create", "Creating related records together with a student is disabled"))
			return
		}
		op = crud.OpCreateAggregate
	}

	res, err := s.deps.Writer.CreateFrom(r.Context(), kind, values)
	s.respond(w, r, http.StatusCreated, op, kind, res, err)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind := kindOf(r)
	values, ok := s.decodeValues(w, r, crud.OpUpdatePartial)
	if !ok {
		return
	}
	op := crud.OpUpdateFull
	if crud.ModeOf(kind) == crud.PartialPatch {
		op = crud.OpUpdatePartial
	}
	res, err := s.deps.Writer.Update(r.Context(), kind, idOf(r), values)
	s.respond(w, r, http.StatusOK, op, kind, res, err)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	kind := kindOf(r)
	values, ok := s.decodeValues(w, r, crud.OpUpdateFull)
	if !ok {
		return
	}
	res, err := s.deps.Writer.UpdateFull(r.Context(), kind, idOf(r), values)
	s.respond(w, r, http.StatusOK, crud.OpUpdateFull, kind, res, err)
}

// handleDelete only proceeds with ?confirm=true; otherwise it answers with
// the confirmation prompt and makes no remote call.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, id := kindOf(r), idOf(r)
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	confirm := crud.ConfirmFunc(func(context.Context, string) bool { return confirmed })

	res, err := s.deps.Writer.Delete(r.Context(), kind, id, confirm)
	if errors.Is(err, shared.ErrCancelled) {
		writeJSON(w, http.StatusConflict, writeResponse{
			Status: crud.StatusMessage(crud.OpDelete, kind, res, err),
			Prompt: crud.DeletePrompt(kind, id),
		})
		return
	}
	s.respond(w, r, http.StatusOK, crud.OpDelete, kind, res, err)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	kind := kindOf(r)
	if !s.deps.Features.IsEnabled(config.FeatureCSVUpload) {
		writeStatus(w, http.StatusNotFound, crud.Status{Level: crud.LevelError, Text: "CSV upload is disabled"})
		return
	}

	if r.ContentLength > s.config.MaxUploadBytes {
		writeStatus(w, http.StatusRequestEntityTooLarge, crud.Status{Level: crud.LevelError, Text: "File is too large"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeStatus(w, http.StatusRequestEntityTooLarge, crud.Status{Level: crud.LevelError, Text: "File is too large"})
			return
		}
		s.fail(w, r, crud.OpUpload, shared.Invalid("http", "Upload", "please select a file to upload"))
		return
	}
	defer file.Close()

	res, err := s.deps.Writer.Upload(r.Context(), kind, header.Filename, file)
	s.respond(w, r, http.StatusOK, crud.OpUpload, kind, res, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW EDITING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) editState(w http.ResponseWriter, r *http.Request, status int) {
	writeJSON(w, status, writeResponse{
		Status: crud.Status{Level: crud.LevelInfo, Text: kindOf(r).Label() + " " + idOf(r).String()},
		State:  s.deps.Editor.State(kindOf(r), idOf(r)).String(),
	})
}

func (s *Server) handleEditState(w http.ResponseWriter, r *http.Request) {
	s.editState(w, r, http.StatusOK)
}

func (s *Server) handleEditBegin(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Editor.Begin(kindOf(r), idOf(r)); err != nil {
		s.fail(w, r, "edit", err)
		return
	}
	s.editState(w, r, http.StatusOK)
}

func (s *Server) handleEditSet(w http.ResponseWriter, r *http.Request) {
	kind, id := kindOf(r), idOf(r)
	values, ok := s.decodeValues(w, r, "edit")
	if !ok {
		return
	}
	for field, v := range values {
		if err := s.deps.Editor.Set(kind, id, field, v); err != nil {
			s.fail(w, r, "edit", err)
			return
		}
	}
	s.editState(w, r, http.StatusOK)
}

func (s *Server) handleEditCancel(w http.ResponseWriter, r *http.Request) {
	s.deps.Editor.Cancel(kindOf(r), idOf(r))
	s.editState(w, r, http.StatusOK)
}

func (s *Server) handleEditSave(w http.ResponseWriter, r *http.Request) {
	kind := kindOf(r)
	op := crud.OpUpdateFull
	if crud.ModeOf(kind) == crud.PartialPatch {
		op = crud.OpUpdatePartial
	}
	res, err := s.deps.Editor.Save(r.Context(), kind, idOf(r))
	s.respond(w, r, http.StatusOK, op, kind, res, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) decodeValues(w http.ResponseWriter, r *http.Request, op string) (map[string]any, bool) {
	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil || values == nil {
		s.fail(w, r, op, shared.Invalid("http", "Decode", "request body must be a JSON object"))
		return nil, false
	}
	return values, true
}

func hasDependents(values map[string]any) bool {
	for _, key := range []string{"addresses", "contacts", "enrollments"} {
		if list, ok := values[key].([]any); ok && len(list) > 0 {
			return true
		}
	}
	return false
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, okStatus int, op string, kind records.Kind, res crud.Result, err error) {
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	if res.Op != "" {
		op = res.Op
	}
	writeJSON(w, okStatus, writeResponse{
		Status:  crud.StatusMessage(op, kind, res, nil),
		ID:      res.ID,
		Record:  res.Record,
		Changed: res.Changed,
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind, _ := r.Context().Value(kindKey).(records.Kind)
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Warn("request failed",
			logger.Operation(op),
			logger.Kind(string(kind)),
			logger.Err(err),
		)
	}
	writeStatus(w, code, crud.StatusMessage(op, kind, crud.Result{}, err))
}

// statusCode maps error categories to HTTP statuses.
func statusCode(err error) int {
	switch {
	case errors.Is(err, shared.ErrUnknownKind):
		return http.StatusNotFound
	case shared.IsNotFoundLocally(err):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrCancelled):
		return http.StatusConflict
	case shared.IsClientValidation(err):
		return http.StatusBadRequest
	case shared.IsServerValidation(err):
		return http.StatusUnprocessableEntity
	case shared.IsNetwork(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

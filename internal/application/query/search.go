// Package query contains read operations over the entity cache.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEARCH QUERY
// Client-side filtering of one section. Every predicate works on the cached
// snapshot only; searching never touches the network beyond the optional
// first load of an empty section.
// ══════════════════════════════════════════════════════════════════════════════

// SearchQuery holds the parameters of a section search.
type SearchQuery struct {
	Kind records.Kind
	Text string

	// AutoLoad loads the kind first when it has never been loaded.
	AutoLoad bool
}

// Validate checks the query.
func (q *SearchQuery) Validate() error {
	if !q.Kind.Valid() {
		return shared.WrapError("query", "Search", shared.ErrUnknownKind, "unknown kind "+string(q.Kind), nil)
	}
	return nil
}

// SearchResult is the filtered section.
type SearchResult struct {
	Kind    records.Kind     `json:"kind"`
	Query   string           `json:"query"`
	Records []records.Record `json:"records"`
	Total   int              `json:"total"`
	Message string           `json:"message"`
}

// Snapshots is the read side of the entity cache.
type Snapshots interface {
	Snapshot(kind records.Kind) []records.Record
	LoadIfEmpty(ctx context.Context, kind records.Kind) ([]records.Record, error)
}

// SearchHandler handles section searches.
type SearchHandler struct {
	source Snapshots
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(source Snapshots) *SearchHandler {
	return &SearchHandler{source: source}
}

// Handle filters the cached section. A failed auto-load is returned; the
// section is then empty.
func (h *SearchHandler) Handle(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.AutoLoad {
		if _, err := h.source.LoadIfEmpty(ctx, q.Kind); err != nil {
			return nil, err
		}
	}

	all := h.source.Snapshot(q.Kind)
	text := normalizeQuery(q.Text)
	matched := Filter(q.Kind, text, h.source.Snapshot)

	res := &SearchResult{Kind: q.Kind, Query: text, Records: matched, Total: len(all)}
	plural := pluralLabel(q.Kind)
	if text == "" {
		res.Message = "Showing all " + plural
	} else {
		res.Message = fmt.Sprintf("Found %d %s for %q", len(matched), plural, text)
	}
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTER
// ══════════════════════════════════════════════════════════════════════════════

// Filter returns the records of kind matching query. The query is trimmed
// and lower-cased; an empty query returns the whole snapshot. Related
// students, courses and enrollments are taken from the embedded objects or,
// for flat identifiers, resolved through snapshot. Filter never mutates its
// input and is idempotent.
func Filter(kind records.Kind, query string, snapshot func(records.Kind) []records.Record) []records.Record {
	all := snapshot(kind)
	q := normalizeQuery(query)
	if q == "" {
		return all
	}
	match, ok := predicates[kind]
	if !ok {
		return []records.Record{}
	}

	rs := &resolver{snapshot: snapshot, byID: map[records.Kind]map[records.ID]records.Record{}}
	out := make([]records.Record, 0, len(all))
	for _, r := range all {
		if match(rs, r, q) {
			out = append(out, r)
		}
	}
	return out
}

type predicate func(rs *resolver, r records.Record, q string) bool

var predicates = map[records.Kind]predicate{
	records.Person: func(_ *resolver, r records.Record, q string) bool {
		return contains(r, q, "firstName", "lastName", "dateOfBirth") ||
			equalsDisplay(records.GenderCodes, r["gender"], q) ||
			equalsDisplay(records.StatusCodes, r["studentStatus"], q)
	},
	records.Course: func(_ *resolver, r records.Record, q string) bool {
		return contains(r, q, "courseName", "courseCode")
	},
	records.Enrollment: func(rs *resolver, r records.Record, q string) bool {
		return nameContains(rs.student(records.Enrollment, r), q) ||
			contains(rs.related(records.Enrollment, r, records.Course), q, "courseName") ||
			contains(r, q, "semester")
	},
	records.Assessment: func(rs *resolver, r records.Record, q string) bool {
		enrollmentNo := ""
		if ref, ok := records.MustSchema(records.Assessment).Reference("enrollmentNumber"); ok {
			if id, ok := r.Reference(ref); ok {
				enrollmentNo = id.String()
			}
		}
		return nameContains(rs.student(records.Assessment, r), q) ||
			(enrollmentNo != "" && strings.Contains(enrollmentNo, q)) ||
			contains(r, q, "assessmentType", "gradeCode")
	},
	records.Attendance: func(rs *resolver, r records.Record, q string) bool {
		return nameContains(rs.student(records.Attendance, r), q) ||
			contains(r, q, "attendanceDate", "semester") ||
			equalsDisplay(records.AttendanceCodes, r["attendanceStatus"], q)
	},
	records.Address: func(rs *resolver, r records.Record, q string) bool {
		return nameContains(rs.student(records.Address, r), q) ||
			contains(r, q, "street", "city", "state", "zipCode")
	},
	records.Contact: func(rs *resolver, r records.Record, q string) bool {
		return nameContains(rs.student(records.Contact, r), q) ||
			contains(r, q, "emailAddress", "mobileNumber")
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// RELATED RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// resolver finds related records, indexing each snapshot at most once per
// Filter call.
type resolver struct {
	snapshot func(records.Kind) []records.Record
	byID     map[records.Kind]map[records.ID]records.Record
}

func (rs *resolver) lookup(kind records.Kind, id records.ID) records.Record {
	idx, ok := rs.byID[kind]
	if !ok {
		idx = make(map[records.ID]records.Record)
		for _, r := range rs.snapshot(kind) {
			if rid, ok := r.ID(kind); ok {
				idx[rid] = r
			}
		}
		rs.byID[kind] = idx
	}
	return idx[id]
}

// related returns the record of target referenced by r, or nil.
func (rs *resolver) related(from records.Kind, r records.Record, target records.Kind) records.Record {
	if r == nil {
		return nil
	}
	s, ok := records.SchemaOf(from)
	if !ok {
		return nil
	}
	for _, ref := range s.References {
		if ref.Kind != target {
			continue
		}
		// An embedded object with more than its identifier is used as is.
		if nested := r.Nested(ref.Embedded); len(nested) > 1 {
			return nested
		}
		if id, ok := r.Reference(ref); ok {
			return rs.lookup(target, id)
		}
	}
	return nil
}

// student returns the student a record belongs to, directly or through its
// enrollment.
func (rs *resolver) student(from records.Kind, r records.Record) records.Record {
	if p := rs.related(from, r, records.Person); p != nil {
		return p
	}
	return rs.related(records.Enrollment, rs.related(from, r, records.Enrollment), records.Person)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func contains(r records.Record, q string, fields ...string) bool {
	if r == nil {
		return false
	}
	for _, f := range fields {
		if v := r.Text(f); v != "" && strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func nameContains(person records.Record, q string) bool {
	return contains(person, q, "firstName", "lastName")
}

func equalsDisplay(c *records.CodeSet, v any, q string) bool {
	d := c.Display(v)
	return d != "" && strings.ToLower(d) == q
}

var plurals = map[records.Kind]string{
	records.Person:     "students",
	records.Course:     "courses",
	records.Enrollment: "enrollments",
	records.Assessment: "grades",
	records.Attendance: "attendance records",
	records.Address:    "addresses",
	records.Contact:    "contacts",
}

func pluralLabel(kind records.Kind) string {
	if p, ok := plurals[kind]; ok {
		return p
	}
	return string(kind)
}

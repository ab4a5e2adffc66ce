package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// ID is a kind-scoped identifier assigned by the remote store.
type ID int64

// String implements fmt.Stringer.
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseID parses a user-supplied identifier. An empty or non-numeric string is
// a client validation error; zero is a valid identifier.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, shared.Invalid("records", "ParseID", "missing identifier")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, shared.Invalid("records", "ParseID", "invalid identifier %q", s)
	}
	return ID(n), nil
}

// idFrom normalizes an identifier value that may be a JSON number, a Go
// integer or a digit string.
func idFrom(v any) (ID, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return ID(n), true
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return ID(int64(x)), true
	case int:
		return ID(x), true
	case int64:
		return ID(x), true
	case ID:
		return x, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return ID(n), true
	}
	return 0, false
}

// Record is one remote entity as a decoded JSON object. Numbers are kept as
// json.Number so integer identifiers never lose precision.
type Record map[string]any

// ID returns the record identifier, resolved through the kind's identifier
// field. A zero identifier is returned as present.
func (r Record) ID(k Kind) (ID, bool) {
	s, ok := schemas[k]
	if !ok {
		return 0, false
	}
	return idFrom(r[s.IDField])
}

// Text renders an attribute as plain text (empty when absent).
func (r Record) Text(field string) string {
	return jsonText(r[field])
}

// Nested returns an embedded related record, or nil.
func (r Record) Nested(field string) Record {
	switch x := r[field].(type) {
	case map[string]any:
		return Record(x)
	case Record:
		return x
	}
	return nil
}

// Reference resolves a reference either from the flat field or from the
// embedded related record's identifier field.
func (r Record) Reference(ref Reference) (ID, bool) {
	if v, ok := r[ref.Field]; ok && v != nil {
		if id, ok := idFrom(v); ok {
			return id, true
		}
	}
	if nested := r.Nested(ref.Embedded); nested != nil {
		return nested.ID(ref.Kind)
	}
	return 0, false
}

// Clone returns a deep copy so callers can never alias cache storage.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return map[string]any(Record(x).Clone())
	case Record:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	}
	return v
}

// CloneAll deep-copies a collection.
func CloneAll(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// DecodeRecord decodes a single JSON object.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// DecodeRecords decodes a JSON array of objects. A JSON null decodes to an
// empty, non-nil collection.
func DecodeRecords(rd io.Reader) ([]Record, error) {
	dec := json.NewDecoder(rd)
	dec.UseNumber()
	var out []Record
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

func jsonText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case ID:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

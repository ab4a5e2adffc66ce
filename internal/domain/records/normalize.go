package records

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// DateLayout is the wire format of every date attribute.
const DateLayout = "2006-01-02"

// Real is a real-valued attribute. It marshals as a bare JSON number so the
// remote store receives the same shape it sends.
type Real struct {
	decimal.Decimal
}

// NewReal wraps a decimal.
func NewReal(d decimal.Decimal) Real { return Real{Decimal: d} }

// MarshalJSON implements json.Marshaler.
func (r Real) MarshalJSON() ([]byte, error) {
	return []byte(r.Decimal.String()), nil
}

// Normalize converts a raw attribute value (as decoded from JSON or typed by a
// user) into the canonical Go value for the field's declared type:
//
//	text      -> string (trimmed)
//	integer   -> int64
//	reference -> ID
//	real      -> Real
//	date      -> string in DateLayout
//	code      -> int
//
// Blank input normalizes to nil ("absent").
func Normalize(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	switch f.Type {
	case FieldText:
		return strings.TrimSpace(jsonText(v)), nil

	case FieldInteger:
		n, ok := integerFrom(v)
		if !ok {
			return nil, invalidValue(f, v)
		}
		return n, nil

	case FieldReference:
		id, ok := idFrom(v)
		if !ok {
			return nil, invalidValue(f, v)
		}
		return id, nil

	case FieldReal:
		d, ok := realFrom(v)
		if !ok {
			return nil, invalidValue(f, v)
		}
		return NewReal(d), nil

	case FieldDate:
		s := strings.TrimSpace(jsonText(v))
		if len(s) > len(DateLayout) && s[len(DateLayout)] == 'T' {
			s = s[:len(DateLayout)]
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, invalidValue(f, v)
		}
		return t.Format(DateLayout), nil

	case FieldCode:
		c, ok := f.Codes.Code(v)
		if !ok {
			return nil, shared.Invalid("records", "Normalize", "%s must be one of %s",
				f.Name, strings.Join(f.Codes.Labels(), ", "))
		}
		return c, nil
	}
	return v, nil
}

func invalidValue(f Field, v any) error {
	return shared.Invalid("records", "Normalize", "invalid %s %q for %s", f.Type, jsonText(v), f.Name)
}

func integerFrom(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case ID:
		return int64(x), true
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		d, err := decimal.NewFromString(x.String())
		if err != nil || !d.IsInteger() {
			return 0, false
		}
		return d.IntPart(), true
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		d, err := decimal.NewFromString(s)
		if err != nil || !d.IsInteger() {
			return 0, false
		}
		return d.IntPart(), true
	}
	return 0, false
}

func realFrom(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case Real:
		return x.Decimal, true
	case decimal.Decimal:
		return x, true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case float64:
		return decimal.NewFromFloat(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// Equal compares two normalized values of the same field type.
func Equal(f Field, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if f.Type == FieldReal {
		ra, okA := a.(Real)
		rb, okB := b.(Real)
		return okA && okB && ra.Equal(rb.Decimal)
	}
	return a == b
}

package records

import (
	"sort"

	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// Patch holds only the attributes that changed, keyed by JSON name, with
// values already normalized for the wire.
type Patch map[string]any

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool { return len(p) == 0 }

// Fields returns the changed attribute names in sorted order.
func (p Patch) Fields() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Current returns the value of an editable attribute as held by the record,
// resolving references through either their flat or embedded form.
func Current(s Schema, r Record, f Field) any {
	if f.Type == FieldReference {
		if ref, ok := s.Reference(f.Name); ok {
			if id, ok := r.Reference(ref); ok {
				return id
			}
		}
		return nil
	}
	return r[f.Name]
}

// Diff computes the minimal patch between a cached record and edited values.
// Each field is compared by its declared type after normalization, so "5" and
// 5 are the same integer and "3.0" and 3 the same real. Edits naming the
// identifier field are ignored; edits naming unknown attributes fail.
func Diff(s Schema, original Record, edits map[string]any) (Patch, error) {
	patch := Patch{}
	for name, raw := range edits {
		if name == s.IDField {
			continue
		}
		f, ok := s.Field(name)
		if !ok {
			return nil, shared.Invalid("records", "Diff", "unknown field %s for %s", name, s.Label)
		}
		next, err := Normalize(f, raw)
		if err != nil {
			return nil, err
		}
		prev, err := Normalize(f, Current(s, original, f))
		if err != nil {
			// An unparseable cached value always counts as changed.
			prev = nil
			if next == nil {
				continue
			}
		}
		if !Equal(f, prev, next) {
			patch[name] = next
		}
	}
	return patch, nil
}

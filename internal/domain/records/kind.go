// Package records defines the seven entity kinds managed by recordsync, the
// per-kind schema table and the generic record representation shared by the
// cache, the reference index and the CRUD orchestrator.
//
// Records travel as decoded JSON objects. Their shapes differ per kind, so every
// kind-specific decision (identifier field, field types, references) is made by
// looking the kind up in the schema table, never by inspecting values.
package records

import (
	"strings"

	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// Kind identifies one of the seven entity categories. Its value is the
// collection segment of the remote resource (/api/<kind>).
type Kind string

const (
	// Person is the primary entity (a student).
	Person Kind = "students"
	// Course is the catalog entity.
	Course Kind = "courses"
	// Enrollment links a Person to a Course.
	Enrollment Kind = "enrollments"
	// Assessment is a grade recorded against an Enrollment.
	Assessment Kind = "grades"
	// Attendance is an attendance record for an Enrollment and a Person.
	Attendance Kind = "attendance"
	// Address belongs to a Person.
	Address Kind = "addresses"
	// Contact belongs to a Person.
	Contact Kind = "contacts"
)

// AllKinds returns every kind, primary first.
func AllKinds() []Kind {
	return []Kind{Person, Course, Enrollment, Assessment, Attendance, Address, Contact}
}

// ReferencedKinds returns the kinds that other kinds point at.
func ReferencedKinds() []Kind {
	return []Kind{Person, Course, Enrollment}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Valid reports whether k is one of the seven kinds.
func (k Kind) Valid() bool {
	_, ok := schemas[k]
	return ok
}

// Label returns the singular display name of the kind.
func (k Kind) Label() string {
	if s, ok := schemas[k]; ok {
		return s.Label
	}
	return string(k)
}

var kindAliases = map[string]Kind{
	"students":    Person,
	"student":     Person,
	"person":      Person,
	"persons":     Person,
	"courses":     Course,
	"course":      Course,
	"enrollments": Enrollment,
	"enrollment":  Enrollment,
	"grades":      Assessment,
	"grade":       Assessment,
	"assessment":  Assessment,
	"assessments": Assessment,
	"attendance":  Attendance,
	"addresses":   Address,
	"address":     Address,
	"contacts":    Contact,
	"contact":     Contact,
}

// ParseKind resolves a section name or a singular alias to a Kind.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", shared.WrapError("records", "ParseKind", shared.ErrUnknownKind, "unknown kind "+s, nil)
}

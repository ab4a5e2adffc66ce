package records

import (
	"encoding/json"

	"github.com/schooladmin/recordsync/internal/domain/shared"
)

// Ref is one reference carried by a draft, to be checked before submission.
type Ref struct {
	Field string
	Kind  Kind
	ID    ID
}

// Draft is a create or full-replacement payload for one kind. Validation
// rules live in the `validate` struct tags.
type Draft interface {
	Kind() Kind
	References() []Ref
}

// PersonDraft creates a student. When any dependent slice is non-empty the
// aggregate endpoint is used and the dependents are created with it.
type PersonDraft struct {
	FirstName     string `json:"firstName" validate:"required,max=100"`
	LastName      string `json:"lastName" validate:"required,max=100"`
	DateOfBirth   string `json:"dateOfBirth" validate:"required,isodate"`
	Gender        *int   `json:"gender" validate:"required,min=0,max=2"`
	JoiningDate   string `json:"joiningDate" validate:"required,isodate"`
	StudentStatus *int   `json:"studentStatus" validate:"required,min=0,max=2"`

	Addresses   []AddressLine    `json:"addresses,omitempty" validate:"dive"`
	Contacts    []ContactLine    `json:"contacts,omitempty" validate:"dive"`
	Enrollments []EnrollmentLine `json:"enrollments,omitempty" validate:"dive"`
}

// AddressLine is an address created together with a student.
type AddressLine struct {
	Street  string `json:"street" validate:"required,max=200"`
	City    string `json:"city" validate:"required,max=100"`
	State   string `json:"state" validate:"required,max=50"`
	ZipCode string `json:"zipCode" validate:"required,max=20"`
}

// ContactLine is a contact created together with a student.
type ContactLine struct {
	EmailAddress string `json:"emailAddress" validate:"required,email,max=100"`
	MobileNumber string `json:"mobileNumber" validate:"required,max=15"`
}

// EnrollmentLine is an enrollment created together with a student.
type EnrollmentLine struct {
	CourseNumber   *ID    `json:"courseNumber" validate:"required"`
	EnrollmentDate string `json:"enrollmentDate" validate:"required,isodate"`
	OverallGrade   *int   `json:"overallGrade" validate:"required,min=0,max=100"`
	Semester       string `json:"semester" validate:"required,max=20"`
	InstructorName string `json:"instructorName" validate:"required,max=100"`
}

func (PersonDraft) Kind() Kind { return Person }

// References lists the courses named by dependent enrollments.
func (d PersonDraft) References() []Ref {
	var refs []Ref
	for _, e := range d.Enrollments {
		if e.CourseNumber != nil {
			refs = append(refs, Ref{Field: "courseNumber", Kind: Course, ID: *e.CourseNumber})
		}
	}
	return refs
}

// Aggregate reports whether dependents must be created with the student.
func (d PersonDraft) Aggregate() bool {
	return len(d.Addresses) > 0 || len(d.Contacts) > 0 || len(d.Enrollments) > 0
}

// CourseDraft creates or replaces a course.
type CourseDraft struct {
	CourseName    string `json:"courseName" validate:"required,max=100"`
	CourseCode    string `json:"courseCode" validate:"required,max=10"`
	CourseCredits *Real  `json:"courseCredits" validate:"required,gte=0"`
}

func (CourseDraft) Kind() Kind        { return Course }
func (CourseDraft) References() []Ref { return nil }

// EnrollmentDraft creates or replaces an enrollment.
type EnrollmentDraft struct {
	StudentNumber  *ID    `json:"studentNumber" validate:"required"`
	CourseNumber   *ID    `json:"courseNumber" validate:"required"`
	EnrollmentDate string `json:"enrollmentDate" validate:"required,isodate"`
	OverallGrade   *int   `json:"overallGrade" validate:"required,min=0,max=100"`
	Semester       string `json:"semester" validate:"required,max=20"`
	InstructorName string `json:"instructorName" validate:"required,max=100"`
}

func (EnrollmentDraft) Kind() Kind { return Enrollment }

func (d EnrollmentDraft) References() []Ref {
	return refs(
		ref("studentNumber", Person, d.StudentNumber),
		ref("courseNumber", Course, d.CourseNumber),
	)
}

// AssessmentDraft creates or replaces a grade.
type AssessmentDraft struct {
	EnrollmentNumber *ID    `json:"enrollmentNumber" validate:"required"`
	AssessmentDate   string `json:"assessmentDate" validate:"required,isodate"`
	AssessmentType   string `json:"assessmentType" validate:"required,max=50"`
	ObtainedScore    *int   `json:"obtainedScore" validate:"required,min=0,max=100"`
	MaxScore         *int   `json:"maxScore" validate:"required,min=1,max=100"`
	GradeCode        *int   `json:"gradeCode" validate:"omitempty,min=0,max=10"`
}

func (AssessmentDraft) Kind() Kind { return Assessment }

func (d AssessmentDraft) References() []Ref {
	return refs(ref("enrollmentNumber", Enrollment, d.EnrollmentNumber))
}

// AttendanceDraft creates or replaces an attendance record.
type AttendanceDraft struct {
	EnrollmentNumber *ID    `json:"enrollmentNumber" validate:"required"`
	StudentNumber    *ID    `json:"studentNumber" validate:"required"`
	AttendanceDate   string `json:"attendanceDate" validate:"required,isodate"`
	AttendanceStatus *int   `json:"attendanceStatus" validate:"required,min=0,max=2"`
	Semester         string `json:"semester,omitempty" validate:"omitempty,max=20"`
}

func (AttendanceDraft) Kind() Kind { return Attendance }

func (d AttendanceDraft) References() []Ref {
	return refs(
		ref("studentNumber", Person, d.StudentNumber),
		ref("enrollmentNumber", Enrollment, d.EnrollmentNumber),
	)
}

// AddressDraft creates or replaces an address.
type AddressDraft struct {
	StudentNumber *ID    `json:"studentNumber" validate:"required"`
	Street        string `json:"street" validate:"required,max=200"`
	City          string `json:"city" validate:"required,max=100"`
	State         string `json:"state" validate:"required,max=50"`
	ZipCode       string `json:"zipCode" validate:"required,max=20"`
}

func (AddressDraft) Kind() Kind { return Address }

func (d AddressDraft) References() []Ref {
	return refs(ref("studentNumber", Person, d.StudentNumber))
}

// ContactDraft creates or replaces a contact.
type ContactDraft struct {
	StudentNumber *ID    `json:"studentNumber" validate:"required"`
	EmailAddress  string `json:"emailAddress" validate:"required,email,max=100"`
	MobileNumber  string `json:"mobileNumber" validate:"required,max=15"`
}

func (ContactDraft) Kind() Kind { return Contact }

func (d ContactDraft) References() []Ref {
	return refs(ref("studentNumber", Person, d.StudentNumber))
}

func ref(field string, k Kind, id *ID) *Ref {
	if id == nil {
		return nil
	}
	return &Ref{Field: field, Kind: k, ID: *id}
}

func refs(in ...*Ref) []Ref {
	out := make([]Ref, 0, len(in))
	for _, r := range in {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// newDraft returns a pointer to the zero draft of a kind.
func newDraft(k Kind) (Draft, error) {
	switch k {
	case Person:
		return &PersonDraft{}, nil
	case Course:
		return &CourseDraft{}, nil
	case Enrollment:
		return &EnrollmentDraft{}, nil
	case Assessment:
		return &AssessmentDraft{}, nil
	case Attendance:
		return &AttendanceDraft{}, nil
	case Address:
		return &AddressDraft{}, nil
	case Contact:
		return &ContactDraft{}, nil
	}
	return nil, shared.WrapError("records", "NewDraft", shared.ErrUnknownKind, "unknown kind "+string(k), nil)
}

// personDependents are the aggregate-only keys accepted by BuildDraft, with
// the kind whose field types apply to each line.
var personDependents = map[string]Kind{"addresses": Address, "contacts": Contact, "enrollments": Enrollment}

// BuildDraft turns loosely typed values (form input or decoded JSON) into the
// kind's draft. Schema attributes are normalized first, so codes may be given
// as display strings and numbers as strings. The identifier field is ignored.
// The draft is not validated; call Validate.
func BuildDraft(k Kind, values map[string]any) (Draft, error) {
	s, ok := SchemaOf(k)
	if !ok {
		return nil, shared.WrapError("records", "BuildDraft", shared.ErrUnknownKind, "unknown kind "+string(k), nil)
	}

	wire := make(map[string]any, len(values))
	for name, raw := range values {
		if name == s.IDField {
			continue
		}
		if dep, ok := personDependents[name]; ok && k == Person {
			lines, err := normalizeLines(dep, name, raw)
			if err != nil {
				return nil, err
			}
			wire[name] = lines
			continue
		}
		f, ok := s.Field(name)
		if !ok {
			return nil, shared.Invalid("records", "BuildDraft", "unknown field %s for %s", name, s.Label)
		}
		v, err := Normalize(f, raw)
		if err != nil {
			return nil, err
		}
		if v != nil {
			wire[name] = v
		}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, shared.WrapError("records", "BuildDraft", shared.ErrClientValidation, "cannot encode "+s.Label, err)
	}
	d, err := newDraft(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, shared.WrapError("records", "BuildDraft", shared.ErrClientValidation, "malformed "+s.Label, err)
	}
	return d, nil
}

// normalizeLines applies the field types of kind to every dependent line.
// Keys outside the kind's schema are passed through for decoding.
func normalizeLines(k Kind, name string, raw any) (any, error) {
	var lines []map[string]any
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		lines = v
	case []any:
		lines = make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, shared.Invalid("records", "BuildDraft", "%s[%d] must be an object", name, i)
			}
			lines = append(lines, m)
		}
	default:
		return raw, nil
	}

	s := MustSchema(k)
	out := make([]map[string]any, 0, len(lines))
	for i, line := range lines {
		norm := make(map[string]any, len(line))
		for key, v := range line {
			f, ok := s.Field(key)
			if !ok {
				norm[key] = v
				continue
			}
			nv, err := Normalize(f, v)
			if err != nil {
				return nil, shared.Invalid("records", "BuildDraft", "%s[%d]: %s", name, i, shared.UserMessage(err))
			}
			if nv != nil {
				norm[key] = nv
			}
		}
		out = append(out, norm)
	}
	return out, nil
}

// DraftFromRecord builds a full replacement draft from a cached record with
// edits applied on top.
func DraftFromRecord(k Kind, r Record, edits map[string]any) (Draft, error) {
	s, ok := SchemaOf(k)
	if !ok {
		return nil, shared.WrapError("records", "DraftFromRecord", shared.ErrUnknownKind, "unknown kind "+string(k), nil)
	}
	values := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		if v := Current(s, r, f); v != nil {
			values[f.Name] = v
		}
	}
	for name, v := range edits {
		values[name] = v
	}
	return BuildDraft(k, values)
}

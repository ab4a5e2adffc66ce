package records

// FieldType is the declared semantic type of an attribute. Diffing,
// normalization and validation all dispatch on it.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInteger
	FieldReal
	FieldDate
	FieldCode
	FieldReference
)

// String implements fmt.Stringer.
func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldInteger:
		return "integer"
	case FieldReal:
		return "real"
	case FieldDate:
		return "date"
	case FieldCode:
		return "code"
	case FieldReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Field describes one editable attribute of a kind.
type Field struct {
	Name  string
	Type  FieldType
	Codes *CodeSet // FieldCode only
	Ref   Kind     // FieldReference only
}

// Reference is a foreign-key-like attribute. Remote records carry it either
// flat (Field holds the identifier) or embedded (Embedded holds the related
// record object).
type Reference struct {
	Field    string
	Embedded string
	Kind     Kind
}

// Schema is the per-kind lookup table entry.
type Schema struct {
	Kind       Kind
	Label      string
	IDField    string
	Fields     []Field
	References []Reference
	// Cascade lists the kinds whose rows the server deletes together with a
	// record of this kind.
	Cascade []Kind
}

var schemas = map[Kind]Schema{
	Person: {
		Kind:    Person,
		Label:   "Student",
		IDField: "studentNumber",
		Fields: []Field{
			{Name: "firstName", Type: FieldText},
			{Name: "lastName", Type: FieldText},
			{Name: "dateOfBirth", Type: FieldDate},
			{Name: "gender", Type: FieldCode, Codes: GenderCodes},
			{Name: "joiningDate", Type: FieldDate},
			{Name: "studentStatus", Type: FieldCode, Codes: StatusCodes},
		},
		Cascade: []Kind{Enrollment, Assessment, Attendance, Address, Contact},
	},
	Course: {
		Kind:    Course,
		Label:   "Course",
		IDField: "courseNumber",
		Fields: []Field{
			{Name: "courseName", Type: FieldText},
			{Name: "courseCode", Type: FieldText},
			{Name: "courseCredits", Type: FieldReal},
		},
	},
	Enrollment: {
		Kind:    Enrollment,
		Label:   "Enrollment",
		IDField: "enrollmentNumber",
		Fields: []Field{
			{Name: "studentNumber", Type: FieldReference, Ref: Person},
			{Name: "courseNumber", Type: FieldReference, Ref: Course},
			{Name: "enrollmentDate", Type: FieldDate},
			{Name: "semester", Type: FieldText},
			{Name: "overallGrade", Type: FieldInteger},
			{Name: "instructorName", Type: FieldText},
		},
		References: []Reference{
			{Field: "studentNumber", Embedded: "student", Kind: Person},
			{Field: "courseNumber", Embedded: "course", Kind: Course},
		},
		Cascade: []Kind{Assessment, Attendance},
	},
	Assessment: {
		Kind:    Assessment,
		Label:   "Grade",
		IDField: "gradeNumber",
		Fields: []Field{
			{Name: "enrollmentNumber", Type: FieldReference, Ref: Enrollment},
			{Name: "assessmentType", Type: FieldText},
			{Name: "assessmentDate", Type: FieldDate},
			{Name: "obtainedScore", Type: FieldInteger},
			{Name: "maxScore", Type: FieldInteger},
			{Name: "gradeCode", Type: FieldInteger},
		},
		References: []Reference{
			{Field: "enrollmentNumber", Embedded: "enrollment", Kind: Enrollment},
		},
	},
	Attendance: {
		Kind:    Attendance,
		Label:   "Attendance record",
		IDField: "attendanceNumber",
		Fields: []Field{
			{Name: "enrollmentNumber", Type: FieldReference, Ref: Enrollment},
			{Name: "studentNumber", Type: FieldReference, Ref: Person},
			{Name: "attendanceDate", Type: FieldDate},
			{Name: "attendanceStatus", Type: FieldCode, Codes: AttendanceCodes},
			{Name: "semester", Type: FieldText},
		},
		References: []Reference{
			{Field: "enrollmentNumber", Embedded: "enrollment", Kind: Enrollment},
			{Field: "studentNumber", Embedded: "student", Kind: Person},
		},
	},
	Address: {
		Kind:    Address,
		Label:   "Address",
		IDField: "addressNumber",
		Fields: []Field{
			{Name: "studentNumber", Type: FieldReference, Ref: Person},
			{Name: "street", Type: FieldText},
			{Name: "city", Type: FieldText},
			{Name: "state", Type: FieldText},
			{Name: "zipCode", Type: FieldText},
		},
		References: []Reference{
			{Field: "studentNumber", Embedded: "student", Kind: Person},
		},
	},
	Contact: {
		Kind:    Contact,
		Label:   "Contact",
		IDField: "contactNumber",
		Fields: []Field{
			{Name: "studentNumber", Type: FieldReference, Ref: Person},
			{Name: "emailAddress", Type: FieldText},
			{Name: "mobileNumber", Type: FieldText},
		},
		References: []Reference{
			{Field: "studentNumber", Embedded: "student", Kind: Person},
		},
	},
}

// SchemaOf returns the schema entry for k.
func SchemaOf(k Kind) (Schema, bool) {
	s, ok := schemas[k]
	return s, ok
}

// MustSchema returns the schema entry for k and panics for an unknown kind.
// Only use it with the Kind constants.
func MustSchema(k Kind) Schema {
	s, ok := schemas[k]
	if !ok {
		panic("records: no schema for kind " + string(k))
	}
	return s
}

// Field looks up an attribute by its JSON name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Reference looks up the reference stored under the given flat field name.
func (s Schema) Reference(field string) (Reference, bool) {
	for _, r := range s.References {
		if r.Field == field {
			return r, true
		}
	}
	return Reference{}, false
}

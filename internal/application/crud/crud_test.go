package crud

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
)

func student(id int64, first, last string) records.Record {
	return records.Record{
		"studentNumber": id,
		"firstName":     first,
		"lastName":      last,
		"dateOfBirth":   "2005-04-01",
		"gender":        1,
		"joiningDate":   "2023-09-01",
		"studentStatus": 0,
	}
}

func course(id int64) records.Record {
	return records.Record{
		"courseNumber":  id,
		"courseName":    gofakeit.JobTitle(),
		"courseCode":    "C" + records.ID(id).String(),
		"courseCredits": 3,
	}
}

func enrollmentValues(studentID, courseID int64) map[string]any {
	return map[string]any{
		"studentNumber":  studentID,
		"courseNumber":   courseID,
		"enrollmentDate": "2024-01-15",
		"overallGrade":   "85",
		"semester":       "Spring 2024",
		"instructorName": "Dr. Lee",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE
// ══════════════════════════════════════════════════════════════════════════════

func TestCreate_KnownReferenceNeedsNoRefresh(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Person, student(1, "Ana", "Ruiz"))
	f.load(t, records.Course, course(10))
	coursesBefore := f.remote.listCount(records.Course)

	res, err := f.orch.CreateFrom(context.Background(), records.Enrollment, enrollmentValues(1, 10))

	require.NoError(t, err)
	assert.Equal(t, OpCreate, res.Op)
	require.NotNil(t, res.ID)
	assert.Equal(t, 1, f.remote.count(OpCreate))
	assert.Equal(t, coursesBefore, f.remote.listCount(records.Course))
	// The enrollment list is reloaded after the write.
	assert.Len(t, f.cache.Snapshot(records.Enrollment), 1)
	_, ok := f.cache.Find(records.Enrollment, *res.ID)
	assert.True(t, ok)
}

func TestCreate_MissingReferenceRefreshesOnceAndRejects(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Person, student(1, "Ana", "Ruiz"))
	f.load(t, records.Course, course(10))
	coursesBefore := f.remote.listCount(records.Course)

	_, err := f.orch.CreateFrom(context.Background(), records.Enrollment, enrollmentValues(1, 99))

	require.Error(t, err)
	assert.True(t, shared.IsClientValidation(err))
	assert.Contains(t, err.Error(), "Course 99 does not exist")
	assert.Equal(t, coursesBefore+1, f.remote.listCount(records.Course))
	assert.Zero(t, f.remote.count(OpCreate))
	assert.Empty(t, f.journal.entries)
}

func TestCreate_ValidationPrecedesIO(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Course, course(10))

	values := enrollmentValues(1, 10)
	delete(values, "instructorName")
	values["overallGrade"] = 140

	_, err := f.orch.CreateFrom(context.Background(), records.Enrollment, values)

	require.Error(t, err)
	assert.True(t, shared.IsClientValidation(err))
	assert.Contains(t, err.Error(), "Missing instructorName")
	assert.Contains(t, err.Error(), "overallGrade must be at most 100")
	assert.Zero(t, f.remote.count(OpCreate))
	assert.Zero(t, f.remote.listCount(records.Person))
}

func TestCreate_RemoteRejectionLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Course, course(10))
	f.remote.fail = shared.NewDomainError("restapi", "POST", shared.ErrServerValidation, "Course code already exists")
	before := f.remote.listCount(records.Course)

	_, err := f.orch.CreateFrom(context.Background(), records.Course, map[string]any{
		"courseName": "Physics", "courseCode": "PHY1", "courseCredits": "4",
	})

	require.Error(t, err)
	assert.True(t, shared.IsServerValidation(err))
	assert.Equal(t, before, f.remote.listCount(records.Course))
	assert.Len(t, f.cache.Snapshot(records.Course), 1)
	assert.Empty(t, f.notifier.changes)

	require.Len(t, f.journal.entries, 1)
	assert.False(t, f.journal.entries[0].Success)
	assert.Contains(t, f.journal.entries[0].Error, "Course code already exists")
}

func TestCreate_JournalsAndAnnounces(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.CreateFrom(context.Background(), records.Course, map[string]any{
		"courseName": "Physics", "courseCode": "PHY1", "courseCredits": "4.5",
	})
	require.NoError(t, err)

	require.Len(t, f.journal.entries, 1)
	e := f.journal.entries[0]
	assert.True(t, e.Success)
	assert.Equal(t, OpCreate, e.Op)
	assert.Equal(t, records.Course, e.Kind)
	assert.JSONEq(t, `{"courseName":"Physics","courseCode":"PHY1","courseCredits":4.5}`, string(e.Payload))

	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, Change{Kind: records.Course, Op: OpCreate}, f.notifier.changes[0])
}

func TestCreatePerson_AggregateChecksCoursesAndReloadsDependents(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Course, course(10))

	values := map[string]any{
		"firstName":     "Ana",
		"lastName":      "Ruiz",
		"dateOfBirth":   "2005-04-01",
		"gender":        "Female",
		"joiningDate":   "2023-09-01",
		"studentStatus": "Active",
		"enrollments": []any{map[string]any{
			"courseNumber": 99, "enrollmentDate": "2024-01-15", "overallGrade": 80,
			"semester": "Spring", "instructorName": "Dr. Lee",
		}},
	}

	_, err := f.orch.CreateFrom(context.Background(), records.Person, values)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Course 99 does not exist")
	assert.Zero(t, f.remote.count(OpCreateAggregate))

	values["enrollments"].([]any)[0].(map[string]any)["courseNumber"] = 10
	res, err := f.orch.CreateFrom(context.Background(), records.Person, values)
	require.NoError(t, err)

	assert.Equal(t, OpCreateAggregate, res.Op)
	assert.Equal(t, 1, f.remote.count(OpCreateAggregate))
	assert.Zero(t, f.remote.count(OpCreate))
	assert.Len(t, f.cache.Snapshot(records.Person), 1)
	assert.Len(t, f.cache.Snapshot(records.Enrollment), 1)
	assert.True(t, f.cache.Loaded(records.Enrollment))
	assert.False(t, f.cache.Loaded(records.Address))

	var kinds []records.Kind
	for _, c := range f.notifier.changes {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []records.Kind{records.Person, records.Enrollment}, kinds)
	assert.Equal(t, "Student and related records created successfully",
		StatusMessage(res.Op, res.Kind, res, nil).Text)
}

func TestCreatePerson_WithoutDependentsUsesPlainCreate(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Create(context.Background(), &records.PersonDraft{
		FirstName: "Ana", LastName: "Ruiz", DateOfBirth: "2005-04-01",
		Gender: ptr(1), JoiningDate: "2023-09-01", StudentStatus: ptr(0),
	})

	require.NoError(t, err)
	assert.Equal(t, OpCreate, res.Op)
	assert.Equal(t, 1, f.remote.count(OpCreate))
	assert.Zero(t, f.remote.count(OpCreateAggregate))
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE
// ══════════════════════════════════════════════════════════════════════════════

func TestUpdatePartial_SendsOnlyChangedFields(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Person, student(5, "Ana", "Ruiz"))

	res, err := f.orch.Update(context.Background(), records.Person, 5, map[string]any{
		"firstName":     "Ana",
		"lastName":      "Ortiz",
		"gender":        "Female",
		"studentNumber": 999,
	})

	require.NoError(t, err)
	assert.Equal(t, OpUpdatePartial, res.Op)
	assert.Equal(t, []string{"lastName"}, res.Changed)
	assert.Equal(t, records.Patch{"lastName": "Ortiz"}, f.remote.lastBody())
	assert.Zero(t, f.remote.count(OpUpdateFull))
}

func TestUpdatePartial_NoChangeSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Person, student(5, "Ana", "Ruiz"))
	before := f.remote.listCount(records.Person)

	res, err := f.orch.UpdatePartial(context.Background(), records.Person, 5, map[string]any{
		"firstName": "Ana", "dateOfBirth": "2005-04-01", "studentStatus": "0",
	})

	require.NoError(t, err)
	assert.True(t, res.NoChange)
	assert.Zero(t, f.remote.count(OpUpdatePartial))
	assert.Equal(t, before, f.remote.listCount(records.Person))
	assert.Empty(t, f.journal.entries)
	assert.Equal(t, Status{Level: LevelInfo, Text: "No changes to save"}, StatusMessage(res.Op, res.Kind, res, nil))
}

func TestUpdatePartial_CodeChangedToFirstValue(t *testing.T) {
	f := newFixture(t)
	graduated := student(6, "Ben", "Okafor")
	graduated["studentStatus"] = 2
	f.load(t, records.Person, student(5, "Ana", "Ruiz"), graduated)

	res, err := f.orch.UpdatePartial(context.Background(), records.Person, 5, map[string]any{"gender": "Male"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gender"}, res.Changed)
	assert.Equal(t, records.Patch{"gender": 0}, f.remote.lastBody())

	res, err = f.orch.UpdatePartial(context.Background(), records.Person, 6, map[string]any{"studentStatus": "Active"})
	require.NoError(t, err)
	assert.Equal(t, []string{"studentStatus"}, res.Changed)
	assert.Equal(t, records.Patch{"studentStatus": 0}, f.remote.lastBody())
	assert.Equal(t, 2, f.remote.count(OpUpdatePartial))
}

func TestUpdatePartial_InvalidChangeRejected(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Person, student(5, "Ana", "Ruiz"))

	_, err := f.orch.UpdatePartial(context.Background(), records.Person, 5, map[string]any{
		"firstName": "",
	})

	require.Error(t, err)
	assert.True(t, shared.IsClientValidation(err))
	assert.Contains(t, err.Error(), "Missing firstName")
	assert.Zero(t, f.remote.count(OpUpdatePartial))
}

func TestUpdateFull_ReplacesWholeRecord(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Course, course(10))

	res, err := f.orch.Update(context.Background(), records.Course, 10, map[string]any{"courseCredits": "5"})

	require.NoError(t, err)
	assert.Equal(t, OpUpdateFull, res.Op)
	body, ok := f.remote.lastBody().(*records.CourseDraft)
	require.True(t, ok)
	assert.Equal(t, "C10", body.CourseCode)
	assert.Equal(t, "5", body.CourseCredits.String())
}

func TestUpdate_RecordNotInCache(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Course, course(10))

	_, err := f.orch.Update(context.Background(), records.Course, 11, map[string]any{"courseName": "X"})

	require.Error(t, err)
	assert.True(t, shared.IsNotFoundLocally(err))
	assert.Equal(t, "Course 11 is no longer in the list; reload and try again", shared.UserMessage(err))
}

func TestUpdateFull_ChangedReferenceIsChecked(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Person, student(1, "Ana", "Ruiz"))
	f.load(t, records.Address, records.Record{
		"addressNumber": 3, "studentNumber": 1, "street": "1 Main St",
		"city": "Springfield", "state": "IL", "zipCode": "62701",
	})

	_, err := f.orch.Update(context.Background(), records.Address, 3, map[string]any{"studentNumber": 42})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Student 42 does not exist (studentNumber)")
	assert.Zero(t, f.remote.count(OpUpdateFull))
}

// ══════════════════════════════════════════════════════════════════════════════
// DELETE & UPLOAD
// ══════════════════════════════════════════════════════════════════════════════

func TestDelete_ConfirmedRemovesFromSnapshot(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Assessment,
		records.Record{"gradeNumber": 7, "enrollmentNumber": 1},
		records.Record{"gradeNumber": 8, "enrollmentNumber": 1},
	)

	var prompt string
	confirm := ConfirmFunc(func(_ context.Context, p string) bool { prompt = p; return true })

	res, err := f.orch.Delete(context.Background(), records.Assessment, 7, confirm)

	require.NoError(t, err)
	assert.Equal(t, "Are you sure you want to delete Grade 7?", prompt)
	assert.Equal(t, 1, f.remote.count(OpDelete))
	_, ok := f.cache.Find(records.Assessment, 7)
	assert.False(t, ok)
	assert.Len(t, f.cache.Snapshot(records.Assessment), 1)
	assert.Equal(t, "Grade deleted successfully", StatusMessage(res.Op, res.Kind, res, nil).Text)
}

func TestDelete_StudentReloadsCascadedKinds(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Person, student(1, "Ana", "Ruiz"), student(2, "Ben", "Okafor"))
	f.load(t, records.Course, course(10))
	enr := enrollmentValues(1, 10)
	enr["enrollmentNumber"] = 50
	other := enrollmentValues(2, 10)
	other["enrollmentNumber"] = 51
	f.load(t, records.Enrollment, records.Record(enr), records.Record(other))
	f.load(t, records.Assessment, records.Record{"gradeNumber": 70, "enrollmentNumber": 50})
	f.load(t, records.Address, records.Record{"addressNumber": 3, "studentNumber": 1, "city": "Austin"})
	require.True(t, f.index.Contains(records.Enrollment, 50))

	f.remote.cascade = func(kind records.Kind, id records.ID) {
		if kind != records.Person {
			return
		}
		f.remote.dropReferencing(records.Enrollment, "studentNumber", id)
		f.remote.dropReferencing(records.Assessment, "enrollmentNumber", 50)
		f.remote.dropReferencing(records.Address, "studentNumber", id)
	}

	_, err := f.orch.Delete(context.Background(), records.Person, 1, Always)
	require.NoError(t, err)

	_, ok := f.cache.Find(records.Enrollment, 50)
	assert.False(t, ok)
	assert.False(t, f.index.Contains(records.Enrollment, 50))
	_, ok = f.cache.Find(records.Enrollment, 51)
	assert.True(t, ok)
	assert.Empty(t, f.cache.Snapshot(records.Assessment))
	assert.Empty(t, f.cache.Snapshot(records.Address))
	for _, k := range records.MustSchema(records.Person).Cascade {
		assert.Positive(t, f.remote.listCount(k), "cascade kind %s not reloaded", k)
	}

	_, err = f.orch.CreateFrom(context.Background(), records.Assessment, map[string]any{
		"enrollmentNumber": 50,
		"assessmentDate":   "2024-03-01",
		"assessmentType":   "Quiz",
		"obtainedScore":    8,
		"maxScore":         10,
	})
	require.Error(t, err)
	assert.True(t, shared.IsClientValidation(err))
	assert.Zero(t, f.remote.count(OpCreate))
}

func TestDelete_EnrollmentReloadsGradesAndAttendance(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Enrollment, records.Record{"enrollmentNumber": 50, "studentNumber": 1})
	f.load(t, records.Assessment, records.Record{"gradeNumber": 70, "enrollmentNumber": 50})
	f.remote.cascade = func(records.Kind, records.ID) {
		f.remote.dropReferencing(records.Assessment, "enrollmentNumber", 50)
	}
	personLists := f.remote.listCount(records.Person)

	_, err := f.orch.Delete(context.Background(), records.Enrollment, 50, Always)
	require.NoError(t, err)

	assert.Empty(t, f.cache.Snapshot(records.Assessment))
	assert.Equal(t, 1, f.remote.listCount(records.Attendance))
	assert.Equal(t, personLists, f.remote.listCount(records.Person))
}

func TestDelete_DeclinedMakesNoCall(t *testing.T) {
	f := newFixture(t)
	f.load(t, records.Assessment, records.Record{"gradeNumber": 7})

	_, err := f.orch.Delete(context.Background(), records.Assessment, 7,
		ConfirmFunc(func(context.Context, string) bool { return false }))

	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrCancelled))
	assert.Zero(t, f.remote.count(OpDelete))
	assert.Equal(t, LevelInfo, StatusMessage(OpDelete, records.Assessment, Result{}, err).Level)

	_, err = f.orch.Delete(context.Background(), records.Assessment, 7, nil)
	assert.True(t, errors.Is(err, shared.ErrCancelled))
}

func TestDelete_RecordNotInCache(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Delete(context.Background(), records.Contact, 4, Always)

	require.Error(t, err)
	assert.True(t, shared.IsNotFoundLocally(err))
	assert.Zero(t, f.remote.count(OpDelete))
}

func TestUpload_ReloadsKind(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Upload(context.Background(), records.Person, "students.csv", strings.NewReader("firstName\nAna\n"))

	require.NoError(t, err)
	assert.Equal(t, "Imported students.csv", res.Message)
	assert.Equal(t, "firstName\nAna\n", f.remote.lastBody())
	assert.True(t, f.cache.Loaded(records.Person))
	assert.Equal(t, "Imported students.csv", StatusMessage(res.Op, res.Kind, res, nil).Text)

	_, err = f.orch.Upload(context.Background(), records.Person, "", nil)
	assert.True(t, shared.IsClientValidation(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		name string
		op   string
		kind records.Kind
		err  error
		want Status
	}{
		{"create", OpCreate, records.Course, nil, Status{LevelSuccess, "Course created successfully"}},
		{"update", OpUpdateFull, records.Attendance, nil, Status{LevelSuccess, "Attendance record updated successfully"}},
		{
			"server message verbatim", OpCreate, records.Course,
			shared.NewDomainError("restapi", "POST", shared.ErrServerValidation, "Course code already exists"),
			Status{LevelError, "Course code already exists"},
		},
		{
			"network prefixed", OpDelete, records.Course,
			shared.NewDomainError("restapi", "DELETE", shared.ErrNetwork, "cannot reach remote store"),
			Status{LevelError, "Network error: cannot reach remote store"},
		},
		{
			"client validation", OpCreate, records.Course,
			shared.Invalid("records", "Validate", "Missing courseName"),
			Status{LevelError, "Missing courseName"},
		},
		{"unexpected", OpCreate, records.Course, errors.New("boom"), Status{LevelError, "Error: boom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusMessage(tt.op, tt.kind, Result{}, tt.err))
		})
	}
}

func ptr[T any](v T) *T { return &v }

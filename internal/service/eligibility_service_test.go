package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
)

var firstSemester = models.Term{SchoolYear: "2024-2025", Semester: models.SemesterFirst}

func slot(day models.Weekday, start, end string) models.ScheduleSlot {
	return models.ScheduleSlot{Day: day, Start: models.MustClockTime(start), End: models.MustClockTime(end)}
}

func offeringFor(id, subjectID string, slots ...models.ScheduleSlot) *models.Offering {
	return &models.Offering{
		ID:         id,
		SubjectID:  subjectID,
		SchoolYear: firstSemester.SchoolYear,
		Semester:   firstSemester.Semester,
		Capacity:   30,
		IsOpen:     true,
		Schedule:   slots,
	}
}

func TestScheduleSlotOverlap(t *testing.T) {
	cases := []struct {
		name string
		a, b models.ScheduleSlot
		want bool
	}{
		{name: "touching endpoints", a: slot(models.Monday, "09:00", "10:00"), b: slot(models.Monday, "10:00", "11:00"), want: false},
		{name: "partial overlap", a: slot(models.Monday, "09:00", "10:30"), b: slot(models.Monday, "10:00", "11:00"), want: true},
		{name: "contained", a: slot(models.Monday, "08:00", "12:00"), b: slot(models.Monday, "09:00", "10:00"), want: true},
		{name: "identical", a: slot(models.Friday, "13:00", "14:00"), b: slot(models.Friday, "13:00", "14:00"), want: true},
		{name: "different day", a: slot(models.Monday, "09:00", "10:30"), b: slot(models.Tuesday, "10:00", "11:00"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Overlaps(tc.b))
			assert.Equal(t, tc.want, tc.b.Overlaps(tc.a))
		})
	}
}

func TestCheckScheduleConflictNamesBothSubjects(t *testing.T) {
	validator := NewEligibilityValidator(nil, DefaultUnitLoadPolicy())
	accepted := []DraftEntry{{
		Subject:  &models.Subject{ID: "math", Code: "MATH101"},
		Offering: offeringFor("off-math", "math", slot(models.Monday, "08:00", "11:00")),
	}}
	candidate := DraftEntry{
		Subject:  &models.Subject{ID: "phys", Code: "PHYS101"},
		Offering: offeringFor("off-phys", "phys", slot(models.Monday, "10:00", "13:00")),
	}

	err := validator.CheckScheduleConflict(candidate, accepted)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErr.Code)
	assert.Equal(t, "PHYS101", appErr.Details["subject_code"])
	assert.Equal(t, "MATH101", appErr.Details["conflicting_subject_code"])
	assert.Contains(t, appErr.Message, "MATH101")
	assert.Contains(t, appErr.Message, "PHYS101")
}

func TestCheckPrerequisites(t *testing.T) {
	validator := NewEligibilityValidator(nil, DefaultUnitLoadPolicy())
	subject := &models.Subject{
		ID:   "calc2",
		Code: "MATH102",
		Prerequisites: []models.Prerequisite{
			{SubjectID: "calc1", Code: "MATH101"},
			{SubjectID: "alg", Code: "MATH100"},
		},
	}

	require.NoError(t, validator.CheckPrerequisites(subject, map[string]bool{"calc1": true, "alg": true}))

	err := validator.CheckPrerequisites(subject, map[string]bool{"calc1": true})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPrerequisiteNotMet.Code, appErr.Code)
	assert.Equal(t, "MATH100", appErr.Details["missing_prerequisite"])
}

func TestNewEnrollmentDraftCountsOnlyPassedRecords(t *testing.T) {
	draft := NewEnrollmentDraft(firstSemester, []models.AcademicRecord{
		{SubjectID: "calc1", Remark: "passed"},
		{SubjectID: "alg", Remark: "Failed"},
		{SubjectID: "eng", Remark: "INC"},
	})

	assert.True(t, draft.passed["calc1"])
	assert.False(t, draft.passed["alg"])
	assert.False(t, draft.passed["eng"])
}

func TestCheckUnitLoad(t *testing.T) {
	validator := NewEligibilityValidator(nil, UnitLoadPolicy{})
	summer := models.Term{SchoolYear: "2024-2025", Semester: models.SemesterSummer}

	assert.NoError(t, validator.CheckUnitLoad(firstSemester, 12))
	assert.NoError(t, validator.CheckUnitLoad(firstSemester, 24))
	assert.NoError(t, validator.CheckUnitLoad(summer, 3))
	assert.NoError(t, validator.CheckUnitLoad(summer, 9))

	for _, tc := range []struct {
		term  models.Term
		units int
	}{{firstSemester, 11}, {firstSemester, 25}, {summer, 10}} {
		err := validator.CheckUnitLoad(tc.term, tc.units)
		assert.Equal(t, appErrors.ErrUnitLoadInvalid.Code, appErrors.FromError(err).Code, "%s %d", tc.term, tc.units)
	}
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("MATH101", []models.ScheduleSlot{slot(models.Monday, "08:00", "09:00")}))

	invalid := [][]models.ScheduleSlot{
		{{Day: "FUNDAY", Start: 60, End: 120}},
		{{Day: models.Monday, Start: 600, End: 600}},
		{{Day: models.Monday, Start: 700, End: 600}},
	}
	for _, slots := range invalid {
		err := ValidateSchedule("MATH101", slots)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestAdmitRunsChecksBeforeReserving(t *testing.T) {
	store := newMemSeatStore()
	store.add("off-math", 30, 0, true)
	store.add("off-phys", 30, 0, true)
	store.add("off-full", 1, 1, true)
	store.add("off-next", 30, 0, true)
	validator := NewEligibilityValidator(NewSeatLedger(store, nil, nil), DefaultUnitLoadPolicy())
	draft := NewEnrollmentDraft(firstSemester, nil)
	ctx := context.Background()

	math := &models.Subject{ID: "math", Code: "MATH101", Units: 3}
	require.NoError(t, validator.Admit(ctx, nil, draft, math, offeringFor("off-math", "math", slot(models.Monday, "08:00", "11:00"))))
	assert.Equal(t, 1, store.occupied("off-math"))

	err := validator.Admit(ctx, nil, draft, math, offeringFor("off-math", "math", slot(models.Tuesday, "08:00", "11:00")))
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	phys := &models.Subject{ID: "phys", Code: "PHYS101", Units: 3}
	err = validator.Admit(ctx, nil, draft, phys, offeringFor("off-phys", "phys", slot(models.Monday, "10:00", "13:00")))
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, store.occupied("off-phys"))

	wrongTerm := offeringFor("off-phys", "phys", slot(models.Friday, "10:00", "13:00"))
	wrongTerm.Semester = models.SemesterSecond
	err = validator.Admit(ctx, nil, draft, phys, wrongTerm)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	next := &models.Subject{ID: "next", Code: "MATH102", Units: 3, Prerequisites: []models.Prerequisite{{SubjectID: "calc", Code: "MATH100"}}}
	err = validator.Admit(ctx, nil, draft, next, offeringFor("off-next", "next", slot(models.Friday, "08:00", "09:00")))
	assert.Equal(t, appErrors.ErrPrerequisiteNotMet.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, store.occupied("off-next"))

	full := &models.Subject{ID: "art", Code: "ART101", Units: 3}
	err = validator.Admit(ctx, nil, draft, full, offeringFor("off-full", "art", slot(models.Friday, "08:00", "09:00")))
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErr.Code)
	assert.Equal(t, "ART101", appErr.Details["subject_code"])

	assert.Equal(t, []string{"off-math"}, draft.Reserved())
	assert.Equal(t, 3, draft.TotalUnits())
}

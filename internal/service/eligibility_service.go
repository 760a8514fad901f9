package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
)

const minutesPerDay = 24 * 60

// UnitLoadPolicy bounds the total units of one enrollment.
type UnitLoadPolicy struct {
	RegularMinUnits int
	RegularMaxUnits int
	SummerMaxUnits  int
}

// DefaultUnitLoadPolicy is the load range used when none is configured.
func DefaultUnitLoadPolicy() UnitLoadPolicy {
	return UnitLoadPolicy{RegularMinUnits: 12, RegularMaxUnits: 24, SummerMaxUnits: 9}
}

// Bounds returns the inclusive unit range for the term.
func (p UnitLoadPolicy) Bounds(term models.Term) (int, int) {
	if term.IsSummer() {
		return 0, p.SummerMaxUnits
	}
	return p.RegularMinUnits, p.RegularMaxUnits
}

type seatReserver interface {
	Reserve(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error)
}

// EnrollmentDraft accumulates the subjects accepted so far for one creation request.
type EnrollmentDraft struct {
	Term     models.Term
	Entries  []DraftEntry
	passed   map[string]bool
	reserved []string
}

// DraftEntry is a subject and offering accepted into a draft.
type DraftEntry struct {
	Subject  *models.Subject
	Offering *models.Offering
}

// NewEnrollmentDraft starts a draft for the term from the student's academic history.
func NewEnrollmentDraft(term models.Term, history []models.AcademicRecord) *EnrollmentDraft {
	passed := make(map[string]bool, len(history))
	for _, record := range history {
		if record.Passed() {
			passed[record.SubjectID] = true
		}
	}
	return &EnrollmentDraft{Term: term, passed: passed}
}

// Reserved lists the offerings whose seats were taken while building the draft.
func (d *EnrollmentDraft) Reserved() []string {
	return append([]string(nil), d.reserved...)
}

// TotalUnits sums the units of accepted subjects.
func (d *EnrollmentDraft) TotalUnits() int {
	total := 0
	for _, entry := range d.Entries {
		total += entry.Subject.Units
	}
	return total
}

func (d *EnrollmentDraft) contains(subjectID string) bool {
	for _, entry := range d.Entries {
		if entry.Subject.ID == subjectID {
			return true
		}
	}
	return false
}

// EligibilityValidator decides whether a subject offering may join a draft.
type EligibilityValidator struct {
	ledger seatReserver
	policy UnitLoadPolicy
}

// NewEligibilityValidator constructs the validator.
func NewEligibilityValidator(ledger seatReserver, policy UnitLoadPolicy) *EligibilityValidator {
	if policy == (UnitLoadPolicy{}) {
		policy = DefaultUnitLoadPolicy()
	}
	return &EligibilityValidator{ledger: ledger, policy: policy}
}

// Admit runs the per-subject checks in order and reserves a seat when they pass.
// On success the entry is appended to the draft.
func (v *EligibilityValidator) Admit(ctx context.Context, exec sqlx.ExtContext, draft *EnrollmentDraft, subject *models.Subject, offering *models.Offering) error {
	if draft.contains(subject.ID) {
		return appErrors.WithDetails(appErrors.ErrValidation, fmt.Sprintf("subject %s requested more than once", subject.Code),
			map[string]interface{}{"subject_code": subject.Code})
	}
	if offering.Term() != draft.Term {
		return appErrors.WithDetails(appErrors.ErrValidation, fmt.Sprintf("offering of %s is not scheduled in %s", subject.Code, draft.Term),
			map[string]interface{}{"subject_code": subject.Code, "offering_id": offering.ID, "offering_term": offering.Term().String()})
	}
	if err := ValidateSchedule(subject.Code, offering.Schedule); err != nil {
		return err
	}
	if err := v.CheckPrerequisites(subject, draft.passed); err != nil {
		return err
	}
	candidate := DraftEntry{Subject: subject, Offering: offering}
	if err := v.CheckScheduleConflict(candidate, draft.Entries); err != nil {
		return err
	}
	if _, err := v.ledger.Reserve(ctx, exec, offering.ID); err != nil {
		return labelSeatError(err, subject.Code)
	}
	draft.reserved = append(draft.reserved, offering.ID)
	draft.Entries = append(draft.Entries, candidate)
	return nil
}

// CheckPrerequisites fails on the first prerequisite without a passing record.
func (v *EligibilityValidator) CheckPrerequisites(subject *models.Subject, passed map[string]bool) error {
	for _, prereq := range subject.Prerequisites {
		if passed[prereq.SubjectID] {
			continue
		}
		return appErrors.WithDetails(appErrors.ErrPrerequisiteNotMet,
			fmt.Sprintf("%s requires %s to be passed", subject.Code, prereq.Code),
			map[string]interface{}{"subject_code": subject.Code, "missing_prerequisite": prereq.Code})
	}
	return nil
}

// CheckScheduleConflict compares the candidate against every accepted entry in order.
func (v *EligibilityValidator) CheckScheduleConflict(candidate DraftEntry, accepted []DraftEntry) error {
	for _, existing := range accepted {
		for _, slot := range candidate.Offering.Schedule {
			for _, other := range existing.Offering.Schedule {
				if !slot.Overlaps(other) {
					continue
				}
				return appErrors.WithDetails(appErrors.ErrScheduleConflict,
					fmt.Sprintf("%s (%s) conflicts with %s (%s)", candidate.Subject.Code, slot, existing.Subject.Code, other),
					map[string]interface{}{
						"subject_code":             candidate.Subject.Code,
						"conflicting_subject_code": existing.Subject.Code,
						"day":                      string(slot.Day),
						"time":                     fmt.Sprintf("%s-%s", slot.Start, slot.End),
						"conflicting_time":         fmt.Sprintf("%s-%s", other.Start, other.End),
					})
			}
		}
	}
	return nil
}

// CheckUnitLoad validates the draft total against the term's bounds.
func (v *EligibilityValidator) CheckUnitLoad(term models.Term, totalUnits int) error {
	lower, upper := v.policy.Bounds(term)
	if totalUnits >= lower && totalUnits <= upper {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrUnitLoadInvalid,
		fmt.Sprintf("total units %d outside allowed range %d-%d for %s", totalUnits, lower, upper, term.Semester),
		map[string]interface{}{"total_units": totalUnits, "min_units": lower, "max_units": upper})
}

// ValidateSchedule rejects slots that are not a known weekday with start before end.
func ValidateSchedule(subjectCode string, slots []models.ScheduleSlot) error {
	for _, slot := range slots {
		if !validWeekday(slot.Day) || slot.Start < 0 || slot.End > minutesPerDay || slot.Start >= slot.End {
			return appErrors.WithDetails(appErrors.ErrValidation,
				fmt.Sprintf("offering of %s has an invalid schedule slot", subjectCode),
				map[string]interface{}{"subject_code": subjectCode, "slot": slot.String()})
		}
	}
	return nil
}

func validWeekday(day models.Weekday) bool {
	switch models.Weekday(strings.ToUpper(string(day))) {
	case models.Monday, models.Tuesday, models.Wednesday, models.Thursday, models.Friday, models.Saturday, models.Sunday:
		return true
	}
	return false
}

func labelSeatError(err error, subjectCode string) error {
	appErr := appErrors.FromError(err)
	switch appErr.Code {
	case appErrors.ErrCapacityExceeded.Code, appErrors.ErrOfferingClosed.Code, appErrors.ErrNotFound.Code:
	default:
		return err
	}
	details := map[string]interface{}{"subject_code": subjectCode}
	for k, val := range appErr.Details {
		details[k] = val
	}
	return appErrors.WithDetails(appErr, fmt.Sprintf("%s: %s", subjectCode, appErr.Message), details)
}

package models

import (
	"fmt"
	"regexp"
)

// Semester identifies the period within a school year.
type Semester string

const (
	SemesterFirst  Semester = "FIRST"
	SemesterSecond Semester = "SECOND"
	SemesterSummer Semester = "SUMMER"
)

var schoolYearPattern = regexp.MustCompile(`^\d{4}-\d{4}$`)

// Term is a (school-year, semester) pair identifying an academic period.
type Term struct {
	SchoolYear string   `db:"school_year" json:"school_year"`
	Semester   Semester `db:"semester" json:"semester"`
}

// IsSummer reports whether the term is a summer session.
func (t Term) IsSummer() bool {
	return t.Semester == SemesterSummer
}

// Valid reports whether both parts of the term are well formed.
func (t Term) Valid() bool {
	if !schoolYearPattern.MatchString(t.SchoolYear) {
		return false
	}
	switch t.Semester {
	case SemesterFirst, SemesterSecond, SemesterSummer:
		return true
	}
	return false
}

func (t Term) String() string {
	return fmt.Sprintf("%s/%s", t.SchoolYear, t.Semester)
}

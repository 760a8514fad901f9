package models

import "strings"

// RemarkPassed is the academic-history remark that satisfies a prerequisite.
const RemarkPassed = "Passed"

// Student is the subset of the student record this service reads.
type Student struct {
	ID        string `db:"id" json:"id"`
	StudentNo string `db:"student_no" json:"student_no"`
	FullName  string `db:"full_name" json:"full_name"`
	Active    bool   `db:"active" json:"active"`
}

// AcademicRecord is one line of a student's academic history.
type AcademicRecord struct {
	SubjectID string `db:"subject_id" json:"subject_id"`
	Remark    string `db:"remark" json:"remark"`
}

// Passed reports whether the record counts towards prerequisites.
func (r AcademicRecord) Passed() bool {
	return strings.EqualFold(strings.TrimSpace(r.Remark), RemarkPassed)
}

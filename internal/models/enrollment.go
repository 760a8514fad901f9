package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved  EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected  EnrollmentStatus = "REJECTED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// EnrollmentSubjectStatus tracks a single subject inside an enrollment.
type EnrollmentSubjectStatus string

const (
	SubjectStatusEnrolled  EnrollmentSubjectStatus = "ENROLLED"
	SubjectStatusDropped   EnrollmentSubjectStatus = "DROPPED"
	SubjectStatusCompleted EnrollmentSubjectStatus = "COMPLETED"
)

// PaymentPlan selects how the tuition invoice is settled.
type PaymentPlan string

const (
	PaymentPlanFull        PaymentPlan = "FULL_PAYMENT"
	PaymentPlanInstallment PaymentPlan = "INSTALLMENT"
)

// Enrollment captures one student's registration for one term.
type Enrollment struct {
	ID           string              `db:"id" json:"id"`
	StudentID    string              `db:"student_id" json:"student_id"`
	SchoolYear   string              `db:"school_year" json:"school_year"`
	Semester     Semester            `db:"semester" json:"semester"`
	TotalUnits   int                 `db:"total_units" json:"total_units"`
	PaymentPlan  PaymentPlan         `db:"payment_plan" json:"payment_plan"`
	Status       EnrollmentStatus    `db:"status" json:"status"`
	CreatedBy    string              `db:"created_by" json:"created_by"`
	ReviewedBy   *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	RejectReason *string             `db:"reject_reason" json:"reject_reason,omitempty"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updated_at"`
	Subjects     []EnrollmentSubject `db:"-" json:"subjects"`
}

// EnrollmentSubject is one subject/offering pair inside an enrollment.
type EnrollmentSubject struct {
	ID           string                  `db:"id" json:"id"`
	EnrollmentID string                  `db:"enrollment_id" json:"enrollment_id"`
	Position     int                     `db:"position" json:"position"`
	SubjectID    string                  `db:"subject_id" json:"subject_id"`
	SubjectCode  string                  `db:"subject_code" json:"subject_code"`
	OfferingID   string                  `db:"offering_id" json:"offering_id"`
	Units        int                     `db:"units" json:"units"`
	HasLab       bool                    `db:"has_lab" json:"has_lab"`
	Status       EnrollmentSubjectStatus `db:"status" json:"status"`
	DroppedAt    *time.Time              `db:"dropped_at" json:"dropped_at,omitempty"`
}

// Term returns the academic period of the enrollment.
func (e *Enrollment) Term() Term {
	return Term{SchoolYear: e.SchoolYear, Semester: e.Semester}
}

// HeldSeats lists the offering IDs whose seats this enrollment still occupies.
func (e *Enrollment) HeldSeats() []string {
	if e.Status == EnrollmentStatusRejected {
		return nil
	}
	var held []string
	for _, s := range e.Subjects {
		if s.Status != SubjectStatusDropped {
			held = append(held, s.OfferingID)
		}
	}
	return held
}

// SubjectEntry returns the entry for the given subject.
func (e *Enrollment) SubjectEntry(subjectID string) (*EnrollmentSubject, bool) {
	for i := range e.Subjects {
		if e.Subjects[i].SubjectID == subjectID {
			return &e.Subjects[i], true
		}
	}
	return nil, false
}

// AllowsDrop reports whether subjects may still be dropped individually.
func (e *Enrollment) AllowsDrop() bool {
	return e.Status == EnrollmentStatusPending || e.Status == EnrollmentStatusApproved
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID  string
	SchoolYear string
	Semester   Semester
	Status     EnrollmentStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

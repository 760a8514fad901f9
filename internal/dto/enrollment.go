package dto

import "github.com/noah-isme/enrollment-billing-api/internal/models"

// RequestedSubject names one subject and the offering (section) the student wants.
type RequestedSubject struct {
	SubjectID  string `json:"subjectId" validate:"required"`
	OfferingID string `json:"offeringId" validate:"required"`
}

// CreateEnrollmentRequest is the payload for registering a student for a term.
type CreateEnrollmentRequest struct {
	StudentID   string             `json:"studentId" validate:"required"`
	SchoolYear  string             `json:"schoolYear" validate:"required"`
	Semester    models.Semester    `json:"semester" validate:"required,oneof=FIRST SECOND SUMMER"`
	PaymentPlan models.PaymentPlan `json:"paymentPlan" validate:"required,oneof=FULL_PAYMENT INSTALLMENT"`
	Subjects    []RequestedSubject `json:"subjects" validate:"required,min=1,dive"`
}

// Term returns the requested academic period.
func (r CreateEnrollmentRequest) Term() models.Term {
	return models.Term{SchoolYear: r.SchoolYear, Semester: r.Semester}
}

// RejectEnrollmentRequest carries the reviewer's reason.
type RejectEnrollmentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// SeatAvailabilityResponse is returned by the offering seats endpoint.
type SeatAvailabilityResponse struct {
	OfferingID string `json:"offeringId"`
	Capacity   int    `json:"capacity"`
	Occupied   int    `json:"occupied"`
	Remaining  int    `json:"remaining"`
	IsOpen     bool   `json:"isOpen"`
}

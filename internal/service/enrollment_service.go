package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-billing-api/internal/dto"
	"github.com/noah-isme/enrollment-billing-api/internal/models"
	"github.com/noah-isme/enrollment-billing-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
)

const (
	enrollmentOpCreate   = "create"
	enrollmentOpApprove  = "approve"
	enrollmentOpReject   = "reject"
	enrollmentOpDrop     = "drop_subject"
	enrollmentOpComplete = "complete"
	enrollmentOpDelete   = "delete"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
	ExistsForTerm(ctx context.Context, studentID string, term models.Term) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	UpdateReview(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	DropSubject(ctx context.Context, exec sqlx.ExtContext, enrollmentID, entryID string, totalUnits int, droppedAt time.Time) error
	CompleteSubjects(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type studentDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	AcademicHistory(ctx context.Context, studentID string) ([]models.AcademicRecord, error)
}

type catalogReader interface {
	FindSubject(ctx context.Context, id string) (*models.Subject, error)
	FindOffering(ctx context.Context, subjectID, offeringID string) (*models.Offering, error)
}

type seatLedger interface {
	Reserve(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error)
	Release(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error)
}

type invoiceCreator interface {
	CreateForEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) (*models.Invoice, error)
}

// EnrollmentService runs the enrollment lifecycle. Every operation is one database
// transaction; seat changes go through the ledger on that same transaction.
type EnrollmentService struct {
	repo        enrollmentRepository
	students    studentDirectory
	catalog     catalogReader
	ledger      seatLedger
	eligibility *EligibilityValidator
	invoices    invoiceCreator
	tx          txProvider
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentDirectory, catalog catalogReader, ledger seatLedger, policy UnitLoadPolicy, invoices invoiceCreator, tx txProvider, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:        repo,
		students:    students,
		catalog:     catalog,
		ledger:      ledger,
		eligibility: NewEligibilityValidator(ledger, policy),
		invoices:    invoices,
		tx:          tx,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one enrollment. Students may only read their own.
func (s *EnrollmentService) Get(ctx context.Context, id string, actor models.Actor) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.loadError(err)
	}
	if err := authorizeOwner(enrollment, actor); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Create validates the requested subjects in order, reserving a seat for each one that
// passes, and persists the enrollment. Administrators create approved enrollments together
// with their invoice. On any failure every seat taken by this attempt is released.
func (s *EnrollmentService) Create(ctx context.Context, req dto.CreateEnrollmentRequest, actor models.Actor) (enrollment *models.Enrollment, err error) {
	defer func() { s.record(enrollmentOpCreate, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if actor.Role == models.RoleStudent && req.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only enroll themselves")
	}
	term := req.Term()
	if !term.Valid() {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "school year must be formatted as YYYY-YYYY",
			map[string]interface{}{"school_year": req.SchoolYear})
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not active")
	}

	exists, err := s.repo.ExistsForTerm(ctx, student.ID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if exists {
		return nil, duplicateEnrollmentError(student.ID, term)
	}

	history, err := s.students.AcademicHistory(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic history")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	draft := NewEnrollmentDraft(term, history)
	// Once a statement has failed inside the transaction postgres rejects every further
	// statement until rollback, and rollback alone undoes the reservations.
	aborted := false
	defer func() {
		if err != nil {
			if !aborted {
				s.compensate(ctx, tx, draft.Reserved())
			}
			_ = tx.Rollback()
		}
	}()

	for _, requested := range req.Subjects {
		var subject *models.Subject
		if subject, err = s.catalog.FindSubject(ctx, requested.SubjectID); err != nil {
			err = catalogError(err, "subject", requested.SubjectID)
			return nil, err
		}
		var offering *models.Offering
		if offering, err = s.catalog.FindOffering(ctx, subject.ID, requested.OfferingID); err != nil {
			err = catalogError(err, "offering", requested.OfferingID)
			return nil, err
		}
		if err = s.eligibility.Admit(ctx, tx, draft, subject, offering); err != nil {
			aborted = failedInTx(err)
			return nil, err
		}
	}
	if err = s.eligibility.CheckUnitLoad(term, draft.TotalUnits()); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	enrollment = &models.Enrollment{
		StudentID:   student.ID,
		SchoolYear:  term.SchoolYear,
		Semester:    term.Semester,
		TotalUnits:  draft.TotalUnits(),
		PaymentPlan: req.PaymentPlan,
		Status:      models.EnrollmentStatusPending,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
	}
	if actor.Role.IsAdministrator() {
		reviewer := actor.UserID
		enrollment.Status = models.EnrollmentStatusApproved
		enrollment.ReviewedBy = &reviewer
		enrollment.ReviewedAt = &now
	}
	for _, entry := range draft.Entries {
		enrollment.Subjects = append(enrollment.Subjects, models.EnrollmentSubject{
			SubjectID:   entry.Subject.ID,
			SubjectCode: entry.Subject.Code,
			OfferingID:  entry.Offering.ID,
			Units:       entry.Subject.Units,
			HasLab:      entry.Subject.HasLab,
			Status:      models.SubjectStatusEnrolled,
		})
	}

	if err = s.repo.Create(ctx, tx, enrollment); err != nil {
		aborted = true
		if errors.Is(err, repository.ErrUniqueViolation) {
			err = duplicateEnrollmentError(student.ID, term)
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusApproved {
		if _, err = s.invoices.CreateForEnrollment(ctx, tx, enrollment); err != nil {
			aborted = failedInTx(err)
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		aborted = true
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrollment")
		return nil, err
	}

	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("term", term.String()),
		zap.Int("total_units", enrollment.TotalUnits),
		zap.String("status", string(enrollment.Status)))
	return enrollment, nil
}

// Approve moves a pending enrollment to approved and creates its invoice in the same transaction.
func (s *EnrollmentService) Approve(ctx context.Context, id string, actor models.Actor) (enrollment *models.Enrollment, err error) {
	defer func() { s.record(enrollmentOpApprove, err) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if enrollment, err = s.lock(ctx, tx, id); err != nil {
		return nil, err
	}
	if err = requireStatus(enrollment, models.EnrollmentStatusApproved, models.EnrollmentStatusPending); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reviewer := actor.UserID
	enrollment.Status = models.EnrollmentStatusApproved
	enrollment.ReviewedBy = &reviewer
	enrollment.ReviewedAt = &now
	if err = s.repo.UpdateReview(ctx, tx, enrollment); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve enrollment")
		return nil, err
	}
	if _, err = s.invoices.CreateForEnrollment(ctx, tx, enrollment); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit approval")
		return nil, err
	}

	s.logger.Info("enrollment approved", zap.String("enrollment_id", id), zap.String("approver_id", actor.UserID))
	return enrollment, nil
}

// Reject moves a pending enrollment to rejected and releases every seat it holds.
func (s *EnrollmentService) Reject(ctx context.Context, id string, req dto.RejectEnrollmentRequest, actor models.Actor) (enrollment *models.Enrollment, err error) {
	defer func() { s.record(enrollmentOpReject, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if enrollment, err = s.lock(ctx, tx, id); err != nil {
		return nil, err
	}
	if err = requireStatus(enrollment, models.EnrollmentStatusRejected, models.EnrollmentStatusPending); err != nil {
		return nil, err
	}
	if err = s.releaseAll(ctx, tx, enrollment.HeldSeats()); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reviewer := actor.UserID
	reason := strings.TrimSpace(req.Reason)
	enrollment.Status = models.EnrollmentStatusRejected
	enrollment.ReviewedBy = &reviewer
	enrollment.ReviewedAt = &now
	enrollment.RejectReason = &reason
	if err = s.repo.UpdateReview(ctx, tx, enrollment); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject enrollment")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit rejection")
		return nil, err
	}

	s.logger.Info("enrollment rejected", zap.String("enrollment_id", id), zap.String("reviewer_id", actor.UserID))
	return enrollment, nil
}

// DropSubject drops one enrolled subject, releasing its seat and reducing the unit total.
// The invoice, if any, is left as issued.
func (s *EnrollmentService) DropSubject(ctx context.Context, id, subjectID string, actor models.Actor) (enrollment *models.Enrollment, err error) {
	defer func() { s.record(enrollmentOpDrop, err) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if enrollment, err = s.lock(ctx, tx, id); err != nil {
		return nil, err
	}
	if err = authorizeOwner(enrollment, actor); err != nil {
		return nil, err
	}
	if !enrollment.AllowsDrop() {
		err = appErrors.WithDetails(appErrors.ErrInvalidStateTransition,
			fmt.Sprintf("subjects cannot be dropped from a %s enrollment", strings.ToLower(string(enrollment.Status))),
			map[string]interface{}{"enrollment_id": id, "status": string(enrollment.Status)})
		return nil, err
	}
	entry, ok := enrollment.SubjectEntry(subjectID)
	if !ok {
		err = appErrors.WithDetails(appErrors.ErrNotFound, "subject is not part of this enrollment",
			map[string]interface{}{"enrollment_id": id, "subject_id": subjectID})
		return nil, err
	}
	if entry.Status != models.SubjectStatusEnrolled {
		err = appErrors.WithDetails(appErrors.ErrInvalidStateTransition, fmt.Sprintf("%s is already %s", entry.SubjectCode, strings.ToLower(string(entry.Status))),
			map[string]interface{}{"subject_code": entry.SubjectCode, "status": string(entry.Status)})
		return nil, err
	}

	if _, err = s.ledger.Release(ctx, tx, entry.OfferingID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	entry.Status = models.SubjectStatusDropped
	entry.DroppedAt = &now
	enrollment.TotalUnits -= entry.Units
	if err = s.repo.DropSubject(ctx, tx, enrollment.ID, entry.ID, enrollment.TotalUnits, now); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop subject")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit subject drop")
		return nil, err
	}
	enrollment.UpdatedAt = now

	s.logger.Info("enrollment subject dropped",
		zap.String("enrollment_id", id),
		zap.String("subject_code", entry.SubjectCode),
		zap.Int("total_units", enrollment.TotalUnits))
	return enrollment, nil
}

// Complete closes an approved enrollment at the end of the term.
func (s *EnrollmentService) Complete(ctx context.Context, id string, actor models.Actor) (enrollment *models.Enrollment, err error) {
	defer func() { s.record(enrollmentOpComplete, err) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if enrollment, err = s.lock(ctx, tx, id); err != nil {
		return nil, err
	}
	if err = requireStatus(enrollment, models.EnrollmentStatusCompleted, models.EnrollmentStatusApproved); err != nil {
		return nil, err
	}
	enrollment.Status = models.EnrollmentStatusCompleted
	if err = s.repo.UpdateReview(ctx, tx, enrollment); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
		return nil, err
	}
	if err = s.repo.CompleteSubjects(ctx, tx, enrollment.ID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment subjects")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit completion")
		return nil, err
	}
	for i := range enrollment.Subjects {
		if enrollment.Subjects[i].Status == models.SubjectStatusEnrolled {
			enrollment.Subjects[i].Status = models.SubjectStatusCompleted
		}
	}

	s.logger.Info("enrollment completed", zap.String("enrollment_id", id), zap.String("actor_id", actor.UserID))
	return enrollment, nil
}

// Delete releases the seats still held by an enrollment and removes it. Its invoice is kept.
func (s *EnrollmentService) Delete(ctx context.Context, id string, actor models.Actor) (err error) {
	defer func() { s.record(enrollmentOpDelete, err) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	enrollment, err := s.lock(ctx, tx, id)
	if err != nil {
		return err
	}
	held := enrollment.HeldSeats()
	if err = s.releaseAll(ctx, tx, held); err != nil {
		return err
	}
	if err = s.repo.Delete(ctx, tx, id); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
		return err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit deletion")
		return err
	}

	s.logger.Info("enrollment deleted",
		zap.String("enrollment_id", id),
		zap.String("actor_id", actor.UserID),
		zap.Int("released_seats", len(held)))
	return nil
}

func (s *EnrollmentService) lock(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByIDForUpdate(ctx, exec, id)
	if err != nil {
		return nil, s.loadError(err)
	}
	return enrollment, nil
}

func (s *EnrollmentService) loadError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
}

func (s *EnrollmentService) releaseAll(ctx context.Context, exec sqlx.ExtContext, offeringIDs []string) error {
	for _, offeringID := range offeringIDs {
		if _, err := s.ledger.Release(ctx, exec, offeringID); err != nil {
			return err
		}
	}
	return nil
}

// compensate gives back seats reserved by a failed create before the transaction is rolled back.
func (s *EnrollmentService) compensate(ctx context.Context, exec sqlx.ExtContext, offeringIDs []string) {
	for _, offeringID := range offeringIDs {
		if _, err := s.ledger.Release(ctx, exec, offeringID); err != nil {
			s.logger.Warn("seat compensation failed", zap.String("offering_id", offeringID), zap.Error(err))
		}
	}
}

// failedInTx reports whether err came from a statement the database rejected, as opposed
// to a business rule decided in Go.
func failedInTx(err error) bool {
	return appErrors.FromError(err).Status >= appErrors.ErrInternal.Status
}

func (s *EnrollmentService) record(operation string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.RecordEnrollmentOperation(operation, outcome)
}

func requireStatus(enrollment *models.Enrollment, target models.EnrollmentStatus, allowed models.EnrollmentStatus) error {
	if enrollment.Status == allowed {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrInvalidStateTransition,
		fmt.Sprintf("cannot move enrollment from %s to %s", enrollment.Status, target),
		map[string]interface{}{"enrollment_id": enrollment.ID, "from": string(enrollment.Status), "to": string(target)})
}

func authorizeOwner(enrollment *models.Enrollment, actor models.Actor) error {
	if actor.Role == models.RoleStudent && enrollment.StudentID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
	}
	return nil
}

func duplicateEnrollmentError(studentID string, term models.Term) error {
	return appErrors.WithDetails(appErrors.ErrDuplicateEnrollment, "",
		map[string]interface{}{"student_id": studentID, "school_year": term.SchoolYear, "semester": string(term.Semester)})
}

func catalogError(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.WithDetails(appErrors.ErrNotFound, fmt.Sprintf("%s not found", kind), map[string]interface{}{kind + "_id": id})
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to load %s", kind))
}

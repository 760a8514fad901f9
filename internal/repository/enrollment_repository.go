package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

const enrollmentColumns = `id, student_id, school_year, semester, total_units, payment_plan, status, created_by,
        reviewed_by, reviewed_at, reject_reason, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments and their subject entries.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SchoolYear != "" {
		conditions = append(conditions, fmt.Sprintf("school_year = $%d", len(args)+1))
		args = append(args, filter.SchoolYear)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":  "created_at",
		"total_units": "total_units",
		"status":      "status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY %s %s LIMIT %d OFFSET %d`, enrollmentColumns, clause, orderBy, order, size, offset)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM enrollments%s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment with its subject entries.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.find(ctx, r.db, id, false)
}

// FindByIDForUpdate locks the enrollment row for the remainder of the transaction.
func (r *EnrollmentRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	return r.find(ctx, exec, id, true)
}

func (r *EnrollmentRepository) find(ctx context.Context, exec sqlx.ExtContext, id string, lock bool) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	if lock {
		query += " FOR UPDATE"
	}
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, exec, &enrollment, query, id); err != nil {
		return nil, err
	}

	const subjectsQuery = `SELECT id, enrollment_id, position, subject_id, subject_code, offering_id, units, has_lab, status, dropped_at
FROM enrollment_subjects WHERE enrollment_id = $1 ORDER BY position`
	enrollment.Subjects = []models.EnrollmentSubject{}
	if err := sqlx.SelectContext(ctx, exec, &enrollment.Subjects, subjectsQuery, id); err != nil {
		return nil, fmt.Errorf("list enrollment subjects: %w", err)
	}
	return &enrollment, nil
}

// ExistsForTerm checks whether the student already has an enrollment for the term.
func (r *EnrollmentRepository) ExistsForTerm(ctx context.Context, studentID string, term models.Term) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND school_year = $2 AND semester = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, term.SchoolYear, term.Semester); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment for term: %w", err)
	}
	return true, nil
}

// Create persists an enrollment and its subject entries on the given executor. A second
// enrollment for the same student and term yields ErrUniqueViolation.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	now := time.Now().UTC()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = enrollment.CreatedAt

	const query = `INSERT INTO enrollments (id, student_id, school_year, semester, total_units, payment_plan, status, created_by,
        reviewed_by, reviewed_at, reject_reason, created_at, updated_at)
        VALUES (:id, :student_id, :school_year, :semester, :total_units, :payment_plan, :status, :created_by,
        :reviewed_by, :reviewed_at, :reject_reason, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create enrollment: %w", ErrUniqueViolation)
		}
		return fmt.Errorf("create enrollment: %w", err)
	}

	const subjectQuery = `INSERT INTO enrollment_subjects (id, enrollment_id, position, subject_id, subject_code, offering_id, units, has_lab, status, dropped_at)
        VALUES (:id, :enrollment_id, :position, :subject_id, :subject_code, :offering_id, :units, :has_lab, :status, :dropped_at)`
	for i := range enrollment.Subjects {
		entry := &enrollment.Subjects[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.EnrollmentID = enrollment.ID
		entry.Position = i + 1
		if _, err := sqlx.NamedExecContext(ctx, exec, subjectQuery, entry); err != nil {
			return fmt.Errorf("create enrollment subject %s: %w", entry.SubjectCode, err)
		}
	}
	return nil
}

// UpdateReview persists status, reviewer and rejection reason.
func (r *EnrollmentRepository) UpdateReview(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollments SET status = $2, reviewed_by = $3, reviewed_at = $4, reject_reason = $5, updated_at = $6 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, enrollment.ID, enrollment.Status, enrollment.ReviewedBy, enrollment.ReviewedAt, enrollment.RejectReason, enrollment.UpdatedAt); err != nil {
		return fmt.Errorf("update enrollment review: %w", err)
	}
	return nil
}

// DropSubject marks one entry dropped and stores the reduced unit total.
func (r *EnrollmentRepository) DropSubject(ctx context.Context, exec sqlx.ExtContext, enrollmentID, entryID string, totalUnits int, droppedAt time.Time) error {
	const entryQuery = `UPDATE enrollment_subjects SET status = $3, dropped_at = $4 WHERE id = $1 AND enrollment_id = $2`
	if _, err := exec.ExecContext(ctx, entryQuery, entryID, enrollmentID, models.SubjectStatusDropped, droppedAt); err != nil {
		return fmt.Errorf("drop enrollment subject: %w", err)
	}
	const unitsQuery = `UPDATE enrollments SET total_units = $2, updated_at = $3 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, unitsQuery, enrollmentID, totalUnits, droppedAt); err != nil {
		return fmt.Errorf("update enrollment units: %w", err)
	}
	return nil
}

// CompleteSubjects marks every still-enrolled entry completed.
func (r *EnrollmentRepository) CompleteSubjects(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) error {
	const query = `UPDATE enrollment_subjects SET status = $2 WHERE enrollment_id = $1 AND status = $3`
	if _, err := exec.ExecContext(ctx, query, enrollmentID, models.SubjectStatusCompleted, models.SubjectStatusEnrolled); err != nil {
		return fmt.Errorf("complete enrollment subjects: %w", err)
	}
	return nil
}

// Delete removes an enrollment and its entries.
func (r *EnrollmentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM enrollment_subjects WHERE enrollment_id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment subjects: %w", err)
	}
	if _, err := exec.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

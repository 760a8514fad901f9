package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

// StudentRepository reads student records and academic history.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, student_no, full_name, active FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// AcademicHistory returns every recorded subject outcome for the student.
func (r *StudentRepository) AcademicHistory(ctx context.Context, studentID string) ([]models.AcademicRecord, error) {
	const query = `SELECT subject_id, remark FROM academic_records WHERE student_id = $1 ORDER BY recorded_at`
	var records []models.AcademicRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list academic history: %w", err)
	}
	return records, nil
}

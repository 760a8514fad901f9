package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

// SubjectRepository reads the subject and offering catalog.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository constructs the repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// FindByID returns a subject with its prerequisites.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	const query = `SELECT id, code, title, units, has_lab FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}

	const prereqQuery = `SELECT p.prerequisite_id, s.code FROM subject_prerequisites p
JOIN subjects s ON s.id = p.prerequisite_id
WHERE p.subject_id = $1 ORDER BY s.code`
	subject.Prerequisites = []models.Prerequisite{}
	if err := r.db.SelectContext(ctx, &subject.Prerequisites, prereqQuery, id); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return &subject, nil
}

// FindOffering returns an offering of the subject together with its weekly schedule.
func (r *SubjectRepository) FindOffering(ctx context.Context, subjectID, offeringID string) (*models.Offering, error) {
	const query = `SELECT id, subject_id, school_year, semester, section, room, instructor_id, capacity, occupied, is_open
FROM offerings WHERE id = $1 AND subject_id = $2`
	var offering models.Offering
	if err := r.db.GetContext(ctx, &offering, query, offeringID, subjectID); err != nil {
		return nil, err
	}

	const scheduleQuery = `SELECT day, start_minute, end_minute FROM offering_schedules WHERE offering_id = $1 ORDER BY day, start_minute`
	offering.Schedule = []models.ScheduleSlot{}
	if err := r.db.SelectContext(ctx, &offering.Schedule, scheduleQuery, offeringID); err != nil {
		return nil, fmt.Errorf("list offering schedule: %w", err)
	}
	return &offering, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

// OfferingRepository owns the seat counters of offerings.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

// IncrementOccupied takes one seat if the offering is open and not full. The guard and
// the increment are a single statement, so concurrent callers serialize on the row.
// sql.ErrNoRows means the guard did not match.
func (r *OfferingRepository) IncrementOccupied(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error) {
	const query = `UPDATE offerings SET occupied = occupied + 1, updated_at = NOW()
WHERE id = $1 AND is_open = TRUE AND occupied < capacity
RETURNING occupied`
	var occupied int
	if err := sqlx.GetContext(ctx, r.executor(exec), &occupied, query, offeringID); err != nil {
		return 0, fmt.Errorf("increment occupied: %w", err)
	}
	return occupied, nil
}

// DecrementOccupied gives one seat back, never going below zero.
func (r *OfferingRepository) DecrementOccupied(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error) {
	const query = `UPDATE offerings SET occupied = GREATEST(occupied - 1, 0), updated_at = NOW()
WHERE id = $1
RETURNING occupied`
	var occupied int
	if err := sqlx.GetContext(ctx, r.executor(exec), &occupied, query, offeringID); err != nil {
		return 0, fmt.Errorf("decrement occupied: %w", err)
	}
	return occupied, nil
}

// FindSeats returns the seat counters of an offering.
func (r *OfferingRepository) FindSeats(ctx context.Context, exec sqlx.ExtContext, offeringID string) (*models.SeatAvailability, error) {
	const query = `SELECT id, capacity, occupied, is_open FROM offerings WHERE id = $1`
	var seats models.SeatAvailability
	if err := sqlx.GetContext(ctx, r.executor(exec), &seats, query, offeringID); err != nil {
		return nil, err
	}
	return &seats, nil
}

func (r *OfferingRepository) executor(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

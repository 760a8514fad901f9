package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
)

const (
	ledgerOpReserve = "reserve"
	ledgerOpRelease = "release"
)

type seatStore interface {
	IncrementOccupied(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error)
	DecrementOccupied(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error)
	FindSeats(ctx context.Context, exec sqlx.ExtContext, offeringID string) (*models.SeatAvailability, error)
}

// SeatLedger is the only writer of offering occupancy. Reserve and Release run on the
// caller's executor so the counter change commits with the enrollment rows that own it.
type SeatLedger struct {
	store   seatStore
	metrics *MetricsService
	logger  *zap.Logger
}

// NewSeatLedger constructs the ledger.
func NewSeatLedger(store seatStore, metrics *MetricsService, logger *zap.Logger) *SeatLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeatLedger{store: store, metrics: metrics, logger: logger}
}

// Reserve takes one seat of an open offering that is not full and returns the new occupied count.
func (l *SeatLedger) Reserve(ctx context.Context, exec sqlx.ExtContext, offeringID string) (occupied int, err error) {
	start := time.Now()
	defer func() { l.record(ledgerOpReserve, err, time.Since(start)) }()

	occupied, err = l.store.IncrementOccupied(ctx, exec, offeringID)
	if err == nil {
		return occupied, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
	}

	seats, lookupErr := l.store.FindSeats(ctx, exec, offeringID)
	if lookupErr != nil {
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return 0, appErrors.WithDetails(appErrors.ErrNotFound, "offering not found", map[string]interface{}{"offering_id": offeringID})
		}
		return 0, appErrors.Wrap(lookupErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering seats")
	}
	details := map[string]interface{}{
		"offering_id": offeringID,
		"capacity":    seats.Capacity,
		"occupied":    seats.Occupied,
	}
	if !seats.IsOpen {
		return 0, appErrors.WithDetails(appErrors.ErrOfferingClosed, "", details)
	}
	return 0, appErrors.WithDetails(appErrors.ErrCapacityExceeded, "", details)
}

// Release gives back one seat. Occupancy never drops below zero, so a repeated release is harmless.
func (l *SeatLedger) Release(ctx context.Context, exec sqlx.ExtContext, offeringID string) (occupied int, err error) {
	start := time.Now()
	defer func() { l.record(ledgerOpRelease, err, time.Since(start)) }()

	occupied, err = l.store.DecrementOccupied(ctx, exec, offeringID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.WithDetails(appErrors.ErrNotFound, "offering not found", map[string]interface{}{"offering_id": offeringID})
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release seat")
	}
	return occupied, nil
}

// Availability returns the current seat counters of an offering.
func (l *SeatLedger) Availability(ctx context.Context, offeringID string) (*models.SeatAvailability, error) {
	seats, err := l.store.FindSeats(ctx, nil, offeringID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering seats")
	}
	return seats, nil
}

func (l *SeatLedger) record(operation string, err error, duration time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = appErrors.FromError(err).Code
		l.logger.Debug("seat ledger operation failed", zap.String("operation", operation), zap.Error(err))
	}
	l.metrics.RecordLedgerOperation(operation, outcome, duration)
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
	"github.com/noah-isme/enrollment-billing-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
)

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type memSeat struct {
	capacity int
	occupied int
	open     bool
}

// memSeatStore mirrors the guarded UPDATE statements of the offering repository.
type memSeatStore struct {
	mu         sync.Mutex
	seats      map[string]*memSeat
	decrements int
}

func newMemSeatStore() *memSeatStore {
	return &memSeatStore{seats: map[string]*memSeat{}}
}

func (m *memSeatStore) add(id string, capacity, occupied int, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seats[id] = &memSeat{capacity: capacity, occupied: occupied, open: open}
}

func (m *memSeatStore) decrementCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrements
}

func (m *memSeatStore) occupied(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seats[id].occupied
}

func (m *memSeatStore) IncrementOccupied(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seat, ok := m.seats[offeringID]
	if !ok || !seat.open || seat.occupied >= seat.capacity {
		return 0, fmt.Errorf("increment occupied: %w", sql.ErrNoRows)
	}
	seat.occupied++
	return seat.occupied, nil
}

func (m *memSeatStore) DecrementOccupied(ctx context.Context, exec sqlx.ExtContext, offeringID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrements++
	seat, ok := m.seats[offeringID]
	if !ok {
		return 0, fmt.Errorf("decrement occupied: %w", sql.ErrNoRows)
	}
	if seat.occupied > 0 {
		seat.occupied--
	}
	return seat.occupied, nil
}

func (m *memSeatStore) FindSeats(ctx context.Context, exec sqlx.ExtContext, offeringID string) (*models.SeatAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seat, ok := m.seats[offeringID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.SeatAvailability{OfferingID: offeringID, Capacity: seat.capacity, Occupied: seat.occupied, IsOpen: seat.open}, nil
}

type fakeEnrollmentRepo struct {
	enrollments map[string]*models.Enrollment
	createErr   error
	seq         int
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{enrollments: map[string]*models.Enrollment{}}
}

func cloneEnrollment(e *models.Enrollment) *models.Enrollment {
	copied := *e
	copied.Subjects = append([]models.EnrollmentSubject(nil), e.Subjects...)
	return &copied
}

func (f *fakeEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var items []models.Enrollment
	for _, e := range f.enrollments {
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		items = append(items, *cloneEnrollment(e))
	}
	return items, len(items), nil
}

func (f *fakeEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	e, ok := f.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneEnrollment(e), nil
}

func (f *fakeEnrollmentRepo) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeEnrollmentRepo) ExistsForTerm(ctx context.Context, studentID string, term models.Term) (bool, error) {
	for _, e := range f.enrollments {
		if e.StudentID == studentID && e.Term() == term {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEnrollmentRepo) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if f.createErr != nil {
		return f.createErr
	}
	if exists, _ := f.ExistsForTerm(ctx, enrollment.StudentID, enrollment.Term()); exists {
		return fmt.Errorf("create enrollment: %w", repository.ErrUniqueViolation)
	}
	f.seq++
	enrollment.ID = fmt.Sprintf("enr-%d", f.seq)
	for i := range enrollment.Subjects {
		enrollment.Subjects[i].ID = fmt.Sprintf("%s-es-%d", enrollment.ID, i+1)
		enrollment.Subjects[i].EnrollmentID = enrollment.ID
		enrollment.Subjects[i].Position = i + 1
	}
	f.enrollments[enrollment.ID] = cloneEnrollment(enrollment)
	return nil
}

func (f *fakeEnrollmentRepo) UpdateReview(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	stored := f.enrollments[enrollment.ID]
	stored.Status = enrollment.Status
	stored.ReviewedBy = enrollment.ReviewedBy
	stored.ReviewedAt = enrollment.ReviewedAt
	stored.RejectReason = enrollment.RejectReason
	return nil
}

func (f *fakeEnrollmentRepo) DropSubject(ctx context.Context, exec sqlx.ExtContext, enrollmentID, entryID string, totalUnits int, droppedAt time.Time) error {
	stored := f.enrollments[enrollmentID]
	for i := range stored.Subjects {
		if stored.Subjects[i].ID == entryID {
			stored.Subjects[i].Status = models.SubjectStatusDropped
			stored.Subjects[i].DroppedAt = &droppedAt
		}
	}
	stored.TotalUnits = totalUnits
	return nil
}

func (f *fakeEnrollmentRepo) CompleteSubjects(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) error {
	stored := f.enrollments[enrollmentID]
	for i := range stored.Subjects {
		if stored.Subjects[i].Status == models.SubjectStatusEnrolled {
			stored.Subjects[i].Status = models.SubjectStatusCompleted
		}
	}
	return nil
}

func (f *fakeEnrollmentRepo) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	delete(f.enrollments, id)
	return nil
}

type fakeStudents struct {
	students map[string]*models.Student
	history  map[string][]models.AcademicRecord
}

func (f *fakeStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeStudents) AcademicHistory(ctx context.Context, studentID string) ([]models.AcademicRecord, error) {
	return f.history[studentID], nil
}

type fakeCatalog struct {
	subjects  map[string]*models.Subject
	offerings map[string]*models.Offering
}

func (f *fakeCatalog) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	s, ok := f.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (f *fakeCatalog) FindOffering(ctx context.Context, subjectID, offeringID string) (*models.Offering, error) {
	o, ok := f.offerings[offeringID]
	if !ok || o.SubjectID != subjectID {
		return nil, sql.ErrNoRows
	}
	copied := *o
	return &copied, nil
}

type fakeInvoiceStore struct {
	byID         map[string]*models.Invoice
	byEnrollment map[string]string
	createCalls  int
	payments     int
	discounts    int
	// afterFind runs once after the next FindByID has taken its snapshot.
	afterFind func()
}

func newFakeInvoiceStore() *fakeInvoiceStore {
	return &fakeInvoiceStore{byID: map[string]*models.Invoice{}, byEnrollment: map[string]string{}}
}

func cloneInvoice(inv *models.Invoice) *models.Invoice {
	copied := *inv
	copied.FeeLines = append([]models.FeeLine(nil), inv.FeeLines...)
	copied.Installments = append([]models.Installment(nil), inv.Installments...)
	copied.Payments = append([]models.Payment(nil), inv.Payments...)
	return &copied
}

func (f *fakeInvoiceStore) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	inv, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	snapshot := cloneInvoice(inv)
	if hook := f.afterFind; hook != nil {
		f.afterFind = nil
		hook()
	}
	return snapshot, nil
}

func (f *fakeInvoiceStore) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Invoice, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeInvoiceStore) FindByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.Invoice, error) {
	id, ok := f.byEnrollment[enrollmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return f.FindByID(ctx, id)
}

func (f *fakeInvoiceStore) Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) (bool, error) {
	f.createCalls++
	if _, exists := f.byEnrollment[invoice.EnrollmentID]; exists {
		return false, nil
	}
	invoice.ID = fmt.Sprintf("inv-%d", len(f.byID)+1)
	f.byID[invoice.ID] = cloneInvoice(invoice)
	f.byEnrollment[invoice.EnrollmentID] = invoice.ID
	return true, nil
}

func (f *fakeInvoiceStore) SavePayment(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice, payment *models.Payment) error {
	f.payments++
	payment.ID = fmt.Sprintf("pay-%d", f.payments)
	f.byID[invoice.ID] = cloneInvoice(invoice)
	return nil
}

func (f *fakeInvoiceStore) SaveDiscount(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	f.discounts++
	f.byID[invoice.ID] = cloneInvoice(invoice)
	return nil
}

type fakeCacheRepo struct {
	mu      sync.Mutex
	entries map[string]interface{}
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{entries: map[string]interface{}{}}
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	switch d := dest.(type) {
	case *models.Invoice:
		*d = *cloneInvoice(value.(*models.Invoice))
	case *models.Subject:
		*d = *value.(*models.Subject)
	default:
		return fmt.Errorf("unsupported cache destination %T", dest)
	}
	return nil
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(key, value)
	return nil
}

func (f *fakeCacheRepo) SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; ok {
		return false, nil
	}
	f.store(key, value)
	return true, nil
}

func (f *fakeCacheRepo) store(key string, value interface{}) {
	switch v := value.(type) {
	case *models.Invoice:
		f.entries[key] = cloneInvoice(v)
	case *models.Subject:
		copied := *v
		f.entries[key] = &copied
	default:
		f.entries[key] = value
	}
}

func (f *fakeCacheRepo) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.entries, key)
	}
	return nil
}

func (f *fakeCacheRepo) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

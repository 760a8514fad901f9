package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/enrollment-billing-api/internal/dto"
	"github.com/noah-isme/enrollment-billing-api/internal/models"
	"github.com/noah-isme/enrollment-billing-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
)

var (
	studentActor = models.Actor{UserID: "stu-1", Role: models.RoleStudent}
	adminActor   = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	enrollNow    = time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
)

type enrollmentFixture struct {
	svc      *EnrollmentService
	tuition  *TuitionService
	repo     *fakeEnrollmentRepo
	seats    *memSeatStore
	invoices *fakeInvoiceStore
	metrics  *MetricsService
	mock     sqlmock.Sqlmock
}

func newEnrollmentFixture(t *testing.T) *enrollmentFixture {
	t.Helper()
	tx, mock := newTxProviderMock(t)

	seats := newMemSeatStore()
	seats.add("off-math", 30, 10, true)
	seats.add("off-phys", 30, 5, true)
	seats.add("off-eng", 30, 0, true)
	seats.add("off-hist", 30, 2, true)
	seats.add("off-art", 20, 20, true)

	catalog := &fakeCatalog{
		subjects: map[string]*models.Subject{
			"math": {ID: "math", Code: "MATH101", Units: 4},
			"phys": {ID: "phys", Code: "PHYS101", Units: 4},
			"eng":  {ID: "eng", Code: "ENG101", Units: 4},
			"hist": {ID: "hist", Code: "HIST101", Units: 4, HasLab: true},
			"art":  {ID: "art", Code: "ART101", Units: 3},
		},
		offerings: map[string]*models.Offering{
			"off-math": offeringFor("off-math", "math", slot(models.Monday, "08:00", "11:00")),
			"off-phys": offeringFor("off-phys", "phys", slot(models.Monday, "10:00", "13:00")),
			"off-eng":  offeringFor("off-eng", "eng", slot(models.Tuesday, "08:00", "10:00")),
			"off-hist": offeringFor("off-hist", "hist", slot(models.Wednesday, "08:00", "10:00")),
			"off-art":  offeringFor("off-art", "art", slot(models.Thursday, "08:00", "10:00")),
		},
	}
	students := &fakeStudents{
		students: map[string]*models.Student{
			"stu-1": {ID: "stu-1", StudentNo: "2024-0001", FullName: "Ada Reyes", Active: true},
			"stu-2": {ID: "stu-2", StudentNo: "2024-0002", FullName: "Lee Santos", Active: false},
		},
		history: map[string][]models.AcademicRecord{},
	}

	repo := newFakeEnrollmentRepo()
	invoices := newFakeInvoiceStore()
	metrics := NewMetricsService()
	ledger := NewSeatLedger(seats, metrics, nil)
	tuition := NewTuitionService(invoices, repo, tx, DefaultTuitionPolicy(), nil, metrics, nil, nil)
	tuition.now = func() time.Time { return enrollNow }
	svc := NewEnrollmentService(repo, students, NewCatalogService(catalog, nil, 0), ledger, DefaultUnitLoadPolicy(), tuition, tx, metrics, nil, nil)
	svc.now = func() time.Time { return enrollNow }

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return &enrollmentFixture{svc: svc, tuition: tuition, repo: repo, seats: seats, invoices: invoices, metrics: metrics, mock: mock}
}

func enrollmentRequest(plan models.PaymentPlan, offerings ...string) dto.CreateEnrollmentRequest {
	req := dto.CreateEnrollmentRequest{
		StudentID:   "stu-1",
		SchoolYear:  "2024-2025",
		Semester:    models.SemesterFirst,
		PaymentPlan: plan,
	}
	for _, offeringID := range offerings {
		req.Subjects = append(req.Subjects, dto.RequestedSubject{SubjectID: offeringID[len("off-"):], OfferingID: offeringID})
	}
	return req
}

func (f *enrollmentFixture) occupancy() map[string]int {
	result := map[string]int{}
	for _, id := range []string{"off-math", "off-phys", "off-eng", "off-hist", "off-art"} {
		result[id] = f.seats.occupied(id)
	}
	return result
}

func (f *enrollmentFixture) createPending(t *testing.T) *models.Enrollment {
	t.Helper()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	enrollment, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanInstallment, "off-math", "off-eng", "off-hist"), studentActor)
	require.NoError(t, err)
	return enrollment
}

func TestEnrollmentServiceCreatePending(t *testing.T) {
	f := newEnrollmentFixture(t)
	before := f.occupancy()

	enrollment := f.createPending(t)

	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, 12, enrollment.TotalUnits)
	assert.Nil(t, enrollment.ReviewedBy)
	require.Len(t, enrollment.Subjects, 3)
	assert.Equal(t, "MATH101", enrollment.Subjects[0].SubjectCode)
	assert.True(t, enrollment.Subjects[2].HasLab)
	after := f.occupancy()
	assert.Equal(t, before["off-math"]+1, after["off-math"])
	assert.Equal(t, before["off-eng"]+1, after["off-eng"])
	assert.Equal(t, before["off-hist"]+1, after["off-hist"])
	assert.Zero(t, f.invoices.createCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.enrollmentOps.WithLabelValues(enrollmentOpCreate, OutcomeSuccess)))
}

func TestEnrollmentServiceCreateScheduleConflictHoldsNoSeats(t *testing.T) {
	f := newEnrollmentFixture(t)
	before := f.occupancy()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanFull, "off-math", "off-phys", "off-eng"), studentActor)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErr.Code)
	assert.Equal(t, "PHYS101", appErr.Details["subject_code"])
	assert.Equal(t, "MATH101", appErr.Details["conflicting_subject_code"])
	assert.Equal(t, before, f.occupancy())
	assert.Empty(t, f.repo.enrollments)
}

func TestEnrollmentServiceCreateFailuresReleaseSeats(t *testing.T) {
	cases := map[string]struct {
		offerings []string
		code      string
	}{
		"capacity":   {offerings: []string{"off-math", "off-eng", "off-art"}, code: appErrors.ErrCapacityExceeded.Code},
		"unit load":  {offerings: []string{"off-math", "off-eng"}, code: appErrors.ErrUnitLoadInvalid.Code},
		"duplicated": {offerings: []string{"off-math", "off-eng", "off-math"}, code: appErrors.ErrValidation.Code},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newEnrollmentFixture(t)
			before := f.occupancy()
			f.mock.ExpectBegin()
			f.mock.ExpectRollback()

			_, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanFull, tc.offerings...), studentActor)

			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
			assert.Equal(t, before, f.occupancy())
		})
	}
}

func TestEnrollmentServiceCreatePrerequisiteNotMet(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.svc.catalog.(*CatalogService).repo.(*fakeCatalog).subjects["hist"].Prerequisites = []models.Prerequisite{{SubjectID: "hist0", Code: "HIST100"}}
	before := f.occupancy()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanFull, "off-math", "off-eng", "off-hist"), studentActor)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPrerequisiteNotMet.Code, appErr.Code)
	assert.Equal(t, "HIST100", appErr.Details["missing_prerequisite"])
	assert.Equal(t, before, f.occupancy())
}

func TestEnrollmentServiceCreateRejectsBeforeTransaction(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.createPending(t)

	_, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanFull, "off-math", "off-eng", "off-hist"), studentActor)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)

	other := enrollmentRequest(models.PaymentPlanFull, "off-math", "off-eng", "off-hist")
	other.StudentID = "stu-2"
	_, err = f.svc.Create(context.Background(), other, studentActor)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Create(context.Background(), other, adminActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	badTerm := enrollmentRequest(models.PaymentPlanFull, "off-math")
	badTerm.SchoolYear = "2024"
	_, err = f.svc.Create(context.Background(), badTerm, studentActor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	missing := enrollmentRequest(models.PaymentPlanFull, "off-math")
	missing.StudentID = "stu-404"
	_, err = f.svc.Create(context.Background(), missing, adminActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCreateConcurrentDuplicate(t *testing.T) {
	f := newEnrollmentFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	f.svc.logger = zap.New(core)
	f.repo.createErr = fmt.Errorf("create enrollment: %w", repository.ErrUniqueViolation)
	before := f.occupancy()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanFull, "off-math", "off-eng", "off-hist"), studentActor)

	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
	// The failed INSERT aborts the transaction; the rollback alone returns the seats, so no
	// release statements are issued against it. The in-memory store has no rollback.
	assert.Zero(t, f.seats.decrementCalls())
	assert.Zero(t, logs.FilterMessage("seat compensation failed").Len())
	assert.Equal(t, before["off-math"]+1, f.occupancy()["off-math"])
}

func TestEnrollmentServiceCreateRuleFailureReleasesSeatsInTransaction(t *testing.T) {
	f := newEnrollmentFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	f.svc.logger = zap.New(core)
	before := f.occupancy()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanFull, "off-math", "off-phys"), studentActor)

	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, f.seats.decrementCalls())
	assert.Zero(t, logs.Len())
	assert.Equal(t, before, f.occupancy())
}

func TestEnrollmentServiceAdminCreateIsApprovedWithInvoice(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	enrollment, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanFull, "off-math", "off-eng", "off-hist"), adminActor)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusApproved, enrollment.Status)
	require.NotNil(t, enrollment.ReviewedBy)
	assert.Equal(t, "admin-1", *enrollment.ReviewedBy)
	invoiceID, ok := f.invoices.byEnrollment[enrollment.ID]
	require.True(t, ok)
	invoice := f.invoices.byID[invoiceID]
	assertMoney(t, "12000", invoice.TotalAmount)
	assertMoney(t, "600", invoice.DiscountAmount)
}

func TestEnrollmentServiceApproveCreatesInvoiceOnce(t *testing.T) {
	f := newEnrollmentFixture(t)
	enrollment := f.createPending(t)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	approved, err := f.svc.Approve(context.Background(), enrollment.ID, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, approved.Status)
	require.Len(t, f.invoices.byID, 1)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.Approve(context.Background(), enrollment.ID, adminActor)
	assert.Equal(t, appErrors.ErrInvalidStateTransition.Code, appErrors.FromError(err).Code)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	invoice, err := f.tuition.CreateInvoice(context.Background(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, f.invoices.byEnrollment[enrollment.ID], invoice.ID)
	assert.Len(t, f.invoices.byID, 1)
	require.Len(t, invoice.Installments, 4)
	assertMoney(t, "12000", invoice.TotalAmount)
}

func TestEnrollmentServiceRejectReleasesHeldSeats(t *testing.T) {
	f := newEnrollmentFixture(t)
	before := f.occupancy()
	enrollment := f.createPending(t)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	rejected, err := f.svc.Reject(context.Background(), enrollment.ID, dto.RejectEnrollmentRequest{Reason: " Missing documents "}, adminActor)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "Missing documents", *rejected.RejectReason)
	assert.Equal(t, before, f.occupancy())
	assert.Empty(t, f.invoices.byID)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.Approve(context.Background(), enrollment.ID, adminActor)
	assert.Equal(t, appErrors.ErrInvalidStateTransition.Code, appErrors.FromError(err).Code)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.Reject(context.Background(), enrollment.ID, dto.RejectEnrollmentRequest{Reason: "again"}, adminActor)
	assert.Equal(t, appErrors.ErrInvalidStateTransition.Code, appErrors.FromError(err).Code)
	assert.Equal(t, before, f.occupancy())
}

func TestEnrollmentServiceDropSubject(t *testing.T) {
	f := newEnrollmentFixture(t)
	enrollment := f.createPending(t)
	before := f.occupancy()

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	updated, err := f.svc.DropSubject(context.Background(), enrollment.ID, "eng", studentActor)
	require.NoError(t, err)

	assert.Equal(t, 8, updated.TotalUnits)
	entry, ok := updated.SubjectEntry("eng")
	require.True(t, ok)
	assert.Equal(t, models.SubjectStatusDropped, entry.Status)
	after := f.occupancy()
	assert.Equal(t, before["off-eng"]-1, after["off-eng"])
	assert.Equal(t, before["off-math"], after["off-math"])
	assert.Equal(t, before["off-hist"], after["off-hist"])

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.DropSubject(context.Background(), enrollment.ID, "eng", studentActor)
	assert.Equal(t, appErrors.ErrInvalidStateTransition.Code, appErrors.FromError(err).Code)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.DropSubject(context.Background(), enrollment.ID, "phys", studentActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.DropSubject(context.Background(), enrollment.ID, "math", models.Actor{UserID: "stu-9", Role: models.RoleStudent})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Equal(t, after, f.occupancy())
}

func TestEnrollmentServiceDropSubjectRequiresOpenEnrollment(t *testing.T) {
	f := newEnrollmentFixture(t)
	enrollment := f.createPending(t)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err := f.svc.Reject(context.Background(), enrollment.ID, dto.RejectEnrollmentRequest{Reason: "closed"}, adminActor)
	require.NoError(t, err)
	before := f.occupancy()

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.DropSubject(context.Background(), enrollment.ID, "math", adminActor)
	assert.Equal(t, appErrors.ErrInvalidStateTransition.Code, appErrors.FromError(err).Code)
	assert.Equal(t, before, f.occupancy())
}

func TestEnrollmentServiceComplete(t *testing.T) {
	f := newEnrollmentFixture(t)
	enrollment := f.createPending(t)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Complete(context.Background(), enrollment.ID, adminActor)
	assert.Equal(t, appErrors.ErrInvalidStateTransition.Code, appErrors.FromError(err).Code)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.Approve(context.Background(), enrollment.ID, adminActor)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	completed, err := f.svc.Complete(context.Background(), enrollment.ID, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, completed.Status)
	for _, entry := range completed.Subjects {
		assert.Equal(t, models.SubjectStatusCompleted, entry.Status)
	}
	assert.Equal(t, models.SubjectStatusCompleted, f.repo.enrollments[enrollment.ID].Subjects[0].Status)
}

func TestEnrollmentServiceDeleteReleasesSeatsAndKeepsInvoice(t *testing.T) {
	f := newEnrollmentFixture(t)
	before := f.occupancy()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	enrollment, err := f.svc.Create(context.Background(), enrollmentRequest(models.PaymentPlanFull, "off-math", "off-eng", "off-hist"), adminActor)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.DropSubject(context.Background(), enrollment.ID, "math", adminActor)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.Delete(context.Background(), enrollment.ID, adminActor))

	assert.Equal(t, before, f.occupancy())
	assert.Empty(t, f.repo.enrollments)
	assert.Len(t, f.invoices.byID, 1)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	err = f.svc.Delete(context.Background(), enrollment.ID, adminActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceGetAuthorizesOwner(t *testing.T) {
	f := newEnrollmentFixture(t)
	enrollment := f.createPending(t)

	got, err := f.svc.Get(context.Background(), enrollment.ID, studentActor)
	require.NoError(t, err)
	assert.Equal(t, enrollment.ID, got.ID)

	_, err = f.svc.Get(context.Background(), enrollment.ID, models.Actor{UserID: "stu-9", Role: models.RoleStudent})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Get(context.Background(), "missing", adminActor)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	items, pagination, err := f.svc.List(context.Background(), models.EnrollmentFilter{StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 1, pagination.TotalCount)
}

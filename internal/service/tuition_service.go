package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-billing-api/internal/dto"
	"github.com/noah-isme/enrollment-billing-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
	"github.com/noah-isme/enrollment-billing-api/pkg/export"
)

const dateLayout = "2006-01-02"

type invoiceStore interface {
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Invoice, error)
	FindByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.Invoice, error)
	Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) (bool, error)
	SavePayment(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice, payment *models.Payment) error
	SaveDiscount(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error
}

type enrollmentLocker interface {
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
}

// TuitionService builds invoices for approved enrollments and records payments and discounts.
type TuitionService struct {
	invoices    invoiceStore
	enrollments enrollmentLocker
	tx          txProvider
	policy      TuitionPolicy
	cache       *CacheService
	metrics     *MetricsService
	pdf         *export.PDFExporter
	csv         *export.CSVExporter
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewTuitionService constructs the tuition engine.
func NewTuitionService(invoices invoiceStore, enrollments enrollmentLocker, tx txProvider, policy TuitionPolicy, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TuitionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TuitionService{
		invoices:    invoices,
		enrollments: enrollments,
		tx:          tx,
		policy:      policy.normalized(),
		cache:       cache,
		metrics:     metrics,
		pdf:         export.NewPDFExporter(),
		csv:         export.NewCSVExporter(),
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateForEnrollment creates the invoice of an enrollment on the caller's executor. It is
// idempotent: when the enrollment already has an invoice that invoice is returned unchanged.
func (s *TuitionService) CreateForEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) (*models.Invoice, error) {
	now := s.now()
	invoice := s.policy.BuildInvoice(enrollment, now)
	created, err := s.invoices.Create(ctx, exec, invoice)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invoice")
	}
	if !created {
		existing, err := s.invoices.FindByEnrollment(ctx, exec, enrollment.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing invoice")
		}
		Refresh(existing, now)
		return existing, nil
	}
	Refresh(invoice, now)
	s.logger.Info("invoice created",
		zap.String("invoice_id", invoice.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.String("payment_plan", string(invoice.PaymentPlan)),
		zap.String("net_amount", invoice.NetAmount.StringFixed(moneyPlaces)))
	return invoice, nil
}

// CreateInvoice creates the invoice of an approved or completed enrollment, or returns the existing one.
func (s *TuitionService) CreateInvoice(ctx context.Context, enrollmentID string) (invoice *models.Invoice, err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	enrollment, err := s.enrollments.FindByIDForUpdate(ctx, tx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusApproved && enrollment.Status != models.EnrollmentStatusCompleted {
		err = appErrors.WithDetails(appErrors.ErrInvalidStateTransition, "invoices are only created for approved enrollments",
			map[string]interface{}{"enrollment_id": enrollmentID, "status": string(enrollment.Status)})
		return nil, err
	}

	if invoice, err = s.CreateForEnrollment(ctx, tx, enrollment); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit invoice")
		return nil, err
	}
	return invoice, nil
}

// GetInvoice returns an invoice with freshly derived balance and status. Students may only
// read their own invoices.
func (s *TuitionService) GetInvoice(ctx context.Context, id string, actor models.Actor) (*models.Invoice, bool, error) {
	return s.readInvoice(ctx, invoiceCacheKey(id), actor, func() (*models.Invoice, error) {
		return s.invoices.FindByID(ctx, id)
	})
}

// GetInvoiceByEnrollment returns the invoice of an enrollment.
func (s *TuitionService) GetInvoiceByEnrollment(ctx context.Context, enrollmentID string, actor models.Actor) (*models.Invoice, bool, error) {
	return s.readInvoice(ctx, enrollmentInvoiceCacheKey(enrollmentID), actor, func() (*models.Invoice, error) {
		return s.invoices.FindByEnrollment(ctx, nil, enrollmentID)
	})
}

func (s *TuitionService) readInvoice(ctx context.Context, key string, actor models.Actor, load func() (*models.Invoice, error)) (*models.Invoice, bool, error) {
	var cached models.Invoice
	if s.cache.Get(ctx, key, &cached) {
		if err := authorizeInvoice(&cached, actor); err != nil {
			return nil, false, err
		}
		Refresh(&cached, s.now())
		return &cached, true, nil
	}

	invoice, err := load()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	s.cache.Fill(ctx, key, invoice, 0)
	if err := authorizeInvoice(invoice, actor); err != nil {
		return nil, false, err
	}
	Refresh(invoice, s.now())
	return invoice, false, nil
}

// AddPayment records a payment under a row lock so concurrent payments cannot overrun the balance.
func (s *TuitionService) AddPayment(ctx context.Context, invoiceID string, req dto.AddPaymentRequest, actor models.Actor) (invoice *models.Invoice, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
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

	if invoice, err = s.lockInvoice(ctx, tx, invoiceID); err != nil {
		return nil, err
	}

	now := s.now()
	payment := models.Payment{
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: strings.TrimSpace(req.Reference),
		PaidAt:    now.UTC(),
		CreatedBy: actor.UserID,
	}
	if err = ApplyPayment(invoice, payment, now); err != nil {
		return nil, err
	}
	recorded := &invoice.Payments[len(invoice.Payments)-1]
	if err = s.invoices.SavePayment(ctx, tx, invoice, recorded); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save payment")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit payment")
		return nil, err
	}

	s.publish(ctx, invoice)
	s.metrics.RecordPayment(string(payment.Method), payment.Amount)
	s.logger.Info("payment applied",
		zap.String("invoice_id", invoice.ID),
		zap.String("payment_id", recorded.ID),
		zap.String("amount", payment.Amount.StringFixed(moneyPlaces)),
		zap.String("balance", invoice.Balance.StringFixed(moneyPlaces)),
		zap.String("status", string(invoice.Status)))
	return invoice, nil
}

// AddDiscount grants a manual discount on an invoice that has not received payments.
func (s *TuitionService) AddDiscount(ctx context.Context, invoiceID string, req dto.AddDiscountRequest, actor models.Actor) (invoice *models.Invoice, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid discount payload")
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

	if invoice, err = s.lockInvoice(ctx, tx, invoiceID); err != nil {
		return nil, err
	}
	if err = ApplyDiscount(invoice, req.Amount, req.Reason, s.now()); err != nil {
		return nil, err
	}
	if err = s.invoices.SaveDiscount(ctx, tx, invoice); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save discount")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit discount")
		return nil, err
	}

	s.publish(ctx, invoice)
	s.logger.Info("invoice discount added",
		zap.String("invoice_id", invoice.ID),
		zap.String("granted_by", actor.UserID),
		zap.String("discount", invoice.DiscountAmount.StringFixed(moneyPlaces)),
		zap.String("net_amount", invoice.NetAmount.StringFixed(moneyPlaces)))
	return invoice, nil
}

// WriteStatement renders the invoice as a PDF statement of account.
func (s *TuitionService) WriteStatement(w io.Writer, invoice *models.Invoice) error {
	fees := export.Table{Headers: []string{"Description", "Amount"}}
	for _, line := range invoice.FeeLines {
		fees.Rows = append(fees.Rows, []string{line.Description, line.Amount.StringFixed(moneyPlaces)})
	}
	installments := export.Table{Headers: []string{"#", "Due Date", "Amount", "Paid", "Status"}}
	for _, inst := range invoice.Installments {
		state := "OPEN"
		if inst.Paid {
			state = "PAID"
		}
		installments.Rows = append(installments.Rows, []string{
			fmt.Sprintf("%d", inst.Sequence),
			inst.DueDate.Format(dateLayout),
			inst.Amount.StringFixed(moneyPlaces),
			inst.PaidAmount.StringFixed(moneyPlaces),
			state,
		})
	}

	discount := invoice.DiscountAmount.StringFixed(moneyPlaces)
	if invoice.DiscountReason != "" {
		discount = fmt.Sprintf("%s (%s)", discount, invoice.DiscountReason)
	}
	stmt := export.Statement{
		Title: "Statement of Account",
		Summary: []export.Field{
			{Label: "Invoice", Value: invoice.ID},
			{Label: "Student", Value: invoice.StudentID},
			{Label: "Term", Value: fmt.Sprintf("%s %s", invoice.SchoolYear, invoice.Semester)},
			{Label: "Payment Plan", Value: string(invoice.PaymentPlan)},
			{Label: "Units", Value: fmt.Sprintf("%d", invoice.Units)},
			{Label: "Total", Value: invoice.TotalAmount.StringFixed(moneyPlaces)},
			{Label: "Discount", Value: discount},
			{Label: "Net Amount", Value: invoice.NetAmount.StringFixed(moneyPlaces)},
			{Label: "Total Paid", Value: invoice.TotalPaid.StringFixed(moneyPlaces)},
			{Label: "Balance", Value: invoice.Balance.StringFixed(moneyPlaces)},
			{Label: "Due Date", Value: invoice.DueDate.Format(dateLayout)},
			{Label: "Status", Value: string(invoice.Status)},
		},
		Sections: []export.Section{
			{Title: "Fees", Table: fees, AlignRight: map[int]bool{1: true}},
			{Title: "Payments", Table: s.paymentsTable(invoice), AlignRight: map[int]bool{1: true}},
		},
		Footer: fmt.Sprintf("Generated %s", s.now().UTC().Format(time.RFC3339)),
	}
	if len(invoice.Installments) > 0 {
		stmt.Sections = append(stmt.Sections, export.Section{Title: "Installments", Table: installments, AlignRight: map[int]bool{2: true, 3: true}})
	}
	return s.pdf.Write(w, stmt)
}

// WritePaymentsCSV exports the payment history of an invoice.
func (s *TuitionService) WritePaymentsCSV(w io.Writer, invoice *models.Invoice) error {
	return s.csv.Write(w, s.paymentsTable(invoice))
}

func (s *TuitionService) paymentsTable(invoice *models.Invoice) export.Table {
	table := export.Table{Headers: []string{"Paid At", "Amount", "Method", "Reference", "Recorded By"}}
	for _, p := range invoice.Payments {
		table.Rows = append(table.Rows, []string{
			p.PaidAt.UTC().Format(time.RFC3339),
			p.Amount.StringFixed(moneyPlaces),
			string(p.Method),
			p.Reference,
			p.CreatedBy,
		})
	}
	return table
}

func (s *TuitionService) lockInvoice(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Invoice, error) {
	invoice, err := s.invoices.FindByIDForUpdate(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	return invoice, nil
}

// publish writes the committed invoice under both cache keys. If either write fails both keys
// are dropped so no reader keeps the pre-commit snapshot.
func (s *TuitionService) publish(ctx context.Context, invoice *models.Invoice) {
	keys := []string{invoiceCacheKey(invoice.ID), enrollmentInvoiceCacheKey(invoice.EnrollmentID)}
	for _, key := range keys {
		if !s.cache.Set(ctx, key, invoice, 0) {
			s.cache.Invalidate(ctx, keys...)
			return
		}
	}
}

func authorizeInvoice(invoice *models.Invoice, actor models.Actor) error {
	if actor.Role == models.RoleStudent && invoice.StudentID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "invoice belongs to another student")
	}
	return nil
}

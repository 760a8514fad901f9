package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

const invoiceColumns = `id, enrollment_id, student_id, school_year, semester, payment_plan, units, total_amount,
        discount_amount, discount_reason, net_amount, total_paid, due_date, created_at, updated_at`

// InvoiceRepository persists invoices with their fee lines, installments and payments.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs the repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// FindByID loads an invoice and its children.
func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	return r.find(ctx, r.db, "id", id, false)
}

// FindByIDForUpdate locks the invoice row for the remainder of the transaction.
func (r *InvoiceRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Invoice, error) {
	return r.find(ctx, exec, "id", id, true)
}

// FindByEnrollment loads the invoice of an enrollment.
func (r *InvoiceRepository) FindByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.Invoice, error) {
	if exec == nil {
		exec = r.db
	}
	return r.find(ctx, exec, "enrollment_id", enrollmentID, false)
}

func (r *InvoiceRepository) find(ctx context.Context, exec sqlx.ExtContext, column, value string, lock bool) (*models.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE %s = $1`, invoiceColumns, column)
	if lock {
		query += " FOR UPDATE"
	}
	var invoice models.Invoice
	if err := sqlx.GetContext(ctx, exec, &invoice, query, value); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, exec, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepository) loadChildren(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	invoice.FeeLines = []models.FeeLine{}
	const linesQuery = `SELECT invoice_id, position, kind, description, amount FROM invoice_fee_lines WHERE invoice_id = $1 ORDER BY position`
	if err := sqlx.SelectContext(ctx, exec, &invoice.FeeLines, linesQuery, invoice.ID); err != nil {
		return fmt.Errorf("list invoice fee lines: %w", err)
	}

	invoice.Installments = []models.Installment{}
	const installmentsQuery = `SELECT invoice_id, sequence, amount, due_date, paid, paid_amount, paid_date FROM invoice_installments WHERE invoice_id = $1 ORDER BY sequence`
	if err := sqlx.SelectContext(ctx, exec, &invoice.Installments, installmentsQuery, invoice.ID); err != nil {
		return fmt.Errorf("list invoice installments: %w", err)
	}

	invoice.Payments = []models.Payment{}
	const paymentsQuery = `SELECT id, invoice_id, amount, method, reference, paid_at, created_by FROM invoice_payments WHERE invoice_id = $1 ORDER BY paid_at, id`
	if err := sqlx.SelectContext(ctx, exec, &invoice.Payments, paymentsQuery, invoice.ID); err != nil {
		return fmt.Errorf("list invoice payments: %w", err)
	}
	return nil
}

// Create inserts the invoice unless the enrollment already has one. It reports whether a new
// row was written; children are only inserted for a new invoice.
func (r *InvoiceRepository) Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) (bool, error) {
	now := time.Now().UTC()
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = invoice.CreatedAt

	const query = `INSERT INTO invoices (id, enrollment_id, student_id, school_year, semester, payment_plan, units, total_amount,
        discount_amount, discount_reason, net_amount, total_paid, due_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (enrollment_id) DO NOTHING
        RETURNING id`
	rows, err := exec.QueryxContext(ctx, query,
		invoice.ID, invoice.EnrollmentID, invoice.StudentID, invoice.SchoolYear, invoice.Semester, invoice.PaymentPlan,
		invoice.Units, invoice.TotalAmount, invoice.DiscountAmount, invoice.DiscountReason, invoice.NetAmount,
		invoice.TotalPaid, invoice.DueDate, invoice.CreatedAt, invoice.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create invoice: %w", err)
	}
	inserted := rows.Next()
	if err := rows.Close(); err != nil {
		return false, fmt.Errorf("create invoice: %w", err)
	}
	if !inserted {
		return false, nil
	}

	for i := range invoice.FeeLines {
		line := &invoice.FeeLines[i]
		line.InvoiceID = invoice.ID
		line.Position = i + 1
		const lineQuery = `INSERT INTO invoice_fee_lines (invoice_id, position, kind, description, amount) VALUES ($1, $2, $3, $4, $5)`
		if _, err := exec.ExecContext(ctx, lineQuery, line.InvoiceID, line.Position, line.Kind, line.Description, line.Amount); err != nil {
			return false, fmt.Errorf("create invoice fee line: %w", err)
		}
	}
	if err := r.insertInstallments(ctx, exec, invoice); err != nil {
		return false, err
	}
	return true, nil
}

func (r *InvoiceRepository) insertInstallments(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	const query = `INSERT INTO invoice_installments (invoice_id, sequence, amount, due_date, paid, paid_amount, paid_date) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i := range invoice.Installments {
		inst := &invoice.Installments[i]
		inst.InvoiceID = invoice.ID
		if _, err := exec.ExecContext(ctx, query, inst.InvoiceID, inst.Sequence, inst.Amount, inst.DueDate, inst.Paid, inst.PaidAmount, inst.PaidDate); err != nil {
			return fmt.Errorf("create invoice installment %d: %w", inst.Sequence, err)
		}
	}
	return nil
}

// SavePayment appends the payment and persists the updated totals and installments.
func (r *InvoiceRepository) SavePayment(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.InvoiceID = invoice.ID

	const paymentQuery = `INSERT INTO invoice_payments (id, invoice_id, amount, method, reference, paid_at, created_by)
        VALUES (:id, :invoice_id, :amount, :method, :reference, :paid_at, :created_by)`
	if _, err := sqlx.NamedExecContext(ctx, exec, paymentQuery, payment); err != nil {
		return fmt.Errorf("create invoice payment: %w", err)
	}

	const invoiceQuery = `UPDATE invoices SET total_paid = $2, updated_at = $3 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, invoiceQuery, invoice.ID, invoice.TotalPaid, invoice.UpdatedAt); err != nil {
		return fmt.Errorf("update invoice total paid: %w", err)
	}

	const installmentQuery = `UPDATE invoice_installments SET paid = $3, paid_amount = $4, paid_date = $5 WHERE invoice_id = $1 AND sequence = $2`
	for _, inst := range invoice.Installments {
		if _, err := exec.ExecContext(ctx, installmentQuery, invoice.ID, inst.Sequence, inst.Paid, inst.PaidAmount, inst.PaidDate); err != nil {
			return fmt.Errorf("update invoice installment %d: %w", inst.Sequence, err)
		}
	}
	return nil
}

// SaveDiscount persists the recomputed amounts and replaces the installment schedule.
func (r *InvoiceRepository) SaveDiscount(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	const invoiceQuery = `UPDATE invoices SET discount_amount = $2, discount_reason = $3, net_amount = $4, updated_at = $5 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, invoiceQuery, invoice.ID, invoice.DiscountAmount, invoice.DiscountReason, invoice.NetAmount, invoice.UpdatedAt); err != nil {
		return fmt.Errorf("update invoice discount: %w", err)
	}
	if _, err := exec.ExecContext(ctx, `DELETE FROM invoice_installments WHERE invoice_id = $1`, invoice.ID); err != nil {
		return fmt.Errorf("clear invoice installments: %w", err)
	}
	return r.insertInstallments(ctx, exec, invoice)
}

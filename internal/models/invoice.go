package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is derived from payments, net amount and due date.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid  InvoiceStatus = "UNPAID"
	InvoiceStatusPartial InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
)

// PaymentMethod names how a payment was received.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodOnline       PaymentMethod = "ONLINE"
)

// FeeKind classifies a breakdown line.
type FeeKind string

const (
	FeeKindTuition FeeKind = "TUITION"
	FeeKindMisc    FeeKind = "MISC"
	FeeKindLab     FeeKind = "LAB"
)

// Invoice is the tuition record of one enrollment.
type Invoice struct {
	ID             string          `db:"id" json:"id"`
	EnrollmentID   string          `db:"enrollment_id" json:"enrollment_id"`
	StudentID      string          `db:"student_id" json:"student_id"`
	SchoolYear     string          `db:"school_year" json:"school_year"`
	Semester       Semester        `db:"semester" json:"semester"`
	PaymentPlan    PaymentPlan     `db:"payment_plan" json:"payment_plan"`
	Units          int             `db:"units" json:"units"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	DiscountReason string          `db:"discount_reason" json:"discount_reason,omitempty"`
	NetAmount      decimal.Decimal `db:"net_amount" json:"net_amount"`
	TotalPaid      decimal.Decimal `db:"total_paid" json:"total_paid"`
	DueDate        time.Time       `db:"due_date" json:"due_date"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Balance      decimal.Decimal `db:"-" json:"balance"`
	Status       InvoiceStatus   `db:"-" json:"status"`
	FeeLines     []FeeLine       `db:"-" json:"fee_lines"`
	Installments []Installment   `db:"-" json:"installments"`
	Payments     []Payment       `db:"-" json:"payments"`
}

// FeeLine is one row of the fee breakdown.
type FeeLine struct {
	InvoiceID   string          `db:"invoice_id" json:"-"`
	Position    int             `db:"position" json:"position"`
	Kind        FeeKind         `db:"kind" json:"kind"`
	Description string          `db:"description" json:"description"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
}

// Installment is one scheduled partial payment.
type Installment struct {
	InvoiceID  string          `db:"invoice_id" json:"-"`
	Sequence   int             `db:"sequence" json:"sequence"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	DueDate    time.Time       `db:"due_date" json:"due_date"`
	Paid       bool            `db:"paid" json:"paid"`
	PaidAmount decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	PaidDate   *time.Time      `db:"paid_date" json:"paid_date,omitempty"`
}

// Remaining returns the unpaid part of the installment.
func (i Installment) Remaining() decimal.Decimal {
	rem := i.Amount.Sub(i.PaidAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Payment is a recorded receipt against an invoice.
type Payment struct {
	ID        string          `db:"id" json:"id"`
	InvoiceID string          `db:"invoice_id" json:"invoice_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Method    PaymentMethod   `db:"method" json:"method"`
	Reference string          `db:"reference" json:"reference,omitempty"`
	PaidAt    time.Time       `db:"paid_at" json:"paid_at"`
	CreatedBy string          `db:"created_by" json:"created_by,omitempty"`
}

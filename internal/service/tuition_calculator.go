package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
)

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// TuitionPolicy is the fee schedule applied to every invoice of a deployment.
type TuitionPolicy struct {
	PerUnitRate                decimal.Decimal
	MiscFee                    decimal.Decimal
	LabFee                     decimal.Decimal
	FullPaymentDiscountPercent decimal.Decimal
	InstallmentCount           int
	FullPaymentDueDays         int
}

// DefaultTuitionPolicy returns the institution defaults.
func DefaultTuitionPolicy() TuitionPolicy {
	return TuitionPolicy{
		PerUnitRate:                decimal.NewFromInt(500),
		MiscFee:                    decimal.NewFromInt(5000),
		LabFee:                     decimal.NewFromInt(1000),
		FullPaymentDiscountPercent: decimal.NewFromInt(5),
		InstallmentCount:           4,
		FullPaymentDueDays:         30,
	}
}

func (p TuitionPolicy) normalized() TuitionPolicy {
	defaults := DefaultTuitionPolicy()
	if p.InstallmentCount <= 0 {
		p.InstallmentCount = defaults.InstallmentCount
	}
	if p.FullPaymentDueDays <= 0 {
		p.FullPaymentDueDays = defaults.FullPaymentDueDays
	}
	return p
}

// BuildInvoice computes the fee breakdown, discount and schedule of an enrollment.
func (p TuitionPolicy) BuildInvoice(enrollment *models.Enrollment, now time.Time) *models.Invoice {
	p = p.normalized()
	now = now.UTC()

	lines := []models.FeeLine{
		{
			Kind:        models.FeeKindTuition,
			Description: fmt.Sprintf("Tuition (%d units x %s)", enrollment.TotalUnits, p.PerUnitRate.StringFixed(moneyPlaces)),
			Amount:      p.PerUnitRate.Mul(decimal.NewFromInt(int64(enrollment.TotalUnits))).Round(moneyPlaces),
		},
		{
			Kind:        models.FeeKindMisc,
			Description: "Miscellaneous fee",
			Amount:      p.MiscFee.Round(moneyPlaces),
		},
	}
	if enrollment.Status != models.EnrollmentStatusRejected {
		for _, entry := range enrollment.Subjects {
			if !entry.HasLab || entry.Status == models.SubjectStatusDropped {
				continue
			}
			lines = append(lines, models.FeeLine{
				Kind:        models.FeeKindLab,
				Description: fmt.Sprintf("Laboratory fee - %s", entry.SubjectCode),
				Amount:      p.LabFee.Round(moneyPlaces),
			})
		}
	}

	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount)
	}

	invoice := &models.Invoice{
		EnrollmentID:   enrollment.ID,
		StudentID:      enrollment.StudentID,
		SchoolYear:     enrollment.SchoolYear,
		Semester:       enrollment.Semester,
		PaymentPlan:    enrollment.PaymentPlan,
		Units:          enrollment.TotalUnits,
		TotalAmount:    total,
		DiscountAmount: decimal.Zero,
		TotalPaid:      decimal.Zero,
		FeeLines:       lines,
		Installments:   []models.Installment{},
		Payments:       []models.Payment{},
		CreatedAt:      now,
	}

	if enrollment.PaymentPlan == models.PaymentPlanFull && p.FullPaymentDiscountPercent.IsPositive() {
		invoice.DiscountAmount = total.Mul(p.FullPaymentDiscountPercent).Div(hundred).Round(moneyPlaces)
		invoice.DiscountReason = fmt.Sprintf("Full payment discount (%s%%)", p.FullPaymentDiscountPercent.String())
	}
	invoice.NetAmount = total.Sub(invoice.DiscountAmount)

	if enrollment.PaymentPlan == models.PaymentPlanInstallment {
		dueDates := make([]time.Time, p.InstallmentCount)
		for i := range dueDates {
			dueDates[i] = addMonths(now, i+1)
		}
		invoice.Installments = SplitInstallments(invoice.NetAmount, dueDates)
		invoice.DueDate = dueDates[0]
	} else {
		invoice.DueDate = now.AddDate(0, 0, p.FullPaymentDueDays)
	}
	return invoice
}

// SplitInstallments divides net over the due dates. Every installment gets net/N truncated
// to cents and the last one absorbs the remainder, so the amounts always sum to net.
func SplitInstallments(net decimal.Decimal, dueDates []time.Time) []models.Installment {
	n := len(dueDates)
	if n == 0 {
		return []models.Installment{}
	}
	share := net.Div(decimal.NewFromInt(int64(n))).Truncate(moneyPlaces)
	installments := make([]models.Installment, n)
	allocated := decimal.Zero
	for i, due := range dueDates {
		amount := share
		if i == n-1 {
			amount = net.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		installments[i] = models.Installment{
			Sequence:   i + 1,
			Amount:     amount,
			DueDate:    due,
			PaidAmount: decimal.Zero,
		}
	}
	return installments
}

// ValidateAmount rejects non-positive amounts and amounts with more than two decimals.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return appErrors.WithDetails(appErrors.ErrInvalidAmount, "amount must be greater than zero",
			map[string]interface{}{"amount": amount.String()})
	}
	if !amount.Equal(amount.Round(moneyPlaces)) {
		return appErrors.WithDetails(appErrors.ErrInvalidAmount, "amount must have at most two decimal places",
			map[string]interface{}{"amount": amount.String()})
	}
	return nil
}

// ApplyPayment validates the amount against the balance, then raises total paid and lets
// installments absorb the amount in sequence order. The invoice is only mutated on success.
func ApplyPayment(invoice *models.Invoice, payment models.Payment, now time.Time) error {
	if err := ValidateAmount(payment.Amount); err != nil {
		return err
	}
	balance := Balance(invoice)
	if payment.Amount.GreaterThan(balance) {
		return appErrors.WithDetails(appErrors.ErrExceedsBalance,
			fmt.Sprintf("payment %s exceeds balance %s", payment.Amount.StringFixed(moneyPlaces), balance.StringFixed(moneyPlaces)),
			map[string]interface{}{"amount": payment.Amount.StringFixed(moneyPlaces), "balance": balance.StringFixed(moneyPlaces)})
	}

	remaining := payment.Amount
	paidAt := now.UTC()
	for i := range invoice.Installments {
		if !remaining.IsPositive() {
			break
		}
		inst := &invoice.Installments[i]
		open := inst.Remaining()
		if !open.IsPositive() {
			continue
		}
		portion := decimal.Min(remaining, open)
		inst.PaidAmount = inst.PaidAmount.Add(portion)
		remaining = remaining.Sub(portion)
		if inst.PaidAmount.GreaterThanOrEqual(inst.Amount) {
			inst.Paid = true
			inst.PaidDate = &paidAt
		}
	}

	invoice.TotalPaid = invoice.TotalPaid.Add(payment.Amount)
	invoice.Payments = append(invoice.Payments, payment)
	invoice.UpdatedAt = paidAt
	Refresh(invoice, now)
	return nil
}

// ApplyDiscount adds a manual discount before any payment has been made and reschedules
// the installments over their existing due dates.
func ApplyDiscount(invoice *models.Invoice, amount decimal.Decimal, reason string, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if !invoice.TotalPaid.IsZero() {
		return appErrors.WithDetails(appErrors.ErrInvalidStateTransition, "discounts can only be added before any payment",
			map[string]interface{}{"total_paid": invoice.TotalPaid.StringFixed(moneyPlaces)})
	}
	discount := invoice.DiscountAmount.Add(amount)
	if discount.GreaterThan(invoice.TotalAmount) {
		return appErrors.WithDetails(appErrors.ErrInvalidAmount, "discount exceeds invoice total",
			map[string]interface{}{"discount": discount.StringFixed(moneyPlaces), "total": invoice.TotalAmount.StringFixed(moneyPlaces)})
	}

	invoice.DiscountAmount = discount
	reason = strings.TrimSpace(reason)
	if invoice.DiscountReason == "" {
		invoice.DiscountReason = reason
	} else if reason != "" {
		invoice.DiscountReason = invoice.DiscountReason + "; " + reason
	}
	invoice.NetAmount = invoice.TotalAmount.Sub(discount)

	if len(invoice.Installments) > 0 {
		dueDates := make([]time.Time, len(invoice.Installments))
		for i, inst := range invoice.Installments {
			dueDates[i] = inst.DueDate
		}
		invoice.Installments = SplitInstallments(invoice.NetAmount, dueDates)
	}
	invoice.UpdatedAt = now.UTC()
	Refresh(invoice, now)
	return nil
}

// Balance is net minus total paid, floored at zero.
func Balance(invoice *models.Invoice) decimal.Decimal {
	balance := invoice.NetAmount.Sub(invoice.TotalPaid)
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

// DeriveStatus classifies an invoice from total paid, net amount and due date.
func DeriveStatus(invoice *models.Invoice, now time.Time) models.InvoiceStatus {
	var status models.InvoiceStatus
	switch {
	case invoice.TotalPaid.GreaterThanOrEqual(invoice.NetAmount):
		return models.InvoiceStatusPaid
	case invoice.TotalPaid.IsZero():
		status = models.InvoiceStatusUnpaid
	default:
		status = models.InvoiceStatusPartial
	}
	if !invoice.DueDate.IsZero() && now.After(invoice.DueDate) {
		return models.InvoiceStatusOverdue
	}
	return status
}

// addMonths moves t forward by whole calendar months, clamping the day to the end of the
// target month so that Jan 31 becomes Feb 28 instead of rolling into March.
func addMonths(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, months, 0)
	day := t.Day()
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// Refresh recomputes the derived balance and status.
func Refresh(invoice *models.Invoice, now time.Time) {
	invoice.Balance = Balance(invoice)
	invoice.Status = DeriveStatus(invoice, now)
}

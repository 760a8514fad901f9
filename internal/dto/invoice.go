package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

// AddPaymentRequest records money received against an invoice.
type AddPaymentRequest struct {
	Amount    decimal.Decimal      `json:"amount"`
	Method    models.PaymentMethod `json:"method" validate:"required,oneof=CASH CARD BANK_TRANSFER ONLINE"`
	Reference string               `json:"reference" validate:"max=120"`
}

// AddDiscountRequest grants a manual discount on an unpaid invoice.
type AddDiscountRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=255"`
}

package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-billing-api/internal/dto"
	"github.com/noah-isme/enrollment-billing-api/internal/middleware"
	"github.com/noah-isme/enrollment-billing-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
	"github.com/noah-isme/enrollment-billing-api/pkg/response"
)

type tuitionService interface {
	CreateInvoice(ctx context.Context, enrollmentID string) (*models.Invoice, error)
	GetInvoice(ctx context.Context, id string, actor models.Actor) (*models.Invoice, bool, error)
	GetInvoiceByEnrollment(ctx context.Context, enrollmentID string, actor models.Actor) (*models.Invoice, bool, error)
	AddPayment(ctx context.Context, invoiceID string, req dto.AddPaymentRequest, actor models.Actor) (*models.Invoice, error)
	AddDiscount(ctx context.Context, invoiceID string, req dto.AddDiscountRequest, actor models.Actor) (*models.Invoice, error)
	WriteStatement(w io.Writer, invoice *models.Invoice) error
	WritePaymentsCSV(w io.Writer, invoice *models.Invoice) error
}

// InvoiceHandler exposes tuition invoice endpoints.
type InvoiceHandler struct {
	tuition tuitionService
}

// NewInvoiceHandler constructs InvoiceHandler.
func NewInvoiceHandler(tuition tuitionService) *InvoiceHandler {
	return &InvoiceHandler{tuition: tuition}
}

// CreateForEnrollment godoc
// @Summary Create the invoice of an approved enrollment
// @Tags Invoices
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/invoice [post]
func (h *InvoiceHandler) CreateForEnrollment(c *gin.Context) {
	invoice, err := h.tuition.CreateInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invoice)
}

// GetByEnrollment godoc
// @Summary Get the invoice of an enrollment
// @Tags Invoices
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollments/{id}/invoice [get]
func (h *InvoiceHandler) GetByEnrollment(c *gin.Context) {
	invoice, hit, err := h.tuition.GetInvoiceByEnrollment(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c, invoice, hit)
}

// Get godoc
// @Summary Get invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoice, hit, err := h.tuition.GetInvoice(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c, invoice, hit)
}

// AddPayment godoc
// @Summary Record a payment
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body dto.AddPaymentRequest true "Payment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /invoices/{id}/payments [post]
func (h *InvoiceHandler) AddPayment(c *gin.Context) {
	var req dto.AddPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	invoice, err := h.tuition.AddPayment(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invoice)
}

// AddDiscount godoc
// @Summary Grant a manual discount
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body dto.AddDiscountRequest true "Discount"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/discounts [post]
func (h *InvoiceHandler) AddDiscount(c *gin.Context) {
	var req dto.AddDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	invoice, err := h.tuition.AddDiscount(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// Statement godoc
// @Summary Download the statement of account
// @Tags Invoices
// @Produce application/pdf
// @Param id path string true "Invoice ID"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /invoices/{id}/statement.pdf [get]
func (h *InvoiceHandler) Statement(c *gin.Context) {
	h.download(c, "application/pdf", "statement-%s.pdf", h.tuition.WriteStatement)
}

// PaymentsCSV godoc
// @Summary Export the payment history
// @Tags Invoices
// @Produce text/csv
// @Param id path string true "Invoice ID"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /invoices/{id}/payments.csv [get]
func (h *InvoiceHandler) PaymentsCSV(c *gin.Context) {
	h.download(c, "text/csv", "payments-%s.csv", h.tuition.WritePaymentsCSV)
}

func (h *InvoiceHandler) download(c *gin.Context, contentType, nameFormat string, render func(io.Writer, *models.Invoice) error) {
	invoice, _, err := h.tuition.GetInvoice(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	var buf bytes.Buffer
	if err := render(&buf, invoice); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render document"))
		return
	}
	response.Attachment(c, contentType, fmt.Sprintf(nameFormat, invoice.ID), buf.Bytes())
}

func (h *InvoiceHandler) respond(c *gin.Context, invoice *models.Invoice, hit bool) {
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, invoice, nil, middleware.ExtractMeta(c))
}

package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-billing-api/internal/middleware"
	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

// Routes bundles the handlers mounted under the API prefix.
type Routes struct {
	Tokens      middleware.TokenValidator
	Enrollments *EnrollmentHandler
	Invoices    *InvoiceHandler
	Offerings   *OfferingHandler
	Logger      *zap.Logger
}

// Register mounts the authenticated API on the group.
func (r Routes) Register(api *gin.RouterGroup) {
	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	billing := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleCashier)
	enrollers := middleware.RequireRoles(models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin)
	audit := func(action string) gin.HandlerFunc { return middleware.Audit(r.Logger, action) }

	secured := api.Group("")
	secured.Use(middleware.JWT(r.Tokens))

	enrollments := secured.Group("/enrollments")
	enrollments.GET("", admins, r.Enrollments.List)
	enrollments.POST("", enrollers, audit("enrollment.create"), r.Enrollments.Create)
	enrollments.GET("/:id", r.Enrollments.Get)
	enrollments.DELETE("/:id", admins, audit("enrollment.delete"), r.Enrollments.Delete)
	enrollments.POST("/:id/approve", admins, audit("enrollment.approve"), r.Enrollments.Approve)
	enrollments.POST("/:id/reject", admins, audit("enrollment.reject"), r.Enrollments.Reject)
	enrollments.POST("/:id/complete", admins, audit("enrollment.complete"), r.Enrollments.Complete)
	enrollments.DELETE("/:id/subjects/:subjectId", enrollers, audit("enrollment.drop_subject"), r.Enrollments.DropSubject)
	enrollments.POST("/:id/invoice", billing, audit("invoice.create"), r.Invoices.CreateForEnrollment)
	enrollments.GET("/:id/invoice", r.Invoices.GetByEnrollment)

	invoices := secured.Group("/invoices")
	invoices.GET("/:id", r.Invoices.Get)
	invoices.POST("/:id/payments", billing, audit("invoice.payment"), r.Invoices.AddPayment)
	invoices.POST("/:id/discounts", admins, audit("invoice.discount"), r.Invoices.AddDiscount)
	invoices.GET("/:id/statement.pdf", r.Invoices.Statement)
	invoices.GET("/:id/payments.csv", billing, r.Invoices.PaymentsCSV)

	secured.GET("/offerings/:id/seats", r.Offerings.Seats)
}

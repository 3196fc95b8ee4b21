// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/shiftwise/billing-backend/internal/config"
	"github.com/shiftwise/billing-backend/internal/handlers"
	"github.com/shiftwise/billing-backend/internal/middleware"
	"github.com/shiftwise/billing-backend/internal/services"
	"github.com/shiftwise/billing-backend/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// Initialize services
	taxService := services.NewTaxService(db)
	licenseService := services.NewLicenseService(db, cfg)
	billingService := services.NewBillingService(db, taxService, cfg)
	adjustmentService := services.NewAdjustmentService(db, taxService, cfg)
	paymentService := services.NewPaymentService(db)

	// Initialize handlers
	licenseHandler := handlers.NewLicenseHandler(licenseService)
	billingCycleHandler := handlers.NewBillingCycleHandler(billingService)
	adjustmentHandler := handlers.NewAdjustmentHandler(adjustmentService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	taxRuleHandler := handlers.NewTaxRuleHandler(taxService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired())
	{
		// License routes
		licenses := v1.Group("/licenses")
		{
			licenses.POST("", licenseHandler.CreateLicense)
			licenses.GET("", licenseHandler.GetLicenses)
			licenses.GET("/:id", licenseHandler.GetLicense)
			licenses.PUT("/:id", licenseHandler.UpdateLicense)
			licenses.POST("/:id/renew", licenseHandler.RenewLicense)
			licenses.POST("/:id/suspend", licenseHandler.SuspendLicense)
			licenses.POST("/:id/reactivate", licenseHandler.ReactivateLicense)
			licenses.POST("/:id/terminate", licenseHandler.TerminateLicense)
			licenses.POST("/deactivate-expired", middleware.AdminRequired(), licenseHandler.DeactivateExpired)
		}

		// Billing cycle routes
		billingCycles := v1.Group("/billing-cycles")
		{
			billingCycles.POST("", billingCycleHandler.CreateBillingCycle)
			billingCycles.GET("", billingCycleHandler.GetBillingCycles)
			billingCycles.GET("/:id", billingCycleHandler.GetBillingCycle)
			billingCycles.PUT("/:id", billingCycleHandler.UpdateBillingCycle)
			billingCycles.POST("/:id/invoice", billingCycleHandler.MarkAsInvoiced)
			billingCycles.POST("/:id/pay", billingCycleHandler.MarkAsPaid)
			billingCycles.POST("/:id/overdue", billingCycleHandler.MarkAsOverdue)
			billingCycles.POST("/:id/cancel", billingCycleHandler.CancelBillingCycle)
			billingCycles.POST("/mark-overdue", middleware.AdminRequired(), billingCycleHandler.MarkOverdueCycles)
			billingCycles.GET("/:id/payments", paymentHandler.ListForCycle)
			billingCycles.GET("/:id/payments/current", paymentHandler.CurrentForCycle)
		}

		// Adjustment routes
		adjustments := v1.Group("/adjustments")
		{
			adjustments.POST("", adjustmentHandler.CreateAdjustment)
			adjustments.GET("", adjustmentHandler.GetAdjustments)
			adjustments.GET("/stats/by-currency", adjustmentHandler.GetFinancialStatsByCurrency)
			adjustments.GET("/:id", adjustmentHandler.GetAdjustment)
			adjustments.POST("/:id/invoice", adjustmentHandler.MarkInvoiceSent)
			adjustments.PUT("/:id/payment-status", adjustmentHandler.UpdatePaymentStatus)
			adjustments.GET("/:id/payments", paymentHandler.ListForAdjustment)
			adjustments.GET("/:id/payments/current", paymentHandler.CurrentForAdjustment)
		}

		// Payment transaction routes
		payments := v1.Group("/payments")
		{
			payments.POST("", paymentHandler.CreateTransaction)
			payments.GET("/:id", paymentHandler.GetTransaction)
			payments.POST("/:id/process", paymentHandler.StartProcessing)
			payments.POST("/:id/complete", paymentHandler.CompleteTransaction)
			payments.POST("/:id/fail", paymentHandler.FailTransaction)
			payments.POST("/:id/cancel", paymentHandler.CancelTransaction)
			payments.POST("/:id/retry", paymentHandler.RetryTransaction)
		}

		// Tax rule routes
		taxRules := v1.Group("/tax-rules")
		{
			taxRules.GET("/lookup", taxRuleHandler.LookupTaxRule)
			taxRules.GET("", taxRuleHandler.GetTaxRules)
			taxRules.GET("/:id", taxRuleHandler.GetTaxRule)

			// Admin-only rule management
			admin := taxRules.Group("")
			admin.Use(middleware.AdminRequired(), middleware.AdminRateLimit())
			{
				admin.POST("", taxRuleHandler.CreateTaxRule)
				admin.PUT("/:id", taxRuleHandler.UpdateTaxRule)
				admin.DELETE("/:id", taxRuleHandler.DeleteTaxRule)
			}
		}
	}

	return r
}

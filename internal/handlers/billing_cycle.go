// internal/handlers/billing_cycle.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/services"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type BillingCycleHandler struct {
	billingService *services.BillingService
}

func NewBillingCycleHandler(billingService *services.BillingService) *BillingCycleHandler {
	return &BillingCycleHandler{
		billingService: billingService,
	}
}

// POST /billing-cycles
func (h *BillingCycleHandler) CreateBillingCycle(c *gin.Context) {
	var req services.CreateBillingCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	cycle, err := h.billingService.Create(&req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, cycle)
}

// GET /billing-cycles
func (h *BillingCycleHandler) GetBillingCycles(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	searchParams := services.BillingCycleSearchParams{
		PaginationParams: params,
	}

	if licenseGUIDStr := c.Query("license_guid"); licenseGUIDStr != "" {
		licenseGUID, err := uuid.Parse(licenseGUIDStr)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid license_guid", nil)
			return
		}
		searchParams.LicenseGUID = &licenseGUID
	}
	if status := c.Query("status"); status != "" {
		billingStatus := models.BillingStatus(status)
		searchParams.Status = &billingStatus
	}
	if currency := c.Query("currency"); currency != "" {
		searchParams.Currency = &currency
	}
	if from := c.Query("period_from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid period_from, expected RFC3339", nil)
			return
		}
		searchParams.PeriodFrom = &t
	}
	if to := c.Query("period_to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid period_to, expected RFC3339", nil)
			return
		}
		searchParams.PeriodTo = &t
	}
	searchParams.Overdue = c.Query("overdue") == "true"
	searchParams.DueSoon = c.Query("due_soon") == "true"

	cycles, total, err := h.billingService.Search(searchParams)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	result := utils.CreatePaginationResult(cycles, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /billing-cycles/:id
func (h *BillingCycleHandler) GetBillingCycle(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	cycle, err := h.billingService.Get(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, cycle)
}

// PUT /billing-cycles/:id
func (h *BillingCycleHandler) UpdateBillingCycle(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	var req services.UpdateBillingCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	cycle, err := h.billingService.Update(guid, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, cycle)
}

// POST /billing-cycles/:id/invoice
func (h *BillingCycleHandler) MarkAsInvoiced(c *gin.Context) {
	h.lifecycleAction(c, h.billingService.MarkAsInvoiced)
}

// POST /billing-cycles/:id/pay
func (h *BillingCycleHandler) MarkAsPaid(c *gin.Context) {
	h.lifecycleAction(c, h.billingService.MarkAsPaid)
}

// POST /billing-cycles/:id/overdue
func (h *BillingCycleHandler) MarkAsOverdue(c *gin.Context) {
	h.lifecycleAction(c, h.billingService.MarkAsOverdue)
}

// POST /billing-cycles/:id/cancel
func (h *BillingCycleHandler) CancelBillingCycle(c *gin.Context) {
	h.lifecycleAction(c, h.billingService.Cancel)
}

// POST /billing-cycles/mark-overdue
func (h *BillingCycleHandler) MarkOverdueCycles(c *gin.Context) {
	count, err := h.billingService.MarkOverdueCycles(time.Now())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"marked_overdue": count})
}

func (h *BillingCycleHandler) lifecycleAction(c *gin.Context, action func(uuid.UUID) (*models.BillingCycle, error)) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	cycle, err := action(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, cycle)
}

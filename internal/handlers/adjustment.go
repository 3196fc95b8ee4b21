// internal/handlers/adjustment.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/services"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type AdjustmentHandler struct {
	adjustmentService *services.AdjustmentService
}

func NewAdjustmentHandler(adjustmentService *services.AdjustmentService) *AdjustmentHandler {
	return &AdjustmentHandler{
		adjustmentService: adjustmentService,
	}
}

// POST /adjustments
func (h *AdjustmentHandler) CreateAdjustment(c *gin.Context) {
	var req services.CreateAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	adjustment, err := h.adjustmentService.Create(&req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, adjustment)
}

// GET /adjustments
func (h *AdjustmentHandler) GetAdjustments(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	searchParams := services.AdjustmentSearchParams{
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
		paymentStatus := models.AdjustmentPaymentStatus(status)
		searchParams.Status = &paymentStatus
	}
	if currency := c.Query("currency"); currency != "" {
		searchParams.Currency = &currency
	}

	adjustments, total, err := h.adjustmentService.Search(searchParams)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	result := utils.CreatePaginationResult(adjustments, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /adjustments/:id
func (h *AdjustmentHandler) GetAdjustment(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	adjustment, err := h.adjustmentService.Get(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, adjustment)
}

// POST /adjustments/:id/invoice
func (h *AdjustmentHandler) MarkInvoiceSent(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	adjustment, err := h.adjustmentService.MarkInvoiceSent(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, adjustment)
}

type updatePaymentStatusRequest struct {
	Status      string     `json:"status" binding:"required"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PUT /adjustments/:id/payment-status
func (h *AdjustmentHandler) UpdatePaymentStatus(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	var req updatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	adjustment, err := h.adjustmentService.UpdatePaymentStatus(guid, models.AdjustmentPaymentStatus(req.Status), req.CompletedAt)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, adjustment)
}

// GET /adjustments/stats/by-currency
func (h *AdjustmentHandler) GetFinancialStatsByCurrency(c *gin.Context) {
	stats, err := h.adjustmentService.GetFinancialStatsByCurrency()
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, stats)
}

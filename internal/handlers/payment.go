// internal/handlers/payment.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/services"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// POST /payments
func (h *PaymentHandler) CreateTransaction(c *gin.Context) {
	var req services.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	tx, err := h.paymentService.Create(&req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, tx)
}

// GET /payments/:id
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	tx, err := h.paymentService.Get(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}

// POST /payments/:id/process
func (h *PaymentHandler) StartProcessing(c *gin.Context) {
	h.lifecycleAction(c, h.paymentService.StartProcessing)
}

type completeTransactionRequest struct {
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// POST /payments/:id/complete
func (h *PaymentHandler) CompleteTransaction(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	var req completeTransactionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request body", err.Error())
			return
		}
	}

	tx, err := h.paymentService.Complete(guid, req.CompletedAt)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}

type failTransactionRequest struct {
	Reason string `json:"reason"`
}

// POST /payments/:id/fail
func (h *PaymentHandler) FailTransaction(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	var req failTransactionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request body", err.Error())
			return
		}
	}

	tx, err := h.paymentService.Fail(guid, req.Reason)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}

// POST /payments/:id/cancel
func (h *PaymentHandler) CancelTransaction(c *gin.Context) {
	h.lifecycleAction(c, h.paymentService.Cancel)
}

// POST /payments/:id/retry
func (h *PaymentHandler) RetryTransaction(c *gin.Context) {
	h.lifecycleAction(c, h.paymentService.Retry)
}

// GET /billing-cycles/:id/payments
func (h *PaymentHandler) ListForCycle(c *gin.Context) {
	h.listForTarget(c, h.paymentService.ListForCycle)
}

// GET /billing-cycles/:id/payments/current
func (h *PaymentHandler) CurrentForCycle(c *gin.Context) {
	h.currentForTarget(c, h.paymentService.CurrentForCycle)
}

// GET /adjustments/:id/payments
func (h *PaymentHandler) ListForAdjustment(c *gin.Context) {
	h.listForTarget(c, h.paymentService.ListForAdjustment)
}

// GET /adjustments/:id/payments/current
func (h *PaymentHandler) CurrentForAdjustment(c *gin.Context) {
	h.currentForTarget(c, h.paymentService.CurrentForAdjustment)
}

func (h *PaymentHandler) lifecycleAction(c *gin.Context, action func(uuid.UUID) (*models.PaymentTransaction, error)) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	tx, err := action(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}

func (h *PaymentHandler) listForTarget(c *gin.Context, list func(uuid.UUID, services.TransactionSearchParams) ([]models.PaymentTransaction, int64, error)) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	searchParams := services.TransactionSearchParams{
		PaginationParams: params,
	}
	if status := c.Query("status"); status != "" {
		txStatus := models.TransactionStatus(status)
		searchParams.Status = &txStatus
	}

	txs, total, err := list(guid, searchParams)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	result := utils.CreatePaginationResult(txs, total, params)
	utils.PaginatedResponse(c, result)
}

func (h *PaymentHandler) currentForTarget(c *gin.Context, current func(uuid.UUID) (*models.PaymentTransaction, error)) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	tx, err := current(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}

// internal/handlers/license.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/services"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type LicenseHandler struct {
	licenseService *services.LicenseService
}

func NewLicenseHandler(licenseService *services.LicenseService) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
	}
}

// POST /licenses
func (h *LicenseHandler) CreateLicense(c *gin.Context) {
	var req services.CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	license, err := h.licenseService.Create(&req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, license)
}

// GET /licenses
func (h *LicenseHandler) GetLicenses(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	searchParams := services.LicenseSearchParams{
		PaginationParams: params,
	}

	if tenantIDStr := c.Query("tenant_id"); tenantIDStr != "" {
		tenantID, err := uuid.Parse(tenantIDStr)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid tenant_id", nil)
			return
		}
		searchParams.TenantID = &tenantID
	}
	if status := c.Query("status"); status != "" {
		licenseStatus := models.LicenseStatus(status)
		searchParams.Status = &licenseStatus
	}
	if licenseType := c.Query("license_type"); licenseType != "" {
		lType := models.LicenseType(licenseType)
		searchParams.LicenseType = &lType
	}
	searchParams.ExpiringSoon = c.Query("expiring_soon") == "true"

	licenses, total, err := h.licenseService.Search(searchParams)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	result := utils.CreatePaginationResult(licenses, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /licenses/:id
func (h *LicenseHandler) GetLicense(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	license, err := h.licenseService.Get(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, license)
}

// PUT /licenses/:id
func (h *LicenseHandler) UpdateLicense(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	var req services.UpdateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	license, err := h.licenseService.Update(guid, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, license)
}

// POST /licenses/:id/renew
func (h *LicenseHandler) RenewLicense(c *gin.Context) {
	h.lifecycleAction(c, h.licenseService.Renew)
}

// POST /licenses/:id/suspend
func (h *LicenseHandler) SuspendLicense(c *gin.Context) {
	h.lifecycleAction(c, h.licenseService.Suspend)
}

// POST /licenses/:id/reactivate
func (h *LicenseHandler) ReactivateLicense(c *gin.Context) {
	h.lifecycleAction(c, h.licenseService.Reactivate)
}

// POST /licenses/:id/terminate
func (h *LicenseHandler) TerminateLicense(c *gin.Context) {
	h.lifecycleAction(c, h.licenseService.Terminate)
}

// POST /licenses/deactivate-expired
func (h *LicenseHandler) DeactivateExpired(c *gin.Context) {
	count, err := h.licenseService.DeactivateExpired(time.Now())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"deactivated": count})
}

func (h *LicenseHandler) lifecycleAction(c *gin.Context, action func(uuid.UUID) (*models.License, error)) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	license, err := action(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, license)
}

func parseGUID(c *gin.Context) (uuid.UUID, bool) {
	guid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid identifier", nil)
		return uuid.Nil, false
	}
	return guid, true
}

// internal/handlers/tax_rule.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/services"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type TaxRuleHandler struct {
	taxService *services.TaxService
}

func NewTaxRuleHandler(taxService *services.TaxService) *TaxRuleHandler {
	return &TaxRuleHandler{
		taxService: taxService,
	}
}

// GET /tax-rules/lookup
func (h *TaxRuleHandler) LookupTaxRule(c *gin.Context) {
	countryCode := c.Query("country_code")
	if countryCode == "" {
		utils.BadRequestResponse(c, "country_code is required", nil)
		return
	}
	taxType := c.Query("tax_type")
	appliesTo := c.DefaultQuery("applies_to", models.TaxAppliesToSubscription)

	ref := time.Now()
	if dateStr := c.Query("date"); dateStr != "" {
		parsed, err := time.Parse(time.RFC3339, dateStr)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid date, expected RFC3339", err.Error())
			return
		}
		ref = parsed
	}

	rule, err := h.taxService.Lookup(countryCode, taxType, appliesTo, ref)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, rule)
}

// GET /tax-rules
func (h *TaxRuleHandler) GetTaxRules(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	searchParams := services.TaxRuleSearchParams{
		PaginationParams: params,
	}

	if countryCode := c.Query("country_code"); countryCode != "" {
		searchParams.CountryCode = &countryCode
	}
	if taxType := c.Query("tax_type"); taxType != "" {
		searchParams.TaxType = &taxType
	}
	if activeStr := c.Query("active"); activeStr != "" {
		active := activeStr == "true"
		searchParams.Active = &active
	}

	rules, total, err := h.taxService.SearchRules(searchParams)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	result := utils.CreatePaginationResult(rules, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /tax-rules/:id
func (h *TaxRuleHandler) GetTaxRule(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	rule, err := h.taxService.GetRule(guid)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, rule)
}

// POST /tax-rules
func (h *TaxRuleHandler) CreateTaxRule(c *gin.Context) {
	var req services.CreateTaxRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	rule, err := h.taxService.CreateRule(&req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, rule)
}

// PUT /tax-rules/:id
func (h *TaxRuleHandler) UpdateTaxRule(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	var req services.UpdateTaxRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	rule, err := h.taxService.UpdateRule(guid, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, rule)
}

// DELETE /tax-rules/:id
func (h *TaxRuleHandler) DeleteTaxRule(c *gin.Context) {
	guid, ok := parseGUID(c)
	if !ok {
		return
	}

	if err := h.taxService.DeleteRule(guid); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"deleted": true})
}

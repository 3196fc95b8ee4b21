// internal/services/tax_service.go
package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type TaxService struct {
	db *gorm.DB
}

func NewTaxService(db *gorm.DB) *TaxService {
	return &TaxService{db: db}
}

type CreateTaxRuleRequest struct {
	CountryCode       string          `json:"country_code" validate:"required,iso_country_code"`
	TaxType           string          `json:"tax_type" validate:"required"`
	TaxName           string          `json:"tax_name" validate:"required"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	AppliesTo         string          `json:"applies_to" validate:"required,oneof=subscription adjustment all"`
	RequiredTaxNumber bool            `json:"required_tax_number"`
	EffectiveDate     time.Time       `json:"effective_date" validate:"required"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
}

type UpdateTaxRuleRequest struct {
	TaxName           *string          `json:"tax_name,omitempty"`
	TaxRate           *decimal.Decimal `json:"tax_rate,omitempty"`
	RequiredTaxNumber *bool            `json:"required_tax_number,omitempty"`
	EffectiveDate     *time.Time       `json:"effective_date,omitempty"`
	ExpiryDate        *time.Time       `json:"expiry_date,omitempty"`
	Active            *bool            `json:"active,omitempty"`
}

type TaxRuleSearchParams struct {
	utils.PaginationParams
	CountryCode *string `json:"country_code,omitempty"`
	TaxType     *string `json:"tax_type,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// Lookup resolves the active rule for a country/tax-type/applies-to
// combination whose effective window contains the reference date. Rules
// scoped to "all" match any applies-to value; a more specific rule wins.
func (s *TaxService) Lookup(countryCode, taxType, appliesTo string, ref time.Time) (*models.TaxRule, error) {
	var rule models.TaxRule
	err := s.db.
		Where("country_code = ? AND tax_type = ? AND active = ?", countryCode, taxType, true).
		Where("applies_to IN ?", []string{appliesTo, models.TaxAppliesToAll}).
		Where("effective_date <= ?", ref).
		Where("expiry_date IS NULL OR expiry_date > ?", ref).
		Order("CASE WHEN applies_to = 'all' THEN 1 ELSE 0 END").
		Order("effective_date DESC").
		First(&rule).Error
	if err != nil {
		return nil, notFoundOr(err, "tax rule")
	}
	return &rule, nil
}

func (s *TaxService) CreateRule(req *CreateTaxRuleRequest) (*models.TaxRule, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	rule := &models.TaxRule{
		CountryCode:       req.CountryCode,
		TaxType:           req.TaxType,
		TaxName:           req.TaxName,
		TaxRate:           req.TaxRate,
		AppliesTo:         req.AppliesTo,
		RequiredTaxNumber: req.RequiredTaxNumber,
		EffectiveDate:     req.EffectiveDate,
		ExpiryDate:        req.ExpiryDate,
		Active:            true,
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.Create(rule).Error; err != nil {
		return nil, apperr.Persistence("failed to create tax rule", err)
	}
	return rule, nil
}

func (s *TaxService) UpdateRule(guid uuid.UUID, req *UpdateTaxRuleRequest) (*models.TaxRule, error) {
	var rule models.TaxRule
	if err := s.db.Where("guid = ?", guid).First(&rule).Error; err != nil {
		return nil, notFoundOr(err, "tax rule")
	}

	frozen, err := s.referencedBySettledCycle(rule.ID)
	if err != nil {
		return nil, err
	}
	if frozen {
		return nil, apperr.Conflict("tax rule is referenced by a settled billing cycle and cannot be modified")
	}

	if req.TaxName != nil {
		rule.TaxName = *req.TaxName
	}
	if req.TaxRate != nil {
		rule.TaxRate = *req.TaxRate
	}
	if req.RequiredTaxNumber != nil {
		rule.RequiredTaxNumber = *req.RequiredTaxNumber
	}
	if req.EffectiveDate != nil {
		rule.EffectiveDate = *req.EffectiveDate
	}
	if req.ExpiryDate != nil {
		rule.ExpiryDate = req.ExpiryDate
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.Save(&rule).Error; err != nil {
		return nil, apperr.Persistence("failed to update tax rule", err)
	}
	return &rule, nil
}

func (s *TaxService) DeleteRule(guid uuid.UUID) error {
	var rule models.TaxRule
	if err := s.db.Where("guid = ?", guid).First(&rule).Error; err != nil {
		return notFoundOr(err, "tax rule")
	}

	frozen, err := s.referencedBySettledCycle(rule.ID)
	if err != nil {
		return err
	}
	if frozen {
		return apperr.Conflict("tax rule is referenced by a settled billing cycle and cannot be deleted")
	}

	if err := s.db.Delete(&rule).Error; err != nil {
		return apperr.Persistence("failed to delete tax rule", err)
	}
	return nil
}

func (s *TaxService) GetRule(guid uuid.UUID) (*models.TaxRule, error) {
	var rule models.TaxRule
	if err := s.db.Where("guid = ?", guid).First(&rule).Error; err != nil {
		return nil, notFoundOr(err, "tax rule")
	}
	return &rule, nil
}

func (s *TaxService) SearchRules(params TaxRuleSearchParams) ([]models.TaxRule, int64, error) {
	query := s.db.Model(&models.TaxRule{})

	if params.CountryCode != nil {
		query = query.Where("country_code = ?", *params.CountryCode)
	}
	if params.TaxType != nil {
		query = query.Where("tax_type = ?", *params.TaxType)
	}
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tax rules: %w", err)
	}

	allowedSortFields := []string{"created_at", "effective_date", "country_code", "tax_type"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var rules []models.TaxRule
	if err := query.Find(&rules).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch tax rules: %w", err)
	}

	return rules, total, nil
}

// referencedBySettledCycle reports whether any completed billing cycle
// carries a tax line pointing at the rule.
func (s *TaxService) referencedBySettledCycle(ruleID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.BillingCycleTaxLine{}).
		Joins("JOIN billing_cycles ON billing_cycles.id = billing_cycle_tax_lines.billing_cycle_id").
		Where("billing_cycle_tax_lines.tax_rule_id = ?", ruleID).
		Where("billing_cycles.billing_status = ?", models.BillingStatusCompleted).
		Count(&count).Error
	if err != nil {
		return false, apperr.Persistence("failed to check tax rule references", err)
	}
	return count > 0, nil
}

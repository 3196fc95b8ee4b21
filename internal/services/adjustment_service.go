// internal/services/adjustment_service.go
package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/config"
	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type AdjustmentService struct {
	db         *gorm.DB
	taxService *TaxService
	cfg        *config.Config
}

func NewAdjustmentService(db *gorm.DB, taxService *TaxService, cfg *config.Config) *AdjustmentService {
	return &AdjustmentService{db: db, taxService: taxService, cfg: cfg}
}

type CreateAdjustmentRequest struct {
	LicenseGUID         uuid.UUID `json:"license_guid" validate:"required"`
	EmployeesAddedCount int       `json:"employees_added_count" validate:"required,gt=0"`

	// MonthsRemaining defaults to the whole months left until the end of
	// the license's current period.
	MonthsRemaining *int `json:"months_remaining,omitempty" validate:"omitempty,gt=0"`
	// PricePerEmployeeUSD defaults to the license base price.
	PricePerEmployeeUSD *decimal.Decimal `json:"price_per_employee_usd,omitempty"`

	TaxAmountUSD   *decimal.Decimal `json:"tax_amount_usd,omitempty"`
	TaxCountryCode string           `json:"tax_country_code,omitempty" validate:"omitempty,iso_country_code"`
	TaxType        string           `json:"tax_type,omitempty"`

	BillingCurrencyCode   string          `json:"billing_currency_code" validate:"required,currency_code"`
	ExchangeRate          decimal.Decimal `json:"exchange_rate"`
	PaymentDueImmediately bool            `json:"payment_due_immediately"`

	SubtotalLocal    *decimal.Decimal `json:"subtotal_local,omitempty"`
	TaxAmountLocal   *decimal.Decimal `json:"tax_amount_local,omitempty"`
	TotalAmountLocal *decimal.Decimal `json:"total_amount_local,omitempty"`
}

type AdjustmentSearchParams struct {
	utils.PaginationParams
	LicenseGUID *uuid.UUID                      `json:"license_guid,omitempty"`
	Status      *models.AdjustmentPaymentStatus `json:"status,omitempty"`
	Currency    *string                         `json:"currency,omitempty"`
}

// CurrencyFinancialStats is one row of the per-currency aggregate report.
type CurrencyFinancialStats struct {
	BillingCurrencyCode  string          `json:"billing_currency_code"`
	Count                int64           `json:"count"`
	TotalAmountUSD       decimal.Decimal `json:"total_amount_usd"`
	TotalAmountLocal     decimal.Decimal `json:"total_amount_local"`
	PendingAmountUSD     decimal.Decimal `json:"pending_amount_usd"`
	PendingAmountLocal   decimal.Decimal `json:"pending_amount_local"`
	CompletedAmountUSD   decimal.Decimal `json:"completed_amount_usd"`
	CompletedAmountLocal decimal.Decimal `json:"completed_amount_local"`
	AverageExchangeRate  decimal.Decimal `json:"average_exchange_rate"`
}

// Create records a mid-cycle seat increase as a standalone billable event:
// the addition is prorated by months remaining, the seat ledger gains a
// row, and the adjustment is settled out of band from the main cycle.
func (s *AdjustmentService) Create(req *CreateAdjustmentRequest) (*models.LicenseAdjustment, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var license models.License
	if err := s.db.Where("guid = ?", req.LicenseGUID).First(&license).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}

	now := time.Now()
	if !license.IsActive(now) {
		return nil, apperr.Conflict("license is not active")
	}

	months := 0
	if req.MonthsRemaining != nil {
		months = *req.MonthsRemaining
	} else {
		months = wholeMonthsUntil(now, license.CurrentPeriodEnd)
		if months > license.BillingCycleMonths {
			months = license.BillingCycleMonths
		}
	}
	if months <= 0 {
		return nil, apperr.InvalidValue("no months remain in the current billing cycle")
	}

	price := license.BasePriceUSD
	if req.PricePerEmployeeUSD != nil {
		price = *req.PricePerEmployeeUSD
	}

	rate := req.ExchangeRate
	if req.BillingCurrencyCode == models.CurrencyUSD && rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	adjustment := &models.LicenseAdjustment{
		GlobalLicenseID:       license.ID,
		EmployeesAddedCount:   req.EmployeesAddedCount,
		MonthsRemaining:       months,
		PricePerEmployeeUSD:   price,
		BillingCurrencyCode:   req.BillingCurrencyCode,
		ExchangeRateUsed:      rate,
		PaymentStatus:         models.AdjustmentPaymentPending,
		PaymentDueImmediately: req.PaymentDueImmediately,
	}

	if req.TaxAmountUSD != nil {
		adjustment.TaxAmountUSD = *req.TaxAmountUSD
	} else if req.TaxCountryCode != "" {
		subtotal := models.RoundMoney(price.
			Mul(decimal.NewFromInt(int64(req.EmployeesAddedCount))).
			Mul(decimal.NewFromInt(int64(months))))
		rule, err := s.taxService.Lookup(req.TaxCountryCode, req.TaxType, models.TaxAppliesToAdjustment, now)
		if err != nil {
			if !apperr.IsKind(err, apperr.KindNotFound) {
				return nil, fmt.Errorf("tax lookup failed: %w", err)
			}
		} else {
			adjustment.TaxAmountUSD = rule.TaxFor(subtotal)
		}
	}

	adjustment.CalculateAmounts(req.SubtotalLocal, req.TaxAmountLocal, req.TotalAmountLocal)

	if err := adjustment.Validate(); err != nil {
		return nil, err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(adjustment).Error; err != nil {
			return apperr.Persistence("failed to create adjustment", err)
		}
		seat := &models.LicenseSeat{
			LicenseID:   license.ID,
			SeatsAdded:  req.EmployeesAddedCount,
			Source:      models.SeatSourceAdjustment,
			EffectiveAt: now,
		}
		if err := tx.Create(seat).Error; err != nil {
			return apperr.Persistence("failed to record added seats", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return adjustment, nil
}

func (s *AdjustmentService) Get(guid uuid.UUID) (*models.LicenseAdjustment, error) {
	var adjustment models.LicenseAdjustment
	if err := s.db.Where("guid = ?", guid).First(&adjustment).Error; err != nil {
		return nil, notFoundOr(err, "adjustment")
	}
	return &adjustment, nil
}

// MarkInvoiceSent stamps invoice_sent_at; the payment status is untouched.
func (s *AdjustmentService) MarkInvoiceSent(guid uuid.UUID) (*models.LicenseAdjustment, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		var adjustment models.LicenseAdjustment
		if err := s.db.Where("guid = ?", guid).First(&adjustment).Error; err != nil {
			return nil, notFoundOr(err, "adjustment")
		}

		now := time.Now()
		adjustment.InvoiceSentAt = &now

		currentVersion := adjustment.Version
		adjustment.Version++
		err := saveWithVersion(s.db, &adjustment, currentVersion)
		if err == nil {
			return &adjustment, nil
		}
		if !isConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// UpdatePaymentStatus drives the adjustment's payment lifecycle through
// the shared transition table. payment_completed_at is stamped only on
// the transition into COMPLETED.
func (s *AdjustmentService) UpdatePaymentStatus(guid uuid.UUID, target models.AdjustmentPaymentStatus, completedAt *time.Time) (*models.LicenseAdjustment, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		var adjustment models.LicenseAdjustment
		if err := s.db.Where("guid = ?", guid).First(&adjustment).Error; err != nil {
			return nil, notFoundOr(err, "adjustment")
		}

		if err := models.AdjustmentPaymentTransitions.Validate(adjustment.PaymentStatus, target); err != nil {
			return nil, err
		}

		adjustment.PaymentStatus = target
		if target == models.AdjustmentPaymentCompleted {
			when := time.Now()
			if completedAt != nil {
				when = *completedAt
			}
			adjustment.PaymentCompletedAt = &when
		}

		if err := adjustment.Validate(); err != nil {
			return nil, err
		}

		currentVersion := adjustment.Version
		adjustment.Version++
		err := saveWithVersion(s.db, &adjustment, currentVersion)
		if err == nil {
			return &adjustment, nil
		}
		if !isConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *AdjustmentService) Search(params AdjustmentSearchParams) ([]models.LicenseAdjustment, int64, error) {
	query := s.db.Model(&models.LicenseAdjustment{})

	if params.LicenseGUID != nil {
		query = query.Where("global_license_id = (?)",
			s.db.Model(&models.License{}).Select("id").Where("guid = ?", *params.LicenseGUID))
	}
	if params.Status != nil {
		query = query.Where("payment_status = ?", *params.Status)
	}
	if params.Currency != nil {
		query = query.Where("billing_currency_code = ?", *params.Currency)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count adjustments: %w", err)
	}

	allowedSortFields := []string{"created_at", "payment_status", "total_amount_usd"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var adjustments []models.LicenseAdjustment
	if err := query.Find(&adjustments).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch adjustments: %w", err)
	}

	return adjustments, total, nil
}

// GetFinancialStatsByCurrency groups every adjustment by billing currency
// and reports counts, totals by payment state and the mean exchange rate.
// The grouping runs in the store, not over an in-memory scan.
func (s *AdjustmentService) GetFinancialStatsByCurrency() ([]CurrencyFinancialStats, error) {
	var rows []CurrencyFinancialStats
	err := s.db.Model(&models.LicenseAdjustment{}).
		Select(`billing_currency_code,
			COUNT(*) AS count,
			SUM(total_amount_usd) AS total_amount_usd,
			SUM(total_amount_local) AS total_amount_local,
			SUM(CASE WHEN payment_status IN ('pending','processing') THEN total_amount_usd ELSE 0 END) AS pending_amount_usd,
			SUM(CASE WHEN payment_status IN ('pending','processing') THEN total_amount_local ELSE 0 END) AS pending_amount_local,
			SUM(CASE WHEN payment_status = 'completed' THEN total_amount_usd ELSE 0 END) AS completed_amount_usd,
			SUM(CASE WHEN payment_status = 'completed' THEN total_amount_local ELSE 0 END) AS completed_amount_local,
			AVG(exchange_rate_used) AS average_exchange_rate`).
		Group("billing_currency_code").
		Order("billing_currency_code").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Persistence("failed to aggregate adjustment stats", err)
	}

	return lo.Map(rows, func(row CurrencyFinancialStats, _ int) CurrencyFinancialStats {
		row.AverageExchangeRate = row.AverageExchangeRate.Round(6)
		return row
	}), nil
}

// wholeMonthsUntil counts calendar months from now until end, rounding up
// so a partially elapsed month still bills.
func wholeMonthsUntil(now, end time.Time) int {
	months := 0
	cursor := now
	for cursor.Before(end) {
		cursor = cursor.AddDate(0, 1, 0)
		months++
	}
	return months
}

// internal/services/billing_service.go
package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/config"
	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type BillingService struct {
	db         *gorm.DB
	taxService *TaxService
	cfg        *config.Config
}

func NewBillingService(db *gorm.DB, taxService *TaxService, cfg *config.Config) *BillingService {
	return &BillingService{db: db, taxService: taxService, cfg: cfg}
}

type CreateBillingCycleRequest struct {
	LicenseGUID        uuid.UUID `json:"license_guid" validate:"required"`
	PeriodStart        time.Time `json:"period_start" validate:"required"`
	PeriodEnd          time.Time `json:"period_end" validate:"required"`
	BaseEmployeeCount  int       `json:"base_employee_count" validate:"gte=0"`
	FinalEmployeeCount int       `json:"final_employee_count" validate:"gte=0"`

	// BaseAmountUSD defaults to the license period price when omitted.
	BaseAmountUSD        *decimal.Decimal `json:"base_amount_usd,omitempty"`
	AdjustmentsAmountUSD *decimal.Decimal `json:"adjustments_amount_usd,omitempty"`
	// TaxAmountUSD wins over a tax-rule lookup when supplied.
	TaxAmountUSD   *decimal.Decimal `json:"tax_amount_usd,omitempty"`
	TaxCountryCode string           `json:"tax_country_code,omitempty" validate:"omitempty,iso_country_code"`
	TaxType        string           `json:"tax_type,omitempty"`

	BillingCurrencyCode string          `json:"billing_currency_code" validate:"required,currency_code"`
	ExchangeRate        decimal.Decimal `json:"exchange_rate"`
	PaymentDueDate      *time.Time      `json:"payment_due_date,omitempty"`

	// Explicit local-currency values; non-nil wins over usd x rate.
	BaseAmountLocal        *decimal.Decimal `json:"base_amount_local,omitempty"`
	AdjustmentsAmountLocal *decimal.Decimal `json:"adjustments_amount_local,omitempty"`
	SubtotalLocal          *decimal.Decimal `json:"subtotal_local,omitempty"`
	TaxAmountLocal         *decimal.Decimal `json:"tax_amount_local,omitempty"`
	TotalAmountLocal       *decimal.Decimal `json:"total_amount_local,omitempty"`
}

type UpdateBillingCycleRequest struct {
	BaseEmployeeCount    *int             `json:"base_employee_count,omitempty"`
	FinalEmployeeCount   *int             `json:"final_employee_count,omitempty"`
	BaseAmountUSD        *decimal.Decimal `json:"base_amount_usd,omitempty"`
	AdjustmentsAmountUSD *decimal.Decimal `json:"adjustments_amount_usd,omitempty"`
	TaxAmountUSD         *decimal.Decimal `json:"tax_amount_usd,omitempty"`
	ExchangeRate         *decimal.Decimal `json:"exchange_rate,omitempty"`
	PaymentDueDate       *time.Time       `json:"payment_due_date,omitempty"`

	BaseAmountLocal        *decimal.Decimal `json:"base_amount_local,omitempty"`
	AdjustmentsAmountLocal *decimal.Decimal `json:"adjustments_amount_local,omitempty"`
	SubtotalLocal          *decimal.Decimal `json:"subtotal_local,omitempty"`
	TaxAmountLocal         *decimal.Decimal `json:"tax_amount_local,omitempty"`
	TotalAmountLocal       *decimal.Decimal `json:"total_amount_local,omitempty"`
}

type BillingCycleSearchParams struct {
	utils.PaginationParams
	LicenseGUID *uuid.UUID            `json:"license_guid,omitempty"`
	Status      *models.BillingStatus `json:"status,omitempty"`
	Currency    *string               `json:"currency,omitempty"`
	PeriodFrom  *time.Time            `json:"period_from,omitempty"`
	PeriodTo    *time.Time            `json:"period_to,omitempty"`
	Overdue     bool                  `json:"overdue,omitempty"`
	DueSoon     bool                  `json:"due_soon,omitempty"`
}

// Create computes and persists one recurring invoice for a license. Base
// amount defaults to the license period price; tax defaults to a rule
// lookup when a country is supplied. All derivation happens before the
// record reaches the store.
func (s *BillingService) Create(req *CreateBillingCycleRequest) (*models.BillingCycle, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var license models.License
	if err := s.db.Where("guid = ?", req.LicenseGUID).First(&license).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}

	rate := req.ExchangeRate
	if req.BillingCurrencyCode == models.CurrencyUSD && rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	cycle := &models.BillingCycle{
		GlobalLicenseID:     license.ID,
		PeriodStart:         req.PeriodStart,
		PeriodEnd:           req.PeriodEnd,
		BaseEmployeeCount:   req.BaseEmployeeCount,
		FinalEmployeeCount:  req.FinalEmployeeCount,
		BillingCurrencyCode: req.BillingCurrencyCode,
		ExchangeRateUsed:    rate,
		BillingStatus:       models.BillingStatusPending,
	}

	if req.BaseAmountUSD != nil {
		cycle.BaseAmountUSD = *req.BaseAmountUSD
	} else {
		seatTotal := struct{ Total int64 }{}
		err := s.db.Model(&models.LicenseSeat{}).
			Where("license_id = ?", license.ID).
			Select("COALESCE(SUM(seats_added), 0) AS total").
			Scan(&seatTotal).Error
		if err != nil {
			return nil, apperr.Persistence("failed to read seat ledger", err)
		}
		license.TotalSeatsPurchased = int(seatTotal.Total)
		cycle.BaseAmountUSD = license.CalculatePeriodPrice()
	}
	if req.AdjustmentsAmountUSD != nil {
		cycle.AdjustmentsAmountUSD = *req.AdjustmentsAmountUSD
	}

	if req.PaymentDueDate != nil {
		cycle.PaymentDueDate = *req.PaymentDueDate
	} else {
		cycle.PaymentDueDate = req.PeriodEnd.AddDate(0, 0, s.cfg.Billing.PaymentDueDays)
	}

	var taxLine *models.BillingCycleTaxLine
	if req.TaxAmountUSD != nil {
		cycle.TaxAmountUSD = *req.TaxAmountUSD
	} else if req.TaxCountryCode != "" {
		subtotal := cycle.BaseAmountUSD.Add(cycle.AdjustmentsAmountUSD)
		rule, err := s.taxService.Lookup(req.TaxCountryCode, req.TaxType, models.TaxAppliesToSubscription, req.PeriodEnd)
		if err != nil {
			if !apperr.IsKind(err, apperr.KindNotFound) {
				return nil, fmt.Errorf("tax lookup failed: %w", err)
			}
		} else {
			cycle.TaxAmountUSD = rule.TaxFor(subtotal)
			taxLine = &models.BillingCycleTaxLine{
				TaxRuleID: &rule.ID,
				Position:  0,
				TaxName:   rule.TaxName,
				TaxType:   rule.TaxType,
				TaxRate:   rule.TaxRate,
				AmountUSD: cycle.TaxAmountUSD,
			}
		}
	}

	cycle.CalculateAmounts(models.LocalAmountOverrides{
		Base:        req.BaseAmountLocal,
		Adjustments: req.AdjustmentsAmountLocal,
		Subtotal:    req.SubtotalLocal,
		Tax:         req.TaxAmountLocal,
		Total:       req.TotalAmountLocal,
	})
	if taxLine != nil {
		taxLine.AmountLocal = cycle.TaxAmountLocal
		cycle.TaxLines = []models.BillingCycleTaxLine{*taxLine}
	}

	if err := cycle.Validate(time.Now()); err != nil {
		return nil, err
	}

	if err := s.db.Create(cycle).Error; err != nil {
		return nil, apperr.Persistence("failed to create billing cycle", err)
	}
	return cycle, nil
}

// Update re-derives the amounts from the merged state and persists with an
// optimistic version check. Terminal cycles cannot be modified.
func (s *BillingService) Update(guid uuid.UUID, req *UpdateBillingCycleRequest) (*models.BillingCycle, error) {
	var cycle models.BillingCycle
	if err := s.db.Where("guid = ?", guid).First(&cycle).Error; err != nil {
		return nil, notFoundOr(err, "billing cycle")
	}

	if cycle.IsTerminal() {
		return nil, apperr.IllegalTransition("billing cycle in %s status cannot be modified", cycle.BillingStatus)
	}

	if req.BaseEmployeeCount != nil {
		cycle.BaseEmployeeCount = *req.BaseEmployeeCount
	}
	if req.FinalEmployeeCount != nil {
		cycle.FinalEmployeeCount = *req.FinalEmployeeCount
	}
	if req.BaseAmountUSD != nil {
		cycle.BaseAmountUSD = *req.BaseAmountUSD
	}
	if req.AdjustmentsAmountUSD != nil {
		cycle.AdjustmentsAmountUSD = *req.AdjustmentsAmountUSD
	}
	if req.TaxAmountUSD != nil {
		cycle.TaxAmountUSD = *req.TaxAmountUSD
	}
	if req.ExchangeRate != nil {
		cycle.ExchangeRateUsed = *req.ExchangeRate
	}
	if req.PaymentDueDate != nil {
		cycle.PaymentDueDate = *req.PaymentDueDate
	}

	cycle.CalculateAmounts(models.LocalAmountOverrides{
		Base:        req.BaseAmountLocal,
		Adjustments: req.AdjustmentsAmountLocal,
		Subtotal:    req.SubtotalLocal,
		Tax:         req.TaxAmountLocal,
		Total:       req.TotalAmountLocal,
	})

	if err := cycle.Validate(time.Now()); err != nil {
		return nil, err
	}

	currentVersion := cycle.Version
	cycle.Version++
	if err := saveWithVersion(s.db, &cycle, currentVersion); err != nil {
		return nil, err
	}
	return &cycle, nil
}

func (s *BillingService) Get(guid uuid.UUID) (*models.BillingCycle, error) {
	var cycle models.BillingCycle
	err := s.db.Preload("TaxLines", func(db *gorm.DB) *gorm.DB {
		return db.Order("billing_cycle_tax_lines.position")
	}).Where("guid = ?", guid).First(&cycle).Error
	if err != nil {
		return nil, notFoundOr(err, "billing cycle")
	}
	return &cycle, nil
}

// MarkAsInvoiced stamps invoice_generated_at and moves the cycle into
// PROCESSING.
func (s *BillingService) MarkAsInvoiced(guid uuid.UUID) (*models.BillingCycle, error) {
	return s.transition(guid, models.BillingStatusProcessing, func(cycle *models.BillingCycle, now time.Time) error {
		cycle.InvoiceGeneratedAt = &now
		return nil
	})
}

// MarkAsPaid stamps payment_completed_at and completes the cycle. The
// model guard rejects completion without a generated invoice.
func (s *BillingService) MarkAsPaid(guid uuid.UUID) (*models.BillingCycle, error) {
	return s.transition(guid, models.BillingStatusCompleted, func(cycle *models.BillingCycle, now time.Time) error {
		cycle.PaymentCompletedAt = &now
		return nil
	})
}

// MarkAsOverdue fails unless the payment due date has already passed.
func (s *BillingService) MarkAsOverdue(guid uuid.UUID) (*models.BillingCycle, error) {
	return s.transition(guid, models.BillingStatusOverdue, func(cycle *models.BillingCycle, now time.Time) error {
		if !now.After(cycle.PaymentDueDate) {
			return apperr.IllegalTransition("payment_due_date %s has not passed", cycle.PaymentDueDate.Format(time.RFC3339))
		}
		return nil
	})
}

func (s *BillingService) Cancel(guid uuid.UUID) (*models.BillingCycle, error) {
	return s.transition(guid, models.BillingStatusCancelled, nil)
}

// MarkOverdueCycles is the externally triggered sweep flagging every open
// cycle whose due date has passed. Idempotent, one UPDATE.
func (s *BillingService) MarkOverdueCycles(now time.Time) (int64, error) {
	res := s.db.Model(&models.BillingCycle{}).
		Where("billing_status IN ?", []models.BillingStatus{models.BillingStatusPending, models.BillingStatusProcessing}).
		Where("payment_due_date < ?", now).
		Updates(map[string]interface{}{
			"billing_status": models.BillingStatusOverdue,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, apperr.Persistence("failed to mark overdue cycles", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *BillingService) Search(params BillingCycleSearchParams) ([]models.BillingCycle, int64, error) {
	query := s.db.Model(&models.BillingCycle{})

	if params.LicenseGUID != nil {
		query = query.Where("global_license_id = (?)",
			s.db.Model(&models.License{}).Select("id").Where("guid = ?", *params.LicenseGUID))
	}
	if params.Status != nil {
		query = query.Where("billing_status = ?", *params.Status)
	}
	if params.Currency != nil {
		query = query.Where("billing_currency_code = ?", *params.Currency)
	}
	if params.PeriodFrom != nil {
		query = query.Where("period_start >= ?", *params.PeriodFrom)
	}
	if params.PeriodTo != nil {
		query = query.Where("period_end <= ?", *params.PeriodTo)
	}
	if params.Overdue {
		query = query.Where("billing_status IN ?", []models.BillingStatus{models.BillingStatusPending, models.BillingStatusProcessing, models.BillingStatusOverdue}).
			Where("payment_due_date < ?", time.Now())
	}
	if params.DueSoon {
		window := time.Now().AddDate(0, 0, s.cfg.Billing.DueSoonDays)
		query = query.Where("billing_status IN ?", []models.BillingStatus{models.BillingStatusPending, models.BillingStatusProcessing}).
			Where("payment_due_date BETWEEN ? AND ?", time.Now(), window)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count billing cycles: %w", err)
	}

	allowedSortFields := []string{"created_at", "period_start", "payment_due_date", "billing_status", "total_amount_usd"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var cycles []models.BillingCycle
	if err := query.Find(&cycles).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch billing cycles: %w", err)
	}

	return cycles, total, nil
}

// transition drives one status change through the shared table with a
// compare-and-swap write, re-reading and re-validating on conflict.
func (s *BillingService) transition(guid uuid.UUID, target models.BillingStatus, mutate func(*models.BillingCycle, time.Time) error) (*models.BillingCycle, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		var cycle models.BillingCycle
		if err := s.db.Where("guid = ?", guid).First(&cycle).Error; err != nil {
			return nil, notFoundOr(err, "billing cycle")
		}

		if err := models.BillingStatusTransitions.Validate(cycle.BillingStatus, target); err != nil {
			return nil, err
		}

		now := time.Now()
		if mutate != nil {
			if err := mutate(&cycle, now); err != nil {
				return nil, err
			}
		}
		cycle.BillingStatus = target

		if err := cycle.Validate(now); err != nil {
			return nil, err
		}

		currentVersion := cycle.Version
		cycle.Version++
		err := saveWithVersion(s.db, &cycle, currentVersion)
		if err == nil {
			return &cycle, nil
		}
		if !isConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// internal/services/license_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/config"
	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type LicenseService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewLicenseService(db *gorm.DB, cfg *config.Config) *LicenseService {
	return &LicenseService{db: db, cfg: cfg}
}

type CreateLicenseRequest struct {
	TenantID           uuid.UUID          `json:"tenant_id" validate:"required"`
	LicenseType        models.LicenseType `json:"license_type" validate:"required"`
	BillingCycleMonths int                `json:"billing_cycle_months" validate:"required"`
	BasePriceUSD       decimal.Decimal    `json:"base_price_usd"`
	MinimumSeats       int                `json:"minimum_seats" validate:"required,gte=1"`
	CurrentPeriodStart time.Time          `json:"current_period_start" validate:"required"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" validate:"required"`
	NextRenewalDate    time.Time          `json:"next_renewal_date" validate:"required"`
	SeatsPurchased     int                `json:"seats_purchased" validate:"omitempty,gte=0"`
	Modules            []string           `json:"modules,omitempty"`
}

type UpdateLicenseRequest struct {
	LicenseType        *models.LicenseType `json:"license_type,omitempty"`
	BillingCycleMonths *int                `json:"billing_cycle_months,omitempty"`
	BasePriceUSD       *decimal.Decimal    `json:"base_price_usd,omitempty"`
	MinimumSeats       *int                `json:"minimum_seats,omitempty"`
	CurrentPeriodStart *time.Time          `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time          `json:"current_period_end,omitempty"`
	NextRenewalDate    *time.Time          `json:"next_renewal_date,omitempty"`
	Modules            []string            `json:"modules,omitempty"`
}

type LicenseSearchParams struct {
	utils.PaginationParams
	TenantID     *uuid.UUID            `json:"tenant_id,omitempty"`
	Status       *models.LicenseStatus `json:"status,omitempty"`
	LicenseType  *models.LicenseType   `json:"license_type,omitempty"`
	ExpiringSoon bool                  `json:"expiring_soon,omitempty"`
}

// Create validates and persists a new license and writes the signup entry
// into the seat ledger. The returned record already carries the refreshed
// seat aggregate.
func (s *LicenseService) Create(req *CreateLicenseRequest) (*models.License, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	license := &models.License{
		TenantID:           req.TenantID,
		LicenseType:        req.LicenseType,
		BillingCycleMonths: req.BillingCycleMonths,
		BasePriceUSD:       req.BasePriceUSD,
		MinimumSeats:       req.MinimumSeats,
		CurrentPeriodStart: req.CurrentPeriodStart,
		CurrentPeriodEnd:   req.CurrentPeriodEnd,
		NextRenewalDate:    req.NextRenewalDate,
		Status:             models.LicenseStatusActive,
		Modules:            req.Modules,
	}

	if err := license.Validate(); err != nil {
		return nil, err
	}

	seats := req.SeatsPurchased
	if seats == 0 {
		seats = req.MinimumSeats
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(license).Error; err != nil {
			return apperr.Persistence("failed to create license", err)
		}
		seat := &models.LicenseSeat{
			LicenseID:   license.ID,
			SeatsAdded:  seats,
			Source:      models.SeatSourceSignup,
			EffectiveAt: req.CurrentPeriodStart,
		}
		if err := tx.Create(seat).Error; err != nil {
			return apperr.Persistence("failed to record purchased seats", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.refreshComputed(license)
	return license, nil
}

// Update applies partial-update semantics: only supplied fields overwrite,
// the rest stay untouched. The merged record is re-validated before any
// write reaches the store.
func (s *LicenseService) Update(guid uuid.UUID, req *UpdateLicenseRequest) (*models.License, error) {
	var license models.License
	if err := s.db.Where("guid = ?", guid).First(&license).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}

	if req.LicenseType != nil {
		license.LicenseType = *req.LicenseType
	}
	if req.BillingCycleMonths != nil {
		license.BillingCycleMonths = *req.BillingCycleMonths
	}
	if req.BasePriceUSD != nil {
		license.BasePriceUSD = *req.BasePriceUSD
	}
	if req.MinimumSeats != nil {
		license.MinimumSeats = *req.MinimumSeats
	}
	if req.CurrentPeriodStart != nil {
		license.CurrentPeriodStart = *req.CurrentPeriodStart
	}
	if req.CurrentPeriodEnd != nil {
		license.CurrentPeriodEnd = *req.CurrentPeriodEnd
	}
	if req.NextRenewalDate != nil {
		license.NextRenewalDate = *req.NextRenewalDate
	}
	if req.Modules != nil {
		license.Modules = req.Modules
	}

	if err := license.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.Save(&license).Error; err != nil {
		return nil, apperr.Persistence("failed to update license", err)
	}

	s.refreshComputed(&license)
	return &license, nil
}

func (s *LicenseService) Get(guid uuid.UUID) (*models.License, error) {
	var license models.License
	if err := s.db.Where("guid = ?", guid).First(&license).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}
	s.refreshComputed(&license)
	return &license, nil
}

func (s *LicenseService) Search(params LicenseSearchParams) ([]models.License, int64, error) {
	query := s.db.Model(&models.License{})

	if params.TenantID != nil {
		query = query.Where("tenant_id = ?", *params.TenantID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.LicenseType != nil {
		query = query.Where("license_type = ?", *params.LicenseType)
	}
	if params.ExpiringSoon {
		window := time.Now().AddDate(0, 0, s.cfg.Billing.ExpiringSoonDays)
		query = query.Where("status = ? AND next_renewal_date BETWEEN ? AND ?",
			models.LicenseStatusActive, time.Now(), window)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count licenses: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "next_renewal_date", "status"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var licenses []models.License
	if err := query.Find(&licenses).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch licenses: %w", err)
	}

	for i := range licenses {
		s.refreshComputed(&licenses[i])
	}

	return licenses, total, nil
}

// Renew advances the period window by one billing cycle and reactivates a
// suspended or expired license.
func (s *LicenseService) Renew(guid uuid.UUID) (*models.License, error) {
	var license models.License
	if err := s.db.Where("guid = ?", guid).First(&license).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}

	if license.Status == models.LicenseStatusTerminated {
		return nil, apperr.IllegalTransition("terminated license cannot be renewed")
	}

	if license.Status != models.LicenseStatusActive {
		if err := models.LicenseStatusTransitions.Validate(license.Status, models.LicenseStatusActive); err != nil {
			return nil, err
		}
		license.Status = models.LicenseStatusActive
	}

	license.CurrentPeriodStart = license.CurrentPeriodEnd
	license.CurrentPeriodEnd = license.CurrentPeriodStart.AddDate(0, license.BillingCycleMonths, 0)
	license.NextRenewalDate = license.CurrentPeriodEnd

	if err := license.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.Save(&license).Error; err != nil {
		return nil, apperr.Persistence("failed to renew license", err)
	}

	s.refreshComputed(&license)
	return &license, nil
}

func (s *LicenseService) Suspend(guid uuid.UUID) (*models.License, error) {
	return s.transitionStatus(guid, models.LicenseStatusSuspended)
}

func (s *LicenseService) Reactivate(guid uuid.UUID) (*models.License, error) {
	return s.transitionStatus(guid, models.LicenseStatusActive)
}

// Terminate soft-removes the license. A license with unsettled billing
// cycles or adjustments cannot be terminated.
func (s *LicenseService) Terminate(guid uuid.UUID) (*models.License, error) {
	var license models.License
	if err := s.db.Where("guid = ?", guid).First(&license).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}

	var openCycles int64
	if err := s.db.Model(&models.BillingCycle{}).
		Where("global_license_id = ?", license.ID).
		Where("billing_status NOT IN ?", []models.BillingStatus{models.BillingStatusCompleted, models.BillingStatusCancelled}).
		Count(&openCycles).Error; err != nil {
		return nil, apperr.Persistence("failed to check open billing cycles", err)
	}
	if openCycles > 0 {
		return nil, apperr.Conflict("license has %d unsettled billing cycles", openCycles)
	}

	var openAdjustments int64
	if err := s.db.Model(&models.LicenseAdjustment{}).
		Where("global_license_id = ?", license.ID).
		Where("payment_status NOT IN ?", []models.AdjustmentPaymentStatus{
			models.AdjustmentPaymentCompleted, models.AdjustmentPaymentCancelled, models.AdjustmentPaymentRefunded,
		}).
		Count(&openAdjustments).Error; err != nil {
		return nil, apperr.Persistence("failed to check open adjustments", err)
	}
	if openAdjustments > 0 {
		return nil, apperr.Conflict("license has %d unsettled adjustments", openAdjustments)
	}

	return s.applyStatus(&license, models.LicenseStatusTerminated)
}

// DeactivateExpired is the externally triggered sweep: one idempotent
// UPDATE marking active licenses whose renewal date has passed.
func (s *LicenseService) DeactivateExpired(now time.Time) (int64, error) {
	res := s.db.Model(&models.License{}).
		Where("status = ? AND next_renewal_date < ?", models.LicenseStatusActive, now).
		Update("status", models.LicenseStatusExpired)
	if res.Error != nil {
		return 0, apperr.Persistence("failed to deactivate expired licenses", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *LicenseService) transitionStatus(guid uuid.UUID, target models.LicenseStatus) (*models.License, error) {
	var license models.License
	if err := s.db.Where("guid = ?", guid).First(&license).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}
	return s.applyStatus(&license, target)
}

func (s *LicenseService) applyStatus(license *models.License, target models.LicenseStatus) (*models.License, error) {
	if err := models.LicenseStatusTransitions.Validate(license.Status, target); err != nil {
		return nil, err
	}

	license.Status = target
	if err := s.db.Save(license).Error; err != nil {
		return nil, apperr.Persistence("failed to update license status", err)
	}

	s.refreshComputed(license)
	return license, nil
}

// refreshComputed re-reads the store-computed side channels after a write:
// the seat-ledger aggregate and the newest cycle's billing status. These
// are advisory reads and never fail the primary operation.
func (s *LicenseService) refreshComputed(license *models.License) {
	var totalSeats int64
	err := s.db.Model(&models.LicenseSeat{}).
		Where("license_id = ?", license.ID).
		Select("COALESCE(SUM(seats_added), 0)").
		Scan(&totalSeats).Error
	if err != nil {
		logrus.WithError(err).WithField("license", license.GUID).Warn("Failed to refresh seat aggregate")
	} else {
		license.TotalSeatsPurchased = int(totalSeats)
	}

	var cycle models.BillingCycle
	err = s.db.Where("global_license_id = ?", license.ID).
		Order("period_start DESC").
		First(&cycle).Error
	if err == nil {
		license.LatestBillingStatus = cycle.BillingStatus
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logrus.WithError(err).WithField("license", license.GUID).Warn("Failed to refresh billing status")
	}
}

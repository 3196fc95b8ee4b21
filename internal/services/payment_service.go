// internal/services/payment_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/models"
	"github.com/shiftwise/billing-backend/internal/utils"
)

type PaymentService struct {
	db *gorm.DB
}

func NewPaymentService(db *gorm.DB) *PaymentService {
	return &PaymentService{db: db}
}

type CreateTransactionRequest struct {
	// Exactly one of the two targets must be set.
	BillingCycleGUID *uuid.UUID `json:"billing_cycle_guid,omitempty"`
	AdjustmentGUID   *uuid.UUID `json:"adjustment_guid,omitempty"`

	PaymentMethod    string `json:"payment_method" validate:"required"`
	PaymentReference string `json:"payment_reference" validate:"required"`

	// AmountUSD and AmountLocal default to the target's outstanding total.
	AmountUSD    *decimal.Decimal `json:"amount_usd,omitempty"`
	AmountLocal  *decimal.Decimal `json:"amount_local,omitempty"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"`
	CurrencyCode string           `json:"currency_code,omitempty" validate:"omitempty,currency_code"`
}

type TransactionSearchParams struct {
	utils.PaginationParams
	Status *models.TransactionStatus `json:"status,omitempty"`
}

// Create appends one settlement attempt to the target's transaction log.
// Amounts default to the target's totals; the consistency guard runs
// before the row reaches the store.
func (s *PaymentService) Create(req *CreateTransactionRequest) (*models.PaymentTransaction, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if (req.BillingCycleGUID == nil) == (req.AdjustmentGUID == nil) {
		return nil, apperr.Invariant("transaction must reference exactly one of billing cycle or adjustment")
	}

	tx := &models.PaymentTransaction{
		PaymentMethod:     req.PaymentMethod,
		PaymentReference:  req.PaymentReference,
		TransactionStatus: models.TransactionStatusPending,
		InitiatedAt:       time.Now(),
	}

	if req.BillingCycleGUID != nil {
		var cycle models.BillingCycle
		if err := s.db.Where("guid = ?", *req.BillingCycleGUID).First(&cycle).Error; err != nil {
			return nil, notFoundOr(err, "billing cycle")
		}
		if cycle.IsTerminal() {
			return nil, apperr.IllegalTransition("billing cycle in %s status cannot accept payments", cycle.BillingStatus)
		}
		tx.BillingCycleID = &cycle.ID
		tx.AmountUSD = cycle.TotalAmountUSD
		tx.AmountLocal = cycle.TotalAmountLocal
		tx.ExchangeRateUsed = cycle.ExchangeRateUsed
		tx.CurrencyCode = cycle.BillingCurrencyCode
	} else {
		var adjustment models.LicenseAdjustment
		if err := s.db.Where("guid = ?", *req.AdjustmentGUID).First(&adjustment).Error; err != nil {
			return nil, notFoundOr(err, "adjustment")
		}
		if adjustment.IsTerminal() {
			return nil, apperr.IllegalTransition("adjustment in %s status cannot accept payments", adjustment.PaymentStatus)
		}
		tx.AdjustmentID = &adjustment.ID
		tx.AmountUSD = adjustment.TotalAmountUSD
		tx.AmountLocal = adjustment.TotalAmountLocal
		tx.ExchangeRateUsed = adjustment.ExchangeRateUsed
		tx.CurrencyCode = adjustment.BillingCurrencyCode
	}

	if req.AmountUSD != nil {
		tx.AmountUSD = *req.AmountUSD
	}
	if req.ExchangeRate != nil {
		tx.ExchangeRateUsed = *req.ExchangeRate
	}
	if req.CurrencyCode != "" {
		tx.CurrencyCode = req.CurrencyCode
	}
	if req.AmountLocal != nil {
		tx.AmountLocal = *req.AmountLocal
	} else if req.AmountUSD != nil || req.ExchangeRate != nil {
		tx.AmountLocal = models.RoundMoney(tx.AmountUSD.Mul(tx.ExchangeRateUsed))
	}

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("payment_reference %q already used", req.PaymentReference)
		}
		return nil, apperr.Persistence("failed to create payment transaction", err)
	}
	return tx, nil
}

func (s *PaymentService) Get(guid uuid.UUID) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	if err := s.db.Where("guid = ?", guid).First(&tx).Error; err != nil {
		return nil, notFoundOr(err, "payment transaction")
	}
	return &tx, nil
}

// StartProcessing moves a pending attempt into PROCESSING.
func (s *PaymentService) StartProcessing(guid uuid.UUID) (*models.PaymentTransaction, error) {
	return s.transition(guid, models.TransactionStatusProcessing, nil)
}

// Complete settles the attempt. completed_at defaults to now and must not
// precede initiated_at.
func (s *PaymentService) Complete(guid uuid.UUID, completedAt *time.Time) (*models.PaymentTransaction, error) {
	return s.transition(guid, models.TransactionStatusCompleted, func(tx *models.PaymentTransaction, now time.Time) error {
		when := now
		if completedAt != nil {
			when = *completedAt
		}
		tx.CompletedAt = &when
		return nil
	})
}

// Fail records a failed attempt; the reason is mandatory.
func (s *PaymentService) Fail(guid uuid.UUID, reason string) (*models.PaymentTransaction, error) {
	if reason == "" {
		return nil, apperr.MissingField("failure_reason")
	}
	return s.transition(guid, models.TransactionStatusFailed, func(tx *models.PaymentTransaction, now time.Time) error {
		tx.FailureReason = reason
		tx.FailedAt = &now
		return nil
	})
}

func (s *PaymentService) Cancel(guid uuid.UUID) (*models.PaymentTransaction, error) {
	return s.transition(guid, models.TransactionStatusCancelled, nil)
}

// Retry re-arms a failed attempt: FAILED → PENDING with the failure
// details cleared and a fresh initiation timestamp.
func (s *PaymentService) Retry(guid uuid.UUID) (*models.PaymentTransaction, error) {
	return s.transition(guid, models.TransactionStatusPending, func(tx *models.PaymentTransaction, now time.Time) error {
		tx.FailureReason = ""
		tx.FailedAt = nil
		tx.InitiatedAt = now
		return nil
	})
}

// CurrentForCycle returns the most recent non-terminal attempt against a
// billing cycle.
func (s *PaymentService) CurrentForCycle(cycleGUID uuid.UUID) (*models.PaymentTransaction, error) {
	return s.current("billing_cycle_id", s.cycleIDByGUID(cycleGUID))
}

// CurrentForAdjustment returns the most recent non-terminal attempt
// against an adjustment.
func (s *PaymentService) CurrentForAdjustment(adjustmentGUID uuid.UUID) (*models.PaymentTransaction, error) {
	return s.current("adjustment_id", s.adjustmentIDByGUID(adjustmentGUID))
}

func (s *PaymentService) ListForCycle(cycleGUID uuid.UUID, params TransactionSearchParams) ([]models.PaymentTransaction, int64, error) {
	return s.list("billing_cycle_id", s.cycleIDByGUID(cycleGUID), params)
}

func (s *PaymentService) ListForAdjustment(adjustmentGUID uuid.UUID, params TransactionSearchParams) ([]models.PaymentTransaction, int64, error) {
	return s.list("adjustment_id", s.adjustmentIDByGUID(adjustmentGUID), params)
}

func (s *PaymentService) cycleIDByGUID(guid uuid.UUID) *gorm.DB {
	return s.db.Model(&models.BillingCycle{}).Select("id").Where("guid = ?", guid)
}

func (s *PaymentService) adjustmentIDByGUID(guid uuid.UUID) *gorm.DB {
	return s.db.Model(&models.LicenseAdjustment{}).Select("id").Where("guid = ?", guid)
}

func (s *PaymentService) current(column string, target *gorm.DB) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := s.db.
		Where(column+" = (?)", target).
		Where("transaction_status IN ?", []models.TransactionStatus{models.TransactionStatusPending, models.TransactionStatusProcessing, models.TransactionStatusFailed}).
		Order("initiated_at DESC").
		First(&tx).Error
	if err != nil {
		return nil, notFoundOr(err, "payment transaction")
	}
	return &tx, nil
}

func (s *PaymentService) list(column string, target *gorm.DB, params TransactionSearchParams) ([]models.PaymentTransaction, int64, error) {
	query := s.db.Model(&models.PaymentTransaction{}).Where(column+" = (?)", target)

	if params.Status != nil {
		query = query.Where("transaction_status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payment transactions: %w", err)
	}

	allowedSortFields := []string{"created_at", "initiated_at", "transaction_status", "amount_usd"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var txs []models.PaymentTransaction
	if err := query.Find(&txs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch payment transactions: %w", err)
	}

	return txs, total, nil
}

func (s *PaymentService) transition(guid uuid.UUID, target models.TransactionStatus, mutate func(*models.PaymentTransaction, time.Time) error) (*models.PaymentTransaction, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		var tx models.PaymentTransaction
		if err := s.db.Where("guid = ?", guid).First(&tx).Error; err != nil {
			return nil, notFoundOr(err, "payment transaction")
		}

		if err := models.TransactionStatusTransitions.Validate(tx.TransactionStatus, target); err != nil {
			return nil, err
		}

		now := time.Now()
		if mutate != nil {
			if err := mutate(&tx, now); err != nil {
				return nil, err
			}
		}
		tx.TransactionStatus = target

		if err := tx.Validate(); err != nil {
			return nil, err
		}

		currentVersion := tx.Version
		tx.Version++
		err := saveWithVersion(s.db, &tx, currentVersion)
		if err == nil {
			return &tx, nil
		}
		if !isConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// internal/models/license.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/shiftwise/billing-backend/internal/apperr"
	"github.com/shiftwise/billing-backend/internal/lifecycle"
)

type LicenseType string

const (
	LicenseTypeStandard     LicenseType = "standard"
	LicenseTypeProfessional LicenseType = "professional"
	LicenseTypeEnterprise   LicenseType = "enterprise"
)

type LicenseStatus string

const (
	LicenseStatusActive     LicenseStatus = "active"
	LicenseStatusSuspended  LicenseStatus = "suspended"
	LicenseStatusTerminated LicenseStatus = "terminated"
	LicenseStatusExpired    LicenseStatus = "expired"
)

// LicenseStatusTransitions drives every license status write. TERMINATED
// is the only terminal state; expired and suspended licenses can be
// reactivated by a renewal.
var LicenseStatusTransitions = lifecycle.Table[LicenseStatus]{
	LicenseStatusActive:    {LicenseStatusSuspended, LicenseStatusTerminated, LicenseStatusExpired},
	LicenseStatusSuspended: {LicenseStatusActive, LicenseStatusTerminated, LicenseStatusExpired},
	LicenseStatusExpired:   {LicenseStatusActive, LicenseStatusTerminated},
}

// BillingCycleMonthsAllowed are the supported billing cadences.
var BillingCycleMonthsAllowed = []int{1, 3, 6, 12}

// License is a tenant's subscription record. TotalSeatsPurchased and
// LatestBillingStatus are not columns: they are refreshed from the seat
// ledger and the newest billing cycle after every mutation, so callers
// never observe stale aggregates.
type License struct {
	BaseModel
	TenantID           uuid.UUID      `json:"tenant_id" gorm:"type:uuid;not null;index"`
	LicenseType        LicenseType    `json:"license_type" gorm:"type:varchar(20);not null"`
	BillingCycleMonths int            `json:"billing_cycle_months" gorm:"not null"`
	BasePriceUSD       decimal.Decimal `json:"base_price_usd" gorm:"type:decimal(12,2);not null"`
	MinimumSeats       int            `json:"minimum_seats" gorm:"not null;default:1"`
	CurrentPeriodStart time.Time      `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time      `json:"current_period_end" gorm:"not null"`
	NextRenewalDate    time.Time      `json:"next_renewal_date" gorm:"not null;index"`
	Status             LicenseStatus  `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	Modules            pq.StringArray `json:"modules" gorm:"type:text[]"`

	TotalSeatsPurchased int           `json:"total_seats_purchased" gorm:"-"`
	LatestBillingStatus BillingStatus `json:"latest_billing_status,omitempty" gorm:"-"`

	// Relationships
	Cycles      []BillingCycle      `json:"cycles,omitempty" gorm:"foreignKey:GlobalLicenseID"`
	Adjustments []LicenseAdjustment `json:"adjustments,omitempty" gorm:"foreignKey:GlobalLicenseID"`
	Seats       []LicenseSeat       `json:"-" gorm:"foreignKey:LicenseID"`
}

// LicenseSeat is one entry in the seat ledger, the authoritative source of
// total_seats_purchased. Signup writes the first row, every mid-cycle
// adjustment appends one.
type LicenseSeat struct {
	BaseModel
	LicenseID   uint      `json:"-" gorm:"not null;index"`
	SeatsAdded  int       `json:"seats_added" gorm:"not null"`
	Source      string    `json:"source" gorm:"size:30;not null"`
	EffectiveAt time.Time `json:"effective_at" gorm:"not null"`
}

const (
	SeatSourceSignup     = "signup"
	SeatSourceAdjustment = "adjustment"
)

func (l *License) Validate() error {
	if l.TenantID == uuid.Nil {
		return apperr.MissingField("tenant")
	}
	switch l.LicenseType {
	case LicenseTypeStandard, LicenseTypeProfessional, LicenseTypeEnterprise:
	case "":
		return apperr.MissingField("license_type")
	default:
		return apperr.InvalidValue("unknown license_type %q", l.LicenseType)
	}
	if !validCycleMonths(l.BillingCycleMonths) {
		return apperr.InvalidValue("billing_cycle_months must be one of 1, 3, 6 or 12, got %d", l.BillingCycleMonths)
	}
	if l.BasePriceUSD.IsNegative() {
		return apperr.InvalidValue("base_price_usd must not be negative, got %s", l.BasePriceUSD)
	}
	if l.MinimumSeats < 1 {
		return apperr.InvalidValue("minimum_seats must be at least 1, got %d", l.MinimumSeats)
	}
	if l.CurrentPeriodStart.IsZero() {
		return apperr.MissingField("current_period_start")
	}
	if l.CurrentPeriodEnd.IsZero() {
		return apperr.MissingField("current_period_end")
	}
	if !l.CurrentPeriodEnd.After(l.CurrentPeriodStart) {
		return apperr.Invariant("current_period_end must be after current_period_start")
	}
	if l.NextRenewalDate.Before(l.CurrentPeriodEnd) {
		return apperr.Invariant("next_renewal_date must not be before current_period_end")
	}
	switch l.Status {
	case LicenseStatusActive, LicenseStatusSuspended, LicenseStatusTerminated, LicenseStatusExpired:
	case "":
		return apperr.MissingField("status")
	default:
		return apperr.InvalidValue("unknown license status %q", l.Status)
	}
	return nil
}

func validCycleMonths(months int) bool {
	for _, m := range BillingCycleMonthsAllowed {
		if m == months {
			return true
		}
	}
	return false
}

// IsActive reports whether the license is in ACTIVE status and its renewal
// date has not passed.
func (l *License) IsActive(now time.Time) bool {
	return l.Status == LicenseStatusActive && now.Before(l.NextRenewalDate)
}

// IsExpiringSoon reports whether the renewal date falls within the next
// given number of days.
func (l *License) IsExpiringSoon(now time.Time, days int) bool {
	if !now.Before(l.NextRenewalDate) {
		return false
	}
	return l.NextRenewalDate.Sub(now) <= time.Duration(days)*24*time.Hour
}

// BillableSeats is the seat count invoices are priced on: the purchased
// total, floored at the contractual minimum.
func (l *License) BillableSeats() int {
	if l.TotalSeatsPurchased > l.MinimumSeats {
		return l.TotalSeatsPurchased
	}
	return l.MinimumSeats
}

// CalculateMonthlyPrice is base price per seat times billable seats.
func (l *License) CalculateMonthlyPrice() decimal.Decimal {
	return RoundMoney(l.BasePriceUSD.Mul(decimal.NewFromInt(int64(l.BillableSeats()))))
}

// CalculatePeriodPrice is the monthly price over the whole billing cycle.
func (l *License) CalculatePeriodPrice() decimal.Decimal {
	return RoundMoney(l.CalculateMonthlyPrice().Mul(decimal.NewFromInt(int64(l.BillingCycleMonths))))
}

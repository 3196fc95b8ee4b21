// internal/models/common.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BaseModel carries the internal key plus the opaque external identifier.
// The GUID is what crosses the API boundary; the numeric ID never leaves
// the storage layer.
type BaseModel struct {
	ID        uint           `json:"-" gorm:"primaryKey"`
	GUID      uuid.UUID      `json:"guid" gorm:"type:uuid;not null;uniqueIndex"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.GUID == uuid.Nil {
		m.GUID = uuid.New()
	}
	return nil
}

// AmountTolerance is the maximum allowed deviation between a local-currency
// amount and its USD counterpart multiplied by the exchange rate.
var AmountTolerance = decimal.NewFromFloat(0.01)

// CurrencyUSD is the base currency every record is denominated in.
const CurrencyUSD = "USD"

// RoundMoney rounds to the 2-decimal fixed-point precision money columns
// are stored with.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// AmountsConsistent reports whether local is within AmountTolerance of
// usd x rate.
func AmountsConsistent(local, usd, rate decimal.Decimal) bool {
	return local.Sub(usd.Mul(rate)).Abs().LessThanOrEqual(AmountTolerance)
}

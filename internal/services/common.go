// internal/services/common.go
package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/shiftwise/billing-backend/internal/apperr"
)

// casRetries bounds the re-read-and-revalidate loop around optimistic
// status writes.
const casRetries = 3

// saveWithVersion persists the full row conditioned on the version the
// caller read. The model's Version field must already hold the new value;
// currentVersion is the one loaded from the store. Zero affected rows
// means another writer got there first.
func saveWithVersion(db *gorm.DB, model interface{}, currentVersion int) error {
	res := db.Model(model).
		Where("version = ?", currentVersion).
		Select("*").
		Omit("created_at").
		Updates(model)
	if res.Error != nil {
		return apperr.Persistence("failed to persist record", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("record was modified concurrently")
	}
	return nil
}

// notFoundOr maps gorm's record-not-found to the typed not-found error and
// wraps anything else as a persistence failure.
func notFoundOr(err error, resource string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(resource)
	}
	return apperr.Persistence("database error", err)
}

func isConflict(err error) bool {
	return apperr.IsKind(err, apperr.KindConflict)
}

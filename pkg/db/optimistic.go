package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
)

const DefaultConflictRetries = 3

// UpdateVersioned writes updates to the row with the given id only while its version
// column still equals expected. The version is bumped as part of the same statement.
// A lost race surfaces as CodeConcurrencyConflict.
func UpdateVersioned(tx *gorm.DB, model any, id uuid.UUID, expected int64, updates map[string]any) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = expected + 1
	if _, ok := values["updated_at"]; !ok {
		values["updated_at"] = time.Now().UTC()
	}

	res := tx.Model(model).
		Where("id = ? AND version = ?", id, expected).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "row was modified concurrently").
			WithDetails(map[string]any{"id": id.String(), "version": expected})
	}
	return nil
}

// RetryOnConflict runs fn until it succeeds, returns a non-conflict error, or the
// attempt budget is exhausted. The final conflict is returned unchanged.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultConflictRetries
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctx != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
		}
		err = fn()
		if err == nil || !pkgerrors.IsConcurrencyConflict(err) {
			return err
		}
	}
	return err
}

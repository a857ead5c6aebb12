package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// mapNoRows converts pgx.ErrNoRows into the sentinel for the entity, and
// wraps any other error with the operation name.
func mapNoRows(err error, sentinel error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}

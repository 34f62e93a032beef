package postgres

import (
	"errors"
	"fmt"

	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the ledger reacts to.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

// translate maps driver errors onto the ports sentinels, keeping the original in the chain.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateLockNotAvailable, sqlStateDeadlockDetected, sqlStateSerializationFailure:
		return fmt.Errorf("%w: %w", ports.ErrContention, err)
	case sqlStateUniqueViolation:
		return fmt.Errorf("%w: %w", ports.ErrDuplicateKey, err)
	}
	return err
}

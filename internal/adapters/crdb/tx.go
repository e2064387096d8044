package crdb

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robertarktes/bunk-reservations/internal/domain"
)

const (
	SerializationFailureCode = "40001"
	LockNotAvailableCode     = "55P03"
	UniqueViolationCode      = "23505"
	CheckViolationCode       = "23514"
)

type txKey struct{}

// WithTx runs fn in a SERIALIZABLE transaction carried by the context passed
// to fn. Nested calls join the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}

func (r *Repository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

// mapError turns retryable and constraint errors into domain errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if unreachable(err) {
			return errors.Mark(errors.Wrap(err, "storage unreachable"), domain.ErrStorageTimeout)
		}
		return err
	}
	switch pgErr.Code {
	case SerializationFailureCode, LockNotAvailableCode:
		return errors.Mark(errors.Wrap(err, "retryable"), domain.ErrSerializationFailure)
	case UniqueViolationCode:
		switch pgErr.ConstraintName {
		case indexOccupyingBunk:
			return errors.Mark(errors.Wrap(err, "occupying bunk index"), domain.ErrBunkOccupied)
		case indexActiveRequester:
			return errors.Mark(errors.Wrap(err, "active requester index"), domain.ErrRequesterAlreadyActive)
		case indexReferenceCode:
			// A fresh reference code is drawn when the operation is re-run.
			return errors.Mark(errors.Wrap(err, "reference code collision"), domain.ErrSerializationFailure)
		}
	}
	return err
}

// unreachable reports connection failures and timeouts that happened before
// the database could answer.
func unreachable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

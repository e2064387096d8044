package crdb

import (
	"net"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robertarktes/bunk-reservations/internal/domain"
)

func TestMapError(t *testing.T) {
	t.Run("conflicts and lock timeouts are retryable", func(t *testing.T) {
		for _, code := range []string{SerializationFailureCode, LockNotAvailableCode} {
			err := mapError(&pgconn.PgError{Code: code})
			if !errors.Is(err, domain.ErrSerializationFailure) || !domain.Retryable(err) {
				t.Fatalf("expected %s to be a retryable serialization failure, got %v", code, err)
			}
		}
	})

	t.Run("dial and read timeouts are storage timeouts", func(t *testing.T) {
		for _, cause := range []error{
			&net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded},
			errors.Wrap(&net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}, "begin tx"),
		} {
			err := mapError(cause)
			if !errors.Is(err, domain.ErrStorageTimeout) {
				t.Fatalf("expected storage timeout for %v, got %v", cause, err)
			}
			if domain.Classify(err) != domain.KindUnavailable || domain.Code(err) != "service_unavailable" {
				t.Fatalf("expected unavailable classification, got %s/%s", domain.Classify(err), domain.Code(err))
			}
		}
	})

	t.Run("unique violations map by index", func(t *testing.T) {
		err := mapError(&pgconn.PgError{Code: UniqueViolationCode, ConstraintName: indexOccupyingBunk})
		if !errors.Is(err, domain.ErrBunkOccupied) {
			t.Fatalf("expected bunk occupied, got %v", err)
		}
		err = mapError(&pgconn.PgError{Code: UniqueViolationCode, ConstraintName: indexActiveRequester})
		if !errors.Is(err, domain.ErrRequesterAlreadyActive) {
			t.Fatalf("expected requester already active, got %v", err)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		cause := errors.New("syntax error")
		if err := mapError(cause); err != cause {
			t.Fatalf("expected error unchanged, got %v", err)
		}
		if err := mapError(&pgconn.PgError{Code: CheckViolationCode}); domain.Retryable(err) {
			t.Fatalf("check violation must not be retried: %v", err)
		}
	})
}

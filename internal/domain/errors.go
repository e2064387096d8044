package domain

import (
	"net"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrStorageTimeout       = errors.New("storage timeout")
	ErrUnavailable          = errors.New("service unavailable")
	ErrInvalidInput         = errors.New("invalid input")

	ErrRoomNotFound           = errors.New("room not found")
	ErrInvalidBunk            = errors.New("bunk number out of range")
	ErrBunkOccupied           = errors.New("bunk occupied")
	ErrRoomFull               = errors.New("room full")
	ErrRequesterAlreadyActive = errors.New("requester already has an active hold")

	ErrHoldNotFound     = errors.New("hold not found")
	ErrHoldExpired      = errors.New("hold expired")
	ErrHoldCancelled    = errors.New("hold cancelled")
	ErrAlreadyConfirmed = errors.New("hold already confirmed")
	ErrInvalidState     = errors.New("invalid state transition")
)

// Kind groups errors by how a caller is expected to react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindClient
	KindContention
	KindState
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindContention:
		return "contention"
	case KindState:
		return "state"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

var codes = []struct {
	err  error
	code string
	kind Kind
}{
	{ErrInvalidInput, "invalid_input", KindClient},
	{ErrRoomNotFound, "room_not_found", KindClient},
	{ErrInvalidBunk, "invalid_bunk", KindClient},
	{ErrHoldNotFound, "hold_not_found", KindClient},
	{ErrBunkOccupied, "bunk_occupied", KindContention},
	{ErrRoomFull, "room_full", KindContention},
	{ErrRequesterAlreadyActive, "requester_already_active", KindContention},
	{ErrHoldExpired, "hold_expired", KindState},
	{ErrHoldCancelled, "hold_cancelled", KindState},
	{ErrAlreadyConfirmed, "already_confirmed", KindState},
	{ErrInvalidState, "invalid_state", KindState},
	{ErrUnavailable, "service_unavailable", KindUnavailable},
	{ErrSerializationFailure, "service_unavailable", KindUnavailable},
	{ErrStorageTimeout, "service_unavailable", KindUnavailable},
}

// Code returns the machine-readable reason carried by err.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}

// Classify reports the Kind of err. Unknown errors are internal faults.
func Classify(err error) Kind {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return KindInternal
}

// Retryable reports whether err is a transient storage fault after which the
// whole transaction may be run again: a conflict, or a store that timed out
// or could not be reached.
func Retryable(err error) bool {
	if errors.Is(err, ErrSerializationFailure) || errors.Is(err, ErrStorageTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

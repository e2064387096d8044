package domain

import (
	"time"

	"github.com/google/uuid"
)

type HoldState string

const (
	HoldStateRequested HoldState = "REQUESTED"
	HoldStateActive    HoldState = "ACTIVE"
	HoldStateConfirmed HoldState = "CONFIRMED"
	HoldStateExpired   HoldState = "EXPIRED"
	HoldStateCancelled HoldState = "CANCELLED"
)

func (s HoldState) Terminal() bool {
	return s == HoldStateConfirmed || s == HoldStateExpired || s == HoldStateCancelled
}

func (s HoldState) Valid() bool {
	switch s {
	case HoldStateActive, HoldStateConfirmed, HoldStateExpired, HoldStateCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentVoid    PaymentStatus = "VOID"
)

// Hold is a time-bounded claim on one bunk, pending payment confirmation.
type Hold struct {
	ID               uuid.UUID
	ReferenceCode    string
	RequesterID      string
	RoomID           string
	BunkNumber       int
	Amount           int64
	State            HoldState
	PaymentStatus    PaymentStatus
	PaymentReference string
	CancelReason     string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	UpdatedAt        time.Time
}

// NewHold builds a hold in the REQUESTED state. It becomes ACTIVE only once
// the claim has passed every occupancy check.
func NewHold(roomID string, bunk int, requesterID string, amount int64, now time.Time, window time.Duration) Hold {
	return Hold{
		ID:            uuid.New(),
		ReferenceCode: NewReferenceCode(),
		RequesterID:   requesterID,
		RoomID:        roomID,
		BunkNumber:    bunk,
		Amount:        amount,
		State:         HoldStateRequested,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(window),
		UpdatedAt:     now,
	}
}

// Lapsed reports whether an ACTIVE hold has passed its deadline at now.
func (h Hold) Lapsed(now time.Time) bool {
	return h.State == HoldStateActive && !h.ExpiresAt.After(now)
}

// Occupies reports whether the hold blocks its bunk at now.
func (h Hold) Occupies(now time.Time) bool {
	switch h.State {
	case HoldStateConfirmed:
		return true
	case HoldStateActive:
		return h.ExpiresAt.After(now)
	}
	return false
}

func (h *Hold) Activate() error {
	if h.State != HoldStateRequested {
		return ErrInvalidState
	}
	h.State = HoldStateActive
	return nil
}

// Confirm moves an ACTIVE hold to CONFIRMED. A hold already confirmed with the
// same payment reference is left untouched and reports changed=false.
func (h *Hold) Confirm(paymentRef string, now time.Time) (changed bool, err error) {
	switch h.State {
	case HoldStateConfirmed:
		if h.PaymentReference == paymentRef {
			return false, nil
		}
		return false, ErrAlreadyConfirmed
	case HoldStateExpired:
		return false, ErrHoldExpired
	case HoldStateCancelled:
		return false, ErrHoldCancelled
	case HoldStateActive:
		if h.Lapsed(now) {
			return false, ErrHoldExpired
		}
	default:
		return false, ErrInvalidState
	}
	h.State = HoldStateConfirmed
	h.PaymentStatus = PaymentPaid
	h.PaymentReference = paymentRef
	h.UpdatedAt = now
	return true, nil
}

// Cancel moves an ACTIVE hold to CANCELLED. Cancelling twice is a no-op.
func (h *Hold) Cancel(reason string, now time.Time) (changed bool, err error) {
	switch h.State {
	case HoldStateCancelled:
		return false, nil
	case HoldStateConfirmed:
		return false, ErrAlreadyConfirmed
	case HoldStateExpired:
		return false, ErrHoldExpired
	case HoldStateActive:
		if h.Lapsed(now) {
			return false, ErrHoldExpired
		}
	default:
		return false, ErrInvalidState
	}
	h.State = HoldStateCancelled
	h.PaymentStatus = PaymentVoid
	h.CancelReason = reason
	h.UpdatedAt = now
	return true, nil
}

// Expire moves a lapsed ACTIVE hold to EXPIRED. It reports false for any hold
// that is not lapsed, which makes reclamation idempotent.
func (h *Hold) Expire(now time.Time) bool {
	if !h.Lapsed(now) {
		return false
	}
	h.State = HoldStateExpired
	h.PaymentStatus = PaymentVoid
	h.UpdatedAt = now
	return true
}

// HoldFilter selects holds for audit listings. Zero fields match everything.
type HoldFilter struct {
	State       HoldState
	RoomID      string
	RequesterID string
	Limit       int
}

func (f HoldFilter) Match(h Hold) bool {
	if f.State != "" && h.State != f.State {
		return false
	}
	if f.RoomID != "" && h.RoomID != f.RoomID {
		return false
	}
	if f.RequesterID != "" && h.RequesterID != f.RequesterID {
		return false
	}
	return true
}

// BunkStatus is one row of a room occupancy view.
type BunkStatus struct {
	BunkNumber int
	Occupied   bool
	State      HoldState
	HoldID     *uuid.UUID
	ExpiresAt  *time.Time
}

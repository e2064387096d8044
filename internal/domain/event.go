package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventHoldCreated   EventType = "hold.created"
	EventHoldConfirmed EventType = "hold.confirmed"
	EventHoldCancelled EventType = "hold.cancelled"
	EventHoldExpired   EventType = "hold.expired"
)

// HoldEvent records one lifecycle transition. It is written to the outbox in
// the same transaction as the transition itself.
type HoldEvent struct {
	ID         uuid.UUID
	Type       EventType
	Hold       Hold
	OccurredAt time.Time
}

func NewHoldEvent(t EventType, h Hold, now time.Time) HoldEvent {
	return HoldEvent{ID: uuid.New(), Type: t, Hold: h, OccurredAt: now}
}

type HoldEventPayload struct {
	EventID          uuid.UUID     `json:"event_id"`
	Type             EventType     `json:"type"`
	HoldID           uuid.UUID     `json:"hold_id"`
	ReferenceCode    string        `json:"reference_code"`
	RequesterID      string        `json:"requester_id"`
	RoomID           string        `json:"room_id"`
	BunkNumber       int           `json:"bunk_number"`
	Amount           int64         `json:"amount"`
	State            HoldState     `json:"state"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
	ExpiresAt        time.Time     `json:"expires_at"`
	OccurredAt       time.Time     `json:"occurred_at"`
}

func (e HoldEvent) Payload() HoldEventPayload {
	return HoldEventPayload{
		EventID:          e.ID,
		Type:             e.Type,
		HoldID:           e.Hold.ID,
		ReferenceCode:    e.Hold.ReferenceCode,
		RequesterID:      e.Hold.RequesterID,
		RoomID:           e.Hold.RoomID,
		BunkNumber:       e.Hold.BunkNumber,
		Amount:           e.Hold.Amount,
		State:            e.Hold.State,
		PaymentStatus:    e.Hold.PaymentStatus,
		PaymentReference: e.Hold.PaymentReference,
		CancelReason:     e.Hold.CancelReason,
		ExpiresAt:        e.Hold.ExpiresAt,
		OccurredAt:       e.OccurredAt,
	}
}

func (e HoldEvent) MarshalPayload() ([]byte, error) {
	return json.Marshal(e.Payload())
}

package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/observability"
)

type fakeRecorder struct {
	err      error
	recorded []domain.HoldEventPayload
}

func (r *fakeRecorder) RecordHoldEvent(_ context.Context, p domain.HoldEventPayload) error {
	if r.err != nil {
		return r.err
	}
	r.recorded = append(r.recorded, p)
	return nil
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(bool) error { a.acked = true; return nil }

func (a *fakeAck) Nack(_, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func TestConsumer_Handle(t *testing.T) {
	logger := observability.NewLoggerWithOutput(io.Discard, "error")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hold := domain.NewHold("room-1", 2, "req-1", 2500000, now, time.Hour)
	body, err := domain.NewHoldEvent(domain.EventHoldCreated, hold, now).MarshalPayload()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("records and acks", func(t *testing.T) {
		rec := &fakeRecorder{}
		ack := &fakeAck{}
		NewConsumer(rec, logger).Handle(context.Background(), body, ack)
		if !ack.acked || ack.nacked {
			t.Fatalf("expected ack, got %+v", ack)
		}
		if len(rec.recorded) != 1 || rec.recorded[0].HoldID != hold.ID || rec.recorded[0].BunkNumber != 2 {
			t.Fatalf("unexpected recorded payload %+v", rec.recorded)
		}
	})

	t.Run("malformed message is dropped", func(t *testing.T) {
		ack := &fakeAck{}
		NewConsumer(&fakeRecorder{}, logger).Handle(context.Background(), []byte(`{"type":"hold.moved"}`), ack)
		if !ack.nacked || ack.requeued {
			t.Fatalf("expected nack without requeue, got %+v", ack)
		}
	})

	t.Run("recording failure is requeued", func(t *testing.T) {
		ack := &fakeAck{}
		NewConsumer(&fakeRecorder{err: errors.New("mongo down")}, logger).Handle(context.Background(), body, ack)
		if !ack.nacked || !ack.requeued {
			t.Fatalf("expected nack with requeue, got %+v", ack)
		}
	})
}

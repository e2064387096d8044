package reservation

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// ClaimInput asks for one bunk of a room on behalf of a requester.
type ClaimInput struct {
	RoomID      string
	RequesterID string
	BunkNumber  int
	// Amount overrides the room price when set.
	Amount *int64
}

// ClaimBunk reserves one bunk for a requester and starts the payment window.
func (s *Service) ClaimBunk(ctx context.Context, in ClaimInput) (domain.Hold, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.ClaimBunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("room.id", in.RoomID),
		attribute.Int("bunk.number", in.BunkNumber),
	)

	hold, err := s.claimBunk(ctx, in)
	observability.ClaimsTotal.WithLabelValues(domain.Code(err)).Inc()
	if err != nil {
		span.RecordError(err)
		s.logRejected("claim", err)
		return domain.Hold{}, err
	}
	s.logger.WithField("hold_id", hold.ID).WithField("room_id", hold.RoomID).WithField("bunk", hold.BunkNumber).Info("bunk claimed")
	return hold, nil
}

func (s *Service) claimBunk(ctx context.Context, in ClaimInput) (domain.Hold, error) {
	if in.RequesterID == "" {
		return domain.Hold{}, errors.Wrap(domain.ErrInvalidInput, "requester id is required")
	}
	if in.Amount != nil && *in.Amount < 0 {
		return domain.Hold{}, errors.Wrap(domain.ErrInvalidInput, "amount must not be negative")
	}
	room, err := s.getRoom(ctx, in.RoomID)
	if err != nil {
		return domain.Hold{}, err
	}
	if !room.HasBunk(in.BunkNumber) {
		return domain.Hold{}, errors.Wrapf(domain.ErrInvalidBunk, "bunk %d not in [1, %d]", in.BunkNumber, room.Capacity)
	}
	amount := room.Price
	if in.Amount != nil {
		amount = *in.Amount
	}

	var (
		result   domain.Hold
		rejected error
	)
	err = s.runTx(ctx, "claim", func(txCtx context.Context) error {
		rejected = nil
		now := s.clock.Now()

		if err := s.store.RegisterRoom(txCtx, room.ID, room.Capacity); err != nil {
			return err
		}
		avail, err := s.lockRoom(txCtx, room.ID, now)
		if err != nil {
			return err
		}
		if reclaimed, err := s.store.ReclaimRequester(txCtx, in.RequesterID, now); err != nil {
			return err
		} else if err := s.recordExpired(txCtx, reclaimed, now); err != nil {
			return err
		}

		occupant, err := s.store.FindOccupyingHold(txCtx, room.ID, in.BunkNumber, now)
		if err != nil {
			return err
		}
		if occupant != nil {
			rejected = errors.Wrapf(domain.ErrBunkOccupied, "room %s bunk %d", room.ID, in.BunkNumber)
			return nil
		}
		if avail.Available <= 0 {
			rejected = errors.Wrapf(domain.ErrRoomFull, "room %s", room.ID)
			return nil
		}
		active, err := s.store.FindActiveHoldByRequester(txCtx, in.RequesterID, now)
		if err != nil {
			return err
		}
		if active != nil {
			rejected = errors.Wrapf(domain.ErrRequesterAlreadyActive, "hold %s", active.ID)
			return nil
		}

		hold := domain.NewHold(room.ID, in.BunkNumber, in.RequesterID, amount, now, s.holdWindow)
		if err := hold.Activate(); err != nil {
			return err
		}
		if err := s.store.InsertHold(txCtx, hold); err != nil {
			return err
		}
		if err := s.store.AdjustAvailable(txCtx, room.ID, -1); err != nil {
			return err
		}
		if err := s.store.AppendEvent(txCtx, domain.NewHoldEvent(domain.EventHoldCreated, hold, now)); err != nil {
			return err
		}
		result = hold
		return nil
	})
	if err != nil {
		return domain.Hold{}, err
	}
	if rejected != nil {
		return domain.Hold{}, rejected
	}
	return result, nil
}

// ConfirmInput identifies a hold by ID or by reference code.
type ConfirmInput struct {
	HoldID           uuid.UUID
	ReferenceCode    string
	PaymentReference string
}

// ConfirmPayment is called by payment reconciliation once the payment for a
// hold has landed. Repeating it with the same payment reference is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmInput) (domain.Hold, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.ConfirmPayment")
	defer span.End()

	if in.PaymentReference == "" {
		return domain.Hold{}, errors.Wrap(domain.ErrInvalidInput, "payment reference is required")
	}
	if in.HoldID == uuid.Nil && in.ReferenceCode == "" {
		return domain.Hold{}, errors.Wrap(domain.ErrInvalidInput, "hold id or reference code is required")
	}

	var (
		result   domain.Hold
		rejected error
	)
	err := s.runTx(ctx, "confirm", func(txCtx context.Context) error {
		rejected = nil
		now := s.clock.Now()

		hold, err := s.loadHold(txCtx, in.HoldID, in.ReferenceCode)
		if err != nil {
			return err
		}
		if _, err := s.lockRoom(txCtx, hold.RoomID, now); err != nil {
			return err
		}
		if hold, err = s.store.GetHold(txCtx, hold.ID); err != nil {
			return err
		}

		changed, err := hold.Confirm(in.PaymentReference, now)
		if err != nil {
			rejected = errors.Wrapf(err, "hold %s", hold.ID)
			return nil
		}
		if changed {
			if err := s.store.UpdateHold(txCtx, hold); err != nil {
				return err
			}
			if err := s.store.AppendEvent(txCtx, domain.NewHoldEvent(domain.EventHoldConfirmed, hold, now)); err != nil {
				return err
			}
		}
		result = hold
		return nil
	})
	if err == nil {
		err = rejected
	}
	observability.ConfirmationsTotal.WithLabelValues(domain.Code(err)).Inc()
	if err != nil {
		span.RecordError(err)
		s.logRejected("confirm", err)
		return domain.Hold{}, err
	}
	s.logger.WithField("hold_id", result.ID).WithField("payment_reference", in.PaymentReference).Info("hold confirmed")
	return result, nil
}

// CancelInput identifies the hold to abandon. Reason is kept on the hold.
type CancelInput struct {
	HoldID uuid.UUID
	Reason string
}

// CancelHold abandons an active hold and releases its bunk at once.
func (s *Service) CancelHold(ctx context.Context, in CancelInput) (domain.Hold, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.CancelHold")
	defer span.End()

	if in.HoldID == uuid.Nil {
		return domain.Hold{}, errors.Wrap(domain.ErrInvalidInput, "hold id is required")
	}

	var (
		result   domain.Hold
		rejected error
	)
	err := s.runTx(ctx, "cancel", func(txCtx context.Context) error {
		rejected = nil
		now := s.clock.Now()

		hold, err := s.store.GetHold(txCtx, in.HoldID)
		if err != nil {
			return err
		}
		if _, err := s.lockRoom(txCtx, hold.RoomID, now); err != nil {
			return err
		}
		if hold, err = s.store.GetHold(txCtx, hold.ID); err != nil {
			return err
		}

		changed, err := hold.Cancel(in.Reason, now)
		if err != nil {
			rejected = errors.Wrapf(err, "hold %s", hold.ID)
			return nil
		}
		if changed {
			if err := s.store.UpdateHold(txCtx, hold); err != nil {
				return err
			}
			if err := s.store.AdjustAvailable(txCtx, hold.RoomID, 1); err != nil {
				return err
			}
			if err := s.store.AppendEvent(txCtx, domain.NewHoldEvent(domain.EventHoldCancelled, hold, now)); err != nil {
				return err
			}
		}
		result = hold
		return nil
	})
	if err == nil {
		err = rejected
	}
	if err != nil {
		span.RecordError(err)
		s.logRejected("cancel", err)
		return domain.Hold{}, err
	}
	s.logger.WithField("hold_id", result.ID).WithField("reason", in.Reason).Info("hold cancelled")
	return result, nil
}

// GetHold returns a hold as of now, reclaiming it first if it has lapsed.
func (s *Service) GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error) {
	var result domain.Hold
	err := s.runTx(ctx, "get_hold", func(txCtx context.Context) error {
		now := s.clock.Now()
		hold, err := s.store.GetHold(txCtx, id)
		if err != nil {
			return err
		}
		if hold.Lapsed(now) {
			if _, err := s.lockRoom(txCtx, hold.RoomID, now); err != nil {
				return err
			}
			if hold, err = s.store.GetHold(txCtx, id); err != nil {
				return err
			}
		}
		result = hold
		return nil
	})
	return result, err
}

// ListHolds is the audit listing. Every room holding a lapsed ACTIVE hold
// that the filter could return is reclaimed first, so lapsed holds are
// reported as EXPIRED and never as ACTIVE.
func (s *Service) ListHolds(ctx context.Context, filter domain.HoldFilter) ([]domain.Hold, error) {
	var result []domain.Hold
	err := s.runTx(ctx, "list_holds", func(txCtx context.Context) error {
		now := s.clock.Now()
		if filter.State == "" || filter.State == domain.HoldStateActive || filter.State == domain.HoldStateExpired {
			rooms, err := s.roomsWithLapsedHolds(txCtx, filter, now)
			if err != nil {
				return err
			}
			for _, roomID := range rooms {
				if _, err := s.lockRoom(txCtx, roomID, now); err != nil {
					return err
				}
			}
		}
		holds, err := s.store.ListHolds(txCtx, filter)
		if err != nil {
			return err
		}
		result = holds
		return nil
	})
	return result, err
}

// roomsWithLapsedHolds returns, in lock order, the rooms of the lapsed ACTIVE
// holds matching filter's room and requester.
func (s *Service) roomsWithLapsedHolds(ctx context.Context, filter domain.HoldFilter, now time.Time) ([]string, error) {
	active, err := s.store.ListHolds(ctx, domain.HoldFilter{
		State:       domain.HoldStateActive,
		RoomID:      filter.RoomID,
		RequesterID: filter.RequesterID,
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var rooms []string
	for _, h := range active {
		if h.Lapsed(now) && !seen[h.RoomID] {
			seen[h.RoomID] = true
			rooms = append(rooms, h.RoomID)
		}
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (s *Service) loadHold(ctx context.Context, id uuid.UUID, code string) (domain.Hold, error) {
	if id != uuid.Nil {
		return s.store.GetHold(ctx, id)
	}
	if !domain.ValidReferenceCode(code) {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldNotFound, "reference %q", code)
	}
	return s.store.GetHoldByReference(ctx, code)
}

package reservation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

// RoomOccupancy returns one entry per bunk of the room, reflecting the state
// after lapsed holds have been reclaimed.
func (s *Service) RoomOccupancy(ctx context.Context, roomID string) ([]domain.BunkStatus, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.RoomOccupancy")
	defer span.End()

	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	var holds []domain.Hold
	var now time.Time
	err = s.runTx(ctx, "occupancy", func(txCtx context.Context) error {
		now = s.clock.Now()
		if err := s.store.RegisterRoom(txCtx, room.ID, room.Capacity); err != nil {
			return err
		}
		if _, err := s.lockRoom(txCtx, room.ID, now); err != nil {
			return err
		}
		holds, err = s.store.ListOccupyingHolds(txCtx, room.ID, now)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	bunks := make([]domain.BunkStatus, room.Capacity)
	for i := range bunks {
		bunks[i] = domain.BunkStatus{BunkNumber: i + 1}
	}
	for _, h := range holds {
		if !room.HasBunk(h.BunkNumber) || !h.Occupies(now) {
			continue
		}
		id, expiresAt := h.ID, h.ExpiresAt
		b := &bunks[h.BunkNumber-1]
		b.Occupied = true
		b.State = h.State
		b.HoldID = &id
		if h.State == domain.HoldStateActive {
			b.ExpiresAt = &expiresAt
		}
	}
	return bunks, nil
}

// RoomAvailability returns the room's available counter after reclamation.
func (s *Service) RoomAvailability(ctx context.Context, roomID string) (domain.RoomAvailability, error) {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return domain.RoomAvailability{}, err
	}
	return s.availability(ctx, room)
}

func (s *Service) availability(ctx context.Context, room domain.Room) (domain.RoomAvailability, error) {
	var result domain.RoomAvailability
	err := s.runTx(ctx, "availability", func(txCtx context.Context) error {
		if err := s.store.RegisterRoom(txCtx, room.ID, room.Capacity); err != nil {
			return err
		}
		avail, err := s.lockRoom(txCtx, room.ID, s.clock.Now())
		if err != nil {
			return err
		}
		result = avail
		return nil
	})
	return result, err
}

type RoomListing struct {
	Room      domain.Room
	Available int
}

// ListRooms lists catalog rooms with their reclaimed available counts.
func (s *Service) ListRooms(ctx context.Context, filter domain.RoomFilter, onlyAvailable bool) ([]RoomListing, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.ListRooms")
	defer span.End()

	rooms, err := s.catalog.ListRooms(ctx, filter)
	if err != nil {
		return nil, err
	}

	listings := make([]RoomListing, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, room := range rooms {
		g.Go(func() error {
			listings[i].Room = room
			if room.Capacity <= 0 {
				return nil
			}
			avail, err := s.availability(gctx, room)
			if err != nil {
				return err
			}
			listings[i].Available = avail.Available
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !onlyAvailable {
		return listings, nil
	}
	out := listings[:0]
	for _, l := range listings {
		if l.Available > 0 {
			out = append(out, l)
		}
	}
	return out, nil
}

// SweepExpired reclaims lapsed holds across all rooms, one transaction per
// room. A room that fails is logged and skipped; the others are still
// reclaimed. It returns the number of holds expired and the joined failures.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.SweepExpired")
	defer span.End()

	roomIDs, err := s.store.RoomsWithLapsedHolds(ctx, s.clock.Now(), s.sweepBatch)
	if err != nil {
		return 0, err
	}

	var (
		total atomic.Int64
		mu    sync.Mutex
		errs  []error
		g     errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, roomID := range roomIDs {
		g.Go(func() error {
			n, err := s.reclaimRoom(ctx, roomID)
			if err != nil {
				s.logger.WithField("room_id", roomID).WithError(err).Error("failed to reclaim room")
				mu.Lock()
				errs = append(errs, errors.Wrapf(err, "room %s", roomID))
				mu.Unlock()
				return nil
			}
			total.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()
	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return int(total.Load()), err
}

func (s *Service) reclaimRoom(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.runTx(ctx, "sweep", func(txCtx context.Context) error {
		now := s.clock.Now()
		if _, err := s.store.LockRoom(txCtx, roomID); err != nil {
			return err
		}
		reclaimed, err := s.store.ReclaimRoom(txCtx, roomID, now)
		if err != nil {
			return err
		}
		n = len(reclaimed)
		return s.recordExpired(txCtx, reclaimed, now)
	})
	if err == nil && n > 0 {
		observability.SweptHolds.Add(float64(n))
	}
	return n, err
}

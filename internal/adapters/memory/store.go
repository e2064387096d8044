// Package memory provides in-process implementations of the hold ledger and
// room catalog. Transactions are serialised by a mutex and applied to a
// private copy of the state, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bunk-reservations/internal/domain"
)

type state struct {
	rooms  map[string]domain.RoomAvailability
	holds  map[uuid.UUID]domain.Hold
	order  []uuid.UUID
	events []domain.HoldEvent
}

func newState() *state {
	return &state{
		rooms: make(map[string]domain.RoomAvailability),
		holds: make(map[uuid.UUID]domain.Hold),
	}
}

func (s *state) clone() *state {
	c := &state{
		rooms:  make(map[string]domain.RoomAvailability, len(s.rooms)),
		holds:  make(map[uuid.UUID]domain.Hold, len(s.holds)),
		order:  append([]uuid.UUID(nil), s.order...),
		events: append([]domain.HoldEvent(nil), s.events...),
	}
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	return c
}

type Store struct {
	mu          sync.Mutex
	st          *state
	failCommits int
}

func NewStore() *Store {
	return &Store{st: newState()}
}

type txKey struct{}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	if s.failCommits > 0 {
		s.failCommits--
		return domain.ErrSerializationFailure
	}
	s.st = work
	return nil
}

// FailNextCommits makes the next n commits report a serialization failure
// and discard their writes.
func (s *Store) FailNextCommits(n int) {
	s.mu.Lock()
	s.failCommits = n
	s.mu.Unlock()
}

// read runs fn against the transaction state in ctx, or against the committed
// state when ctx carries no transaction.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return s.read(ctx, fn)
	}
	return s.WithTx(ctx, func(txCtx context.Context) error {
		return s.read(txCtx, fn)
	})
}

func (s *Store) RegisterRoom(ctx context.Context, roomID string, capacity int) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.rooms[roomID]; ok {
			return nil
		}
		occupied := 0
		for _, h := range st.holds {
			if h.RoomID == roomID && (h.State == domain.HoldStateActive || h.State == domain.HoldStateConfirmed) {
				occupied++
			}
		}
		st.rooms[roomID] = domain.RoomAvailability{RoomID: roomID, Capacity: capacity, Available: capacity - occupied}
		return nil
	})
}

func (s *Store) LockRoom(ctx context.Context, roomID string) (domain.RoomAvailability, error) {
	var avail domain.RoomAvailability
	err := s.read(ctx, func(st *state) error {
		a, ok := st.rooms[roomID]
		if !ok {
			return errors.Wrapf(domain.ErrRoomNotFound, "room %s not registered", roomID)
		}
		avail = a
		return nil
	})
	return avail, err
}

func (s *Store) AdjustAvailable(ctx context.Context, roomID string, delta int) error {
	return s.write(ctx, func(st *state) error {
		a, ok := st.rooms[roomID]
		if !ok {
			return errors.Wrapf(domain.ErrRoomNotFound, "room %s not registered", roomID)
		}
		next := a.Available + delta
		if next < 0 || next > a.Capacity {
			return errors.Newf("room %s: available %d out of [0, %d]", roomID, next, a.Capacity)
		}
		a.Available = next
		st.rooms[roomID] = a
		return nil
	})
}

func (s *Store) reclaim(ctx context.Context, now time.Time, match func(domain.Hold) bool) ([]domain.Hold, error) {
	var reclaimed []domain.Hold
	err := s.write(ctx, func(st *state) error {
		for _, id := range st.order {
			h := st.holds[id]
			if !match(h) || !h.Expire(now) {
				continue
			}
			a, ok := st.rooms[h.RoomID]
			if !ok {
				return errors.Wrapf(domain.ErrRoomNotFound, "room %s not registered", h.RoomID)
			}
			if a.Available+1 > a.Capacity {
				return errors.Newf("room %s: available would exceed capacity %d", h.RoomID, a.Capacity)
			}
			a.Available++
			st.rooms[h.RoomID] = a
			st.holds[id] = h
			reclaimed = append(reclaimed, h)
		}
		return nil
	})
	return reclaimed, err
}

func (s *Store) ReclaimRoom(ctx context.Context, roomID string, now time.Time) ([]domain.Hold, error) {
	return s.reclaim(ctx, now, func(h domain.Hold) bool { return h.RoomID == roomID })
}

func (s *Store) ReclaimRequester(ctx context.Context, requesterID string, now time.Time) ([]domain.Hold, error) {
	return s.reclaim(ctx, now, func(h domain.Hold) bool { return h.RequesterID == requesterID })
}

func (s *Store) RoomsWithLapsedHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var rooms []string
	err := s.read(ctx, func(st *state) error {
		seen := make(map[string]bool)
		for _, id := range st.order {
			h := st.holds[id]
			if h.Lapsed(now) && !seen[h.RoomID] {
				seen[h.RoomID] = true
				rooms = append(rooms, h.RoomID)
			}
		}
		return nil
	})
	sort.Strings(rooms)
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, err
}

func (s *Store) find(ctx context.Context, match func(domain.Hold) bool) (*domain.Hold, error) {
	var found *domain.Hold
	err := s.read(ctx, func(st *state) error {
		for _, id := range st.order {
			if h := st.holds[id]; match(h) {
				found = &h
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (s *Store) FindOccupyingHold(ctx context.Context, roomID string, bunk int, now time.Time) (*domain.Hold, error) {
	return s.find(ctx, func(h domain.Hold) bool {
		return h.RoomID == roomID && h.BunkNumber == bunk && h.Occupies(now)
	})
}

func (s *Store) FindActiveHoldByRequester(ctx context.Context, requesterID string, now time.Time) (*domain.Hold, error) {
	return s.find(ctx, func(h domain.Hold) bool {
		return h.RequesterID == requesterID && h.State == domain.HoldStateActive && h.ExpiresAt.After(now)
	})
}

func (s *Store) ListOccupyingHolds(ctx context.Context, roomID string, now time.Time) ([]domain.Hold, error) {
	var holds []domain.Hold
	err := s.read(ctx, func(st *state) error {
		for _, id := range st.order {
			if h := st.holds[id]; h.RoomID == roomID && h.Occupies(now) {
				holds = append(holds, h)
			}
		}
		return nil
	})
	sort.Slice(holds, func(i, j int) bool { return holds[i].BunkNumber < holds[j].BunkNumber })
	return holds, err
}

// InsertHold enforces the same uniqueness rules as the partial unique indexes
// of the SQL ledger.
func (s *Store) InsertHold(ctx context.Context, hold domain.Hold) error {
	return s.write(ctx, func(st *state) error {
		for _, id := range st.order {
			h := st.holds[id]
			if h.ReferenceCode == hold.ReferenceCode {
				return errors.Wrap(domain.ErrSerializationFailure, "reference code collision")
			}
			if h.State == domain.HoldStateActive || h.State == domain.HoldStateConfirmed {
				if h.RoomID == hold.RoomID && h.BunkNumber == hold.BunkNumber {
					return errors.Wrapf(domain.ErrBunkOccupied, "room %s bunk %d", hold.RoomID, hold.BunkNumber)
				}
			}
			if h.State == domain.HoldStateActive && h.RequesterID == hold.RequesterID {
				return errors.Wrapf(domain.ErrRequesterAlreadyActive, "hold %s", h.ID)
			}
		}
		st.holds[hold.ID] = hold
		st.order = append(st.order, hold.ID)
		return nil
	})
}

func (s *Store) UpdateHold(ctx context.Context, hold domain.Hold) error {
	return s.write(ctx, func(st *state) error {
		current, ok := st.holds[hold.ID]
		if !ok {
			return errors.Wrapf(domain.ErrHoldNotFound, "hold %s", hold.ID)
		}
		if current.State != domain.HoldStateActive {
			return errors.Wrapf(domain.ErrInvalidState, "hold %s is not active", hold.ID)
		}
		st.holds[hold.ID] = hold
		return nil
	})
}

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error) {
	var hold domain.Hold
	err := s.read(ctx, func(st *state) error {
		h, ok := st.holds[id]
		if !ok {
			return errors.Wrapf(domain.ErrHoldNotFound, "hold %s", id)
		}
		hold = h
		return nil
	})
	return hold, err
}

func (s *Store) GetHoldByReference(ctx context.Context, code string) (domain.Hold, error) {
	h, err := s.find(ctx, func(h domain.Hold) bool { return h.ReferenceCode == code })
	if err != nil {
		return domain.Hold{}, err
	}
	if h == nil {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldNotFound, "reference %s", code)
	}
	return *h, nil
}

// ListHolds returns matching holds newest first.
func (s *Store) ListHolds(ctx context.Context, filter domain.HoldFilter) ([]domain.Hold, error) {
	var holds []domain.Hold
	err := s.read(ctx, func(st *state) error {
		for i := len(st.order) - 1; i >= 0; i-- {
			h := st.holds[st.order[i]]
			if !filter.Match(h) {
				continue
			}
			holds = append(holds, h)
			if filter.Limit > 0 && len(holds) == filter.Limit {
				break
			}
		}
		return nil
	})
	return holds, err
}

func (s *Store) AppendEvent(ctx context.Context, event domain.HoldEvent) error {
	return s.write(ctx, func(st *state) error {
		st.events = append(st.events, event)
		return nil
	})
}

// Events returns the committed event log.
func (s *Store) Events() []domain.HoldEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HoldEvent(nil), s.st.events...)
}

package reservation

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bunk-reservations/internal/clock"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Store is the hold ledger. Every method except WithTx runs inside the
// transaction carried by ctx when there is one.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// RegisterRoom creates the availability row for a room if it does not exist yet.
	RegisterRoom(ctx context.Context, roomID string, capacity int) error
	// LockRoom reads the availability row and holds it exclusively until the
	// transaction ends. It returns domain.ErrRoomNotFound for unregistered rooms.
	LockRoom(ctx context.Context, roomID string) (domain.RoomAvailability, error)
	// AdjustAvailable adds delta to the room's cached available count.
	AdjustAvailable(ctx context.Context, roomID string, delta int) error

	// ReclaimRoom expires every lapsed ACTIVE hold of the room and restores one
	// slot per expired hold. Holds that are already terminal are left alone.
	ReclaimRoom(ctx context.Context, roomID string, now time.Time) ([]domain.Hold, error)
	// ReclaimRequester does the same for the lapsed ACTIVE holds of one requester.
	ReclaimRequester(ctx context.Context, requesterID string, now time.Time) ([]domain.Hold, error)
	RoomsWithLapsedHolds(ctx context.Context, now time.Time, limit int) ([]string, error)

	FindOccupyingHold(ctx context.Context, roomID string, bunk int, now time.Time) (*domain.Hold, error)
	FindActiveHoldByRequester(ctx context.Context, requesterID string, now time.Time) (*domain.Hold, error)
	ListOccupyingHolds(ctx context.Context, roomID string, now time.Time) ([]domain.Hold, error)

	InsertHold(ctx context.Context, hold domain.Hold) error
	UpdateHold(ctx context.Context, hold domain.Hold) error
	GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error)
	GetHoldByReference(ctx context.Context, code string) (domain.Hold, error)
	ListHolds(ctx context.Context, filter domain.HoldFilter) ([]domain.Hold, error)

	AppendEvent(ctx context.Context, event domain.HoldEvent) error
}

// Catalog is the read-only room catalog.
type Catalog interface {
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	ListRooms(ctx context.Context, filter domain.RoomFilter) ([]domain.Room, error)
}

const (
	defaultHoldWindow   = 48 * time.Hour
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 20 * time.Millisecond
	defaultSweepBatch   = 100
	defaultWorkers      = 4
)

// Service is the reservation engine. It is the only writer of holds and of
// the rooms' available counters.
type Service struct {
	store        Store
	catalog      Catalog
	clock        clock.Clock
	logger       observability.Logger
	tracer       trace.Tracer
	holdWindow   time.Duration
	maxAttempts  int
	retryBackoff time.Duration
	sweepBatch   int
	workers      int
}

type Option func(*Service)

// WithHoldWindow sets how long a new hold stays payable.
func WithHoldWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.holdWindow = d
		}
	}
}

// WithMaxAttempts bounds how often an operation is re-run after a
// serialization failure.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryBackoff = d
		}
	}
}

// WithSweepBatch caps how many rooms one sweep visits.
func WithSweepBatch(batch int) Option {
	return func(s *Service) {
		if batch > 0 {
			s.sweepBatch = batch
		}
	}
}

// WithWorkers bounds the rooms reclaimed by a sweep or annotated by
// ListRooms concurrently.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func NewService(store Store, catalog Catalog, clk clock.Clock, logger observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:        store,
		catalog:      catalog,
		clock:        clk,
		logger:       logger,
		tracer:       otel.Tracer("reservation"),
		holdWindow:   defaultHoldWindow,
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
		sweepBatch:   defaultSweepBatch,
		workers:      defaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) HoldWindow() time.Duration {
	return s.holdWindow
}

// runTx runs fn in a transaction. On a serialization failure or a storage
// timeout the whole of fn is evaluated again from scratch, never replayed,
// because occupancy may have changed in between.
func (s *Service) runTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := s.store.WithTx(ctx, fn)
		observability.DBTxDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if !domain.Retryable(err) {
			return err
		}
		if attempt >= s.maxAttempts {
			s.logger.WithField("op", op).WithField("attempts", attempt).WithError(err).Warn("giving up after transient storage failures")
			return errors.Wrapf(domain.ErrUnavailable, "%s: %d attempts", op, attempt)
		}
		observability.TxRetries.WithLabelValues(op).Inc()

		backoff := s.retryBackoff * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return errors.Mark(errors.Wrapf(ctx.Err(), "%s: retry aborted", op), domain.ErrUnavailable)
		case <-time.After(backoff):
		}
	}
}

// lockRoom takes the room's exclusion scope and reclaims its lapsed holds
// before anything reads occupancy. The returned availability is post-reclamation.
func (s *Service) lockRoom(ctx context.Context, roomID string, now time.Time) (domain.RoomAvailability, error) {
	avail, err := s.store.LockRoom(ctx, roomID)
	if err != nil {
		return domain.RoomAvailability{}, err
	}
	reclaimed, err := s.store.ReclaimRoom(ctx, roomID, now)
	if err != nil {
		return domain.RoomAvailability{}, err
	}
	if len(reclaimed) == 0 {
		return avail, nil
	}
	if err := s.recordExpired(ctx, reclaimed, now); err != nil {
		return domain.RoomAvailability{}, err
	}
	return s.store.LockRoom(ctx, roomID)
}

func (s *Service) recordExpired(ctx context.Context, holds []domain.Hold, now time.Time) error {
	for _, h := range holds {
		if err := s.store.AppendEvent(ctx, domain.NewHoldEvent(domain.EventHoldExpired, h, now)); err != nil {
			return err
		}
	}
	observability.HoldsReclaimed.Add(float64(len(holds)))
	return nil
}

func (s *Service) getRoom(ctx context.Context, roomID string) (domain.Room, error) {
	if roomID == "" {
		return domain.Room{}, errors.Wrap(domain.ErrInvalidInput, "room id is required")
	}
	room, err := s.catalog.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.Capacity <= 0 {
		return domain.Room{}, errors.Wrapf(domain.ErrRoomNotFound, "room %s has no bunks", roomID)
	}
	return room, nil
}

func (s *Service) logRejected(op string, err error) {
	entry := s.logger.WithField("op", op).WithField("code", domain.Code(err))
	switch domain.Classify(err) {
	case domain.KindInternal:
		entry.WithError(err).Error("operation failed")
	case domain.KindUnavailable:
		entry.WithError(err).Warn("operation unavailable")
	default:
		entry.Debug("operation rejected")
	}
}

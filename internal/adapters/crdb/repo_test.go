package crdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/bunk-reservations/internal/adapters/crdb"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startCockroach(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping CockroachDB container in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := crdb.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	return pool
}

func activeHold(roomID string, bunk int, requester string, now time.Time) domain.Hold {
	h := domain.NewHold(roomID, bunk, requester, 2500000, now, time.Hour)
	_ = h.Activate()
	return h
}

func TestRepository_Ledger(t *testing.T) {
	pool := startCockroach(t)
	repo := crdb.NewRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := repo.RegisterRoom(ctx, "room-1", 2); err != nil {
		t.Fatal(err)
	}
	// Registration is idempotent and never resets the counter.
	if err := repo.AdjustAvailable(ctx, "room-1", -1); err != nil {
		t.Fatal(err)
	}
	if err := repo.RegisterRoom(ctx, "room-1", 2); err != nil {
		t.Fatal(err)
	}
	avail, err := repo.LockRoom(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if avail.Available != 1 || avail.Capacity != 2 {
		t.Fatalf("expected 1/2 available, got %d/%d", avail.Available, avail.Capacity)
	}
	if err := repo.AdjustAvailable(ctx, "room-1", 1); err != nil {
		t.Fatal(err)
	}

	t.Run("unregistered room", func(t *testing.T) {
		_, err := repo.LockRoom(ctx, "nope")
		if !errors.Is(err, domain.ErrRoomNotFound) {
			t.Fatalf("expected room not found, got %v", err)
		}
	})

	t.Run("counter stays in range", func(t *testing.T) {
		err := repo.AdjustAvailable(ctx, "room-1", 1)
		if err == nil {
			t.Fatal("expected check violation when exceeding capacity")
		}
	})

	first := activeHold("room-1", 1, "req-a", now)
	t.Run("occupying bunk index", func(t *testing.T) {
		if err := repo.InsertHold(ctx, first); err != nil {
			t.Fatal(err)
		}
		err := repo.InsertHold(ctx, activeHold("room-1", 1, "req-b", now))
		if !errors.Is(err, domain.ErrBunkOccupied) {
			t.Fatalf("expected bunk occupied, got %v", err)
		}
	})

	t.Run("active requester index", func(t *testing.T) {
		err := repo.InsertHold(ctx, activeHold("room-1", 2, "req-a", now))
		if !errors.Is(err, domain.ErrRequesterAlreadyActive) {
			t.Fatalf("expected requester already active, got %v", err)
		}
	})

	t.Run("lookups", func(t *testing.T) {
		got, err := repo.GetHoldByReference(ctx, first.ReferenceCode)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != first.ID || got.State != domain.HoldStateActive || got.PaymentStatus != domain.PaymentPending {
			t.Fatalf("unexpected hold %+v", got)
		}
		occ, err := repo.FindOccupyingHold(ctx, "room-1", 1, now)
		if err != nil || occ == nil || occ.ID != first.ID {
			t.Fatalf("expected occupant %s, got %v (%v)", first.ID, occ, err)
		}
		occ, err = repo.FindOccupyingHold(ctx, "room-1", 2, now)
		if err != nil || occ != nil {
			t.Fatalf("expected free bunk, got %v (%v)", occ, err)
		}
	})

	t.Run("reclaim lapsed holds", func(t *testing.T) {
		if err := repo.AdjustAvailable(ctx, "room-1", -1); err != nil {
			t.Fatal(err)
		}
		later := first.ExpiresAt.Add(time.Second)

		rooms, err := repo.RoomsWithLapsedHolds(ctx, later, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(rooms) != 1 || rooms[0] != "room-1" {
			t.Fatalf("expected [room-1], got %v", rooms)
		}

		var reclaimed []domain.Hold
		err = repo.WithTx(ctx, func(ctx context.Context) error {
			reclaimed, err = repo.ReclaimRoom(ctx, "room-1", later)
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(reclaimed) != 1 || reclaimed[0].State != domain.HoldStateExpired {
			t.Fatalf("expected one expired hold, got %+v", reclaimed)
		}
		avail, err := repo.LockRoom(ctx, "room-1")
		if err != nil {
			t.Fatal(err)
		}
		if avail.Available != 2 {
			t.Fatalf("expected 2 available after reclaim, got %d", avail.Available)
		}

		// Reclaiming twice changes nothing.
		reclaimed, err = repo.ReclaimRoom(ctx, "room-1", later)
		if err != nil || len(reclaimed) != 0 {
			t.Fatalf("expected no second reclaim, got %d (%v)", len(reclaimed), err)
		}
	})

	t.Run("terminal holds are not rewritten", func(t *testing.T) {
		expired, err := repo.GetHold(ctx, first.ID)
		if err != nil {
			t.Fatal(err)
		}
		expired.State = domain.HoldStateConfirmed
		if err := repo.UpdateHold(ctx, expired); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected invalid state, got %v", err)
		}
	})

	t.Run("outbox", func(t *testing.T) {
		event := domain.NewHoldEvent(domain.EventHoldCreated, first, now)
		if err := repo.AppendEvent(ctx, event); err != nil {
			t.Fatal(err)
		}
		var records []crdb.OutboxRecord
		err := repo.WithTx(ctx, func(ctx context.Context) error {
			var err error
			records, err = repo.GetUnpublishedOutbox(ctx, 10)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if err := repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 || records[0].DedupeKey != event.ID.String() || records[0].EventType != "hold.created" {
			t.Fatalf("unexpected outbox records %+v", records)
		}
	})
}

func TestRepository_ConcurrentInsertsOnSameBunk(t *testing.T) {
	pool := startCockroach(t)
	repo := crdb.NewRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.RegisterRoom(ctx, "room-c", 4); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hold := activeHold("room-c", 3, "req-"+string(rune('a'+i)), now)
			errs <- repo.WithTx(ctx, func(ctx context.Context) error {
				if _, err := repo.LockRoom(ctx, "room-c"); err != nil {
					return err
				}
				if err := repo.InsertHold(ctx, hold); err != nil {
					return err
				}
				return repo.AdjustAvailable(ctx, "room-c", -1)
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrBunkOccupied), errors.Is(err, domain.ErrSerializationFailure):
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one insert to win, got %d", succeeded)
	}
	avail, err := repo.LockRoom(ctx, "room-c")
	if err != nil {
		t.Fatal(err)
	}
	if avail.Available != 3 {
		t.Fatalf("expected 3 available, got %d", avail.Available)
	}
}

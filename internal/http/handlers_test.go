package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/robertarktes/bunk-reservations/internal/adapters/memory"
	redisadapter "github.com/robertarktes/bunk-reservations/internal/adapters/redis"
	"github.com/robertarktes/bunk-reservations/internal/clock"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/idempotency"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"github.com/robertarktes/bunk-reservations/internal/reservation"
)

type memoryIdempotency struct {
	data map[string]redisadapter.IdempResponse
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	r, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memoryIdempotency) Set(_ context.Context, key string, resp redisadapter.IdempResponse, _ time.Duration) error {
	m.data[key] = resp
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) bool { return false }

type fixture struct {
	clock  *clock.Manual
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := observability.NewLoggerWithOutput(io.Discard, "error")
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	catalog := memory.NewCatalog(
		domain.Room{ID: "room-a", Name: "A101", Hostel: "Moremi", Type: "quad", Gender: "female", Price: 2500000, Capacity: 2},
		domain.Room{ID: "room-b", Name: "B204", Hostel: "Jaja", Type: "single", Gender: "male", Price: 4000000, Capacity: 1},
	)
	svc := reservation.NewService(memory.NewStore(), catalog, clk, logger,
		reservation.WithHoldWindow(48*time.Hour), reservation.WithRetryBackoff(0))
	h := NewHandlers(svc, logger, map[string]Check{
		"ledger": func(context.Context) error { return nil },
	})
	idemp := idempotency.NewIdempotency(&memoryIdempotency{data: map[string]redisadapter.IdempResponse{}}, time.Hour)
	return &fixture{clock: clk, router: SetupRouter(h, logger, RouterConfig{Idempotency: idemp})}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) claim(t *testing.T, key, room, requester string, bunk int) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/v1/holds",
		map[string]any{"room_id": room, "requester_id": requester, "bunk_number": bunk},
		"Idempotency-Key", key)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandlers_HoldLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.claim(t, "claim-key-0000000001", "room-a", "student-1", 2)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	hold := decode[holdResponse](t, rec)
	if hold.State != "ACTIVE" || hold.Amount != 2500000 || len(hold.ReferenceCode) != 12 {
		t.Fatalf("unexpected hold %+v", hold)
	}

	t.Run("replayed claim returns the stored response", func(t *testing.T) {
		rec := f.claim(t, "claim-key-0000000001", "room-a", "student-1", 2)
		if rec.Code != http.StatusCreated || rec.Header().Get("Idempotent-Replayed") != "true" {
			t.Fatalf("expected replayed 201, got %d %v", rec.Code, rec.Header())
		}
		if got := decode[holdResponse](t, rec); got.HoldID != hold.HoldID {
			t.Fatalf("expected hold %s, got %s", hold.HoldID, got.HoldID)
		}
	})

	t.Run("missing idempotency key", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/holds", map[string]any{"room_id": "room-a"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("occupied bunk", func(t *testing.T) {
		rec := f.claim(t, "claim-key-0000000002", "room-a", "student-2", 2)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if got := decode[errorResponse](t, rec); got.Code != "bunk_occupied" {
			t.Fatalf("expected bunk_occupied, got %+v", got)
		}
	})

	t.Run("unknown room and bad bunk", func(t *testing.T) {
		rec := f.claim(t, "claim-key-0000000003", "room-z", "student-3", 1)
		if rec.Code != http.StatusNotFound || decode[errorResponse](t, rec).Code != "room_not_found" {
			t.Fatalf("expected 404 room_not_found, got %d", rec.Code)
		}
		rec = f.claim(t, "claim-key-0000000004", "room-a", "student-3", 3)
		if rec.Code != http.StatusBadRequest || decode[errorResponse](t, rec).Code != "invalid_bunk" {
			t.Fatalf("expected 400 invalid_bunk, got %d", rec.Code)
		}
	})

	t.Run("request body validation", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/holds", map[string]any{"room_id": "room-a", "bunk_number": 1},
			"Idempotency-Key", "claim-key-0000000005")
		if rec.Code != http.StatusBadRequest || decode[errorResponse](t, rec).Code != "invalid_input" {
			t.Fatalf("expected 400 invalid_input for missing requester, got %d", rec.Code)
		}
		rec = f.do(t, http.MethodPost, "/v1/payments/callback", map[string]any{"hold_id": hold.HoldID})
		if rec.Code != http.StatusBadRequest || decode[errorResponse](t, rec).Code != "invalid_input" {
			t.Fatalf("expected 400 invalid_input for missing payment reference, got %d", rec.Code)
		}
	})

	t.Run("payment confirms by reference code", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/payments/callback", map[string]any{
			"reference_code": hold.ReferenceCode, "payment_reference": "pay-991", "status": "SUCCEEDED",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
		if got := decode[holdResponse](t, rec); got.State != "CONFIRMED" || got.PaymentStatus != "PAID" {
			t.Fatalf("unexpected confirmed hold %+v", got)
		}

		rec = f.do(t, http.MethodGet, "/v1/rooms/room-a/occupancy", nil)
		bunks := decode[[]bunkResponse](t, rec)
		if len(bunks) != 2 || bunks[0].Occupied || !bunks[1].Occupied || bunks[1].State != "CONFIRMED" {
			t.Fatalf("unexpected occupancy %+v", bunks)
		}
	})

	t.Run("failed payment is ignored", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/payments/callback", map[string]any{
			"hold_id": hold.HoldID, "payment_reference": "pay-992", "status": "FAILED",
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
	})

	t.Run("cancelling a confirmed hold", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/holds/"+hold.HoldID.String()+"/cancel", map[string]any{"reason": "changed mind"})
		if rec.Code != http.StatusConflict || decode[errorResponse](t, rec).Code != "already_confirmed" {
			t.Fatalf("expected 409 already_confirmed, got %d", rec.Code)
		}
	})

	t.Run("hold lookups", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/holds/not-a-uuid", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		rec = f.do(t, http.MethodGet, "/v1/holds/"+hold.HoldID.String(), nil)
		if rec.Code != http.StatusOK || decode[holdResponse](t, rec).State != "CONFIRMED" {
			t.Fatalf("expected confirmed hold, got %d", rec.Code)
		}
		rec = f.do(t, http.MethodGet, "/v1/holds?requester_id=student-1", nil)
		if holds := decode[[]holdResponse](t, rec); len(holds) != 1 {
			t.Fatalf("expected 1 hold of student-1, got %d", len(holds))
		}
		rec = f.do(t, http.MethodGet, "/v1/holds?state=BOGUS", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for unknown state, got %d", rec.Code)
		}
	})
}

func TestHandlers_ExpiredHold(t *testing.T) {
	f := newFixture(t)

	rec := f.claim(t, "claim-key-0000000010", "room-b", "student-9", 1)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	hold := decode[holdResponse](t, rec)

	rec = f.do(t, http.MethodGet, "/v1/rooms?available=true", nil)
	if rooms := decode[[]roomResponse](t, rec); len(rooms) != 1 || rooms[0].ID != "room-a" {
		t.Fatalf("expected only room-a available, got %+v", rooms)
	}

	f.clock.Advance(48 * time.Hour)

	rec = f.do(t, http.MethodPost, "/v1/payments/callback", map[string]any{
		"hold_id": hold.HoldID, "payment_reference": "late-pay",
	})
	if rec.Code != http.StatusGone || decode[errorResponse](t, rec).Code != "hold_expired" {
		t.Fatalf("expected 410 hold_expired, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/rooms?available=true", nil)
	if rooms := decode[[]roomResponse](t, rec); len(rooms) != 2 {
		t.Fatalf("expected both rooms available after expiry, got %+v", rooms)
	}

	rec = f.claim(t, "claim-key-0000000011", "room-b", "student-8", 1)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected reclaimed bunk to be claimable, got %d: %s", rec.Code, rec.Body)
	}
}

func TestHandlers_Operational(t *testing.T) {
	logger := observability.NewLoggerWithOutput(io.Discard, "error")
	svc := reservation.NewService(memory.NewStore(), memory.NewCatalog(), clock.NewSystem(), logger)

	t.Run("readiness reports failing dependencies", func(t *testing.T) {
		h := NewHandlers(svc, logger, map[string]Check{
			"ledger": func(context.Context) error { return errors.New("connection refused") },
		})
		rec := httptest.NewRecorder()
		SetupRouter(h, logger, RouterConfig{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readyz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		h := NewHandlers(svc, logger, nil)
		router := SetupRouter(h, logger, RouterConfig{Limiter: denyLimiter{}, RateLimitPerMinute: 1})
		req := httptest.NewRequest(http.MethodGet, "/v1/rooms", nil)
		req.Header.Set(RequesterHeader, "student-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected health checks to bypass the limiter, got %d", rec.Code)
		}
	})
}

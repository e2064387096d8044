package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	redisadapter "github.com/robertarktes/bunk-reservations/internal/adapters/redis"
)

type fakeBackend struct {
	data map[string]redisadapter.IdempResponse
	ttl  time.Duration
}

func (b *fakeBackend) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	r, ok := b.data[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (b *fakeBackend) Set(_ context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error {
	if _, ok := b.data[key]; !ok {
		b.data[key] = resp
	}
	b.ttl = ttl
	return nil
}

func TestIdempotency_RoundTrip(t *testing.T) {
	backend := &fakeBackend{data: map[string]redisadapter.IdempResponse{}}
	idemp := NewIdempotency(backend, time.Hour)
	ctx := WithScope(context.Background(), "POST /v1/holds")

	got, err := idemp.Get(ctx, "key-0000000000000001")
	if err != nil || got != nil {
		t.Fatalf("expected miss, got %v (%v)", got, err)
	}

	if err := idemp.Set(ctx, "key-0000000000000001", Response{Status: http.StatusCreated, Result: []byte(`{"ok":true}`)}); err != nil {
		t.Fatal(err)
	}
	got, err = idemp.Get(ctx, "key-0000000000000001")
	if err != nil || got == nil || got.Status != http.StatusCreated || string(got.Result) != `{"ok":true}` {
		t.Fatalf("expected stored response, got %+v (%v)", got, err)
	}
	if backend.ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %s", backend.ttl)
	}

	other := WithScope(context.Background(), "POST /v1/payments/callback")
	if got, _ := idemp.Get(other, "key-0000000000000001"); got != nil {
		t.Fatal("expected keys to be scoped per route")
	}
}

func TestCacheable(t *testing.T) {
	cases := map[int]bool{
		http.StatusCreated:            true,
		http.StatusNotFound:           true,
		http.StatusGone:               true,
		http.StatusConflict:           false,
		http.StatusTooManyRequests:    false,
		http.StatusServiceUnavailable: false,
	}
	for status, want := range cases {
		if got := Cacheable(status); got != want {
			t.Errorf("Cacheable(%d) = %v, want %v", status, got, want)
		}
	}
}

// Package idempotency replays the stored response of a mutating request that
// is retried with the same Idempotency-Key.
package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/bunk-reservations/internal/adapters/redis"
)

type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

// Get returns the stored response for key, or nil when there is none.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.backend.Get(ctx, scoped(ctx, key))
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Result: stored.Result}, nil
}

// Set stores resp for key. Only final outcomes should be stored; a response
// that invites a retry (contention, unavailability) must not be.
func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.backend.Set(ctx, scoped(ctx, key), redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}

// Cacheable reports whether a response with this status is final.
func Cacheable(status int) bool {
	return status < 500 && status != 409 && status != 429
}

type scopeKey struct{}

// WithScope namespaces keys, e.g. by method and route, so the same key sent
// to two endpoints does not collide.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func scoped(ctx context.Context, key string) string {
	if s, ok := ctx.Value(scopeKey{}).(string); ok && s != "" {
		return s + ":" + key
	}
	return key
}

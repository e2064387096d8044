package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/bunk-reservations/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// RoomSource is the catalog behind the cache.
type RoomSource interface {
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	ListRooms(ctx context.Context, filter domain.RoomFilter) ([]domain.Room, error)
}

// CachedCatalog is a read-through cache of catalog rooms. Only room details
// are cached; availability always comes from the ledger. A Redis failure
// falls through to the source.
type CachedCatalog struct {
	cache  *Cache
	source RoomSource
	ttl    time.Duration
}

func NewCachedCatalog(cache *Cache, source RoomSource, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{cache: cache, source: source, ttl: ttl}
}

func roomKey(id string) string {
	return "room:" + id
}

func (c *CachedCatalog) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	val, err := c.cache.client.Get(ctx, roomKey(roomID)).Bytes()
	if err == nil {
		var room domain.Room
		if json.Unmarshal(val, &room) == nil {
			return room, nil
		}
	}

	room, err := c.source.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if data, err := json.Marshal(room); err == nil {
		c.cache.client.Set(ctx, roomKey(roomID), data, c.ttl)
	}
	return room, nil
}

// ListRooms goes to the source and refreshes the per-room entries.
func (c *CachedCatalog) ListRooms(ctx context.Context, filter domain.RoomFilter) ([]domain.Room, error) {
	rooms, err := c.source.ListRooms(ctx, filter)
	if err != nil {
		return nil, err
	}
	pipe := c.cache.client.Pipeline()
	for _, room := range rooms {
		data, err := json.Marshal(room)
		if err != nil {
			continue
		}
		pipe.Set(ctx, roomKey(room.ID), data, c.ttl)
	}
	_, _ = pipe.Exec(ctx)
	return rooms, nil
}

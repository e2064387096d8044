package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/bunk-reservations/internal/domain"
)

type Catalog struct {
	mu    sync.RWMutex
	rooms map[string]domain.Room
}

func NewCatalog(rooms ...domain.Room) *Catalog {
	c := &Catalog{rooms: make(map[string]domain.Room)}
	for _, r := range rooms {
		c.rooms[r.ID] = r
	}
	return c
}

func (c *Catalog) PutRoom(room domain.Room) {
	c.mu.Lock()
	c.rooms[room.ID] = room
	c.mu.Unlock()
}

func (c *Catalog) GetRoom(_ context.Context, roomID string) (domain.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return domain.Room{}, errors.Wrapf(domain.ErrRoomNotFound, "room %s", roomID)
	}
	return room, nil
}

func (c *Catalog) ListRooms(_ context.Context, filter domain.RoomFilter) ([]domain.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var rooms []domain.Room
	for _, r := range c.rooms {
		if filter.Gender != "" && r.Gender != filter.Gender {
			continue
		}
		if filter.Hostel != "" && r.Hostel != filter.Hostel {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

package domain

// Room is the catalog view of a room. Capacity is the number of bunks,
// numbered 1..Capacity.
type Room struct {
	ID          string
	Name        string
	Hostel      string
	Type        string
	Gender      string
	Price       int64
	Capacity    int
	Description string
}

type RoomFilter struct {
	Gender string
	Hostel string
	Type   string
}

// RoomAvailability is the ledger-side cached counter for a room.
// Available is derived from the holds of the room and is never the source of truth.
type RoomAvailability struct {
	RoomID    string
	Capacity  int
	Available int
}

func (r Room) HasBunk(n int) bool {
	return n >= 1 && n <= r.Capacity
}

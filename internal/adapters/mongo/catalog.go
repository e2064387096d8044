package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository reads rooms from the "rooms" collection, which is owned
// by hostel administration. The reservation engine never writes to it except
// through SaveRoom in tooling and tests.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("rooms"),
		logger: logger,
	}
}

type RoomDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Hostel      string    `bson:"hostel"`
	Type        string    `bson:"type"`
	Gender      string    `bson:"gender"`
	Price       int64     `bson:"price"`
	Capacity    int       `bson:"capacity"`
	Description string    `bson:"description"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d RoomDoc) toDomain() domain.Room {
	return domain.Room{
		ID:          d.ID,
		Name:        d.Name,
		Hostel:      d.Hostel,
		Type:        d.Type,
		Gender:      d.Gender,
		Price:       d.Price,
		Capacity:    d.Capacity,
		Description: d.Description,
	}
}

func (c *CatalogRepository) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	var doc RoomDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": roomID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Room{}, errors.Wrapf(domain.ErrRoomNotFound, "room %s", roomID)
	}
	if err != nil {
		c.logger.WithField("room_id", roomID).WithError(err).Error("failed to get room")
		return domain.Room{}, errors.Wrapf(err, "get room %s", roomID)
	}
	return doc.toDomain(), nil
}

func (c *CatalogRepository) ListRooms(ctx context.Context, filter domain.RoomFilter) ([]domain.Room, error) {
	query := bson.M{}
	if filter.Gender != "" {
		query["gender"] = filter.Gender
	}
	if filter.Hostel != "" {
		query["hostel"] = filter.Hostel
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}

	cur, err := c.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		c.logger.WithError(err).Error("failed to list rooms")
		return nil, errors.Wrap(err, "list rooms")
	}
	var docs []RoomDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode rooms")
	}

	rooms := make([]domain.Room, 0, len(docs))
	for _, d := range docs {
		rooms = append(rooms, d.toDomain())
	}
	return rooms, nil
}

// SaveRoom upserts a room document.
func (c *CatalogRepository) SaveRoom(ctx context.Context, room domain.Room) error {
	now := time.Now().UTC()
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": room.ID},
		bson.M{
			"$set": bson.M{
				"name":        room.Name,
				"hostel":      room.Hostel,
				"type":        room.Type,
				"gender":      room.Gender,
				"price":       room.Price,
				"capacity":    room.Capacity,
				"description": room.Description,
				"updated_at":  now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithField("room_id", room.ID).WithError(err).Error("failed to save room")
		return errors.Wrapf(err, "save room %s", room.ID)
	}
	return nil
}

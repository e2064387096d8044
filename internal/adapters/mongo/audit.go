package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bunk-reservations/internal/domain"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger keeps a queryable trail of hold lifecycle events. Entries are
// keyed by event ID, so a redelivered message is recorded once.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("hold_audit"),
		logger: logger,
	}
}

type AuditLog struct {
	ID            string    `bson:"_id"`
	Action        string    `bson:"action"`
	HoldID        string    `bson:"hold_id"`
	ReferenceCode string    `bson:"reference_code"`
	RequesterID   string    `bson:"requester_id"`
	RoomID        string    `bson:"room_id"`
	BunkNumber    int       `bson:"bunk_number"`
	State         string    `bson:"state"`
	Timestamp     time.Time `bson:"timestamp"`
	RecordedAt    time.Time `bson:"recorded_at"`
	Data          bson.M    `bson:"data"`
}

// RecordHoldEvent stores one event. Recording the same event twice is a no-op.
func (a *AuditLogger) RecordHoldEvent(ctx context.Context, p domain.HoldEventPayload) error {
	data := bson.M{
		"amount":         p.Amount,
		"payment_status": string(p.PaymentStatus),
		"expires_at":     p.ExpiresAt.Format(time.RFC3339),
	}
	if p.PaymentReference != "" {
		data["payment_reference"] = p.PaymentReference
	}
	if p.CancelReason != "" {
		data["cancel_reason"] = p.CancelReason
	}
	entry := AuditLog{
		ID:            p.EventID.String(),
		Action:        string(p.Type),
		HoldID:        p.HoldID.String(),
		ReferenceCode: p.ReferenceCode,
		RequesterID:   p.RequesterID,
		RoomID:        p.RoomID,
		BunkNumber:    p.BunkNumber,
		State:         string(p.State),
		Timestamp:     p.OccurredAt,
		RecordedAt:    time.Now().UTC(),
		Data:          data,
	}
	_, err := a.coll.InsertOne(ctx, entry)
	if mongo.IsDuplicateKeyError(err) {
		a.logger.WithField("event_id", entry.ID).Debug("audit entry already recorded")
		return nil
	}
	if err != nil {
		a.logger.WithField("event_id", entry.ID).WithError(err).Error("failed to insert audit log")
		return errors.Wrapf(err, "record %s", entry.Action)
	}
	return nil
}

// HoldHistory returns the recorded events of one hold, oldest first.
func (a *AuditLogger) HoldHistory(ctx context.Context, holdID uuid.UUID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"hold_id": holdID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, errors.Wrapf(err, "hold history %s", holdID)
	}
	var entries []AuditLog
	if err := cur.All(ctx, &entries); err != nil {
		return nil, errors.Wrapf(err, "decode hold history %s", holdID)
	}
	return entries, nil
}

package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bunk-reservations/internal/domain"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

// AppendEvent writes a hold event to the outbox inside the caller's transaction.
func (r *Repository) AppendEvent(ctx context.Context, event domain.HoldEvent) error {
	payload, err := event.MarshalPayload()
	if err != nil {
		return errors.Wrap(err, "marshal hold event")
	}
	return r.InsertOutbox(ctx, OutboxRecord{
		ID:            event.ID,
		AggregateType: "hold",
		AggregateID:   event.Hold.ID,
		EventType:     string(event.Type),
		Payload:       payload,
		CreatedAt:     event.OccurredAt,
		DedupeKey:     event.ID.String(),
	})
}

func (r *Repository) InsertOutbox(ctx context.Context, record OutboxRecord) error {
	_, err := r.exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, created_at, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, 'NEW', $7)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.CreatedAt, record.DedupeKey)
	if err != nil {
		return errors.Wrapf(err, "insert outbox %s", record.EventType)
	}
	return nil
}

// GetUnpublishedOutbox locks up to limit NEW records. It must run inside
// WithTx so that concurrent publishers skip each other's batches.
func (r *Repository) GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "get unpublished outbox")
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return errors.Wrapf(err, "mark outbox %s published", id)
}

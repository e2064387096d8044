package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS room_availability (
		room_id    TEXT PRIMARY KEY,
		capacity   INT NOT NULL CHECK (capacity > 0),
		available  INT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT available_in_range CHECK (available >= 0 AND available <= capacity)
	)`,
	`CREATE TABLE IF NOT EXISTS holds (
		id                UUID PRIMARY KEY,
		reference_code    TEXT NOT NULL,
		requester_id      TEXT NOT NULL,
		room_id           TEXT NOT NULL REFERENCES room_availability (room_id),
		bunk_number       INT NOT NULL CHECK (bunk_number > 0),
		amount            BIGINT NOT NULL CHECK (amount >= 0),
		state             TEXT NOT NULL CHECK (state IN ('ACTIVE', 'CONFIRMED', 'EXPIRED', 'CANCELLED')),
		payment_status    TEXT NOT NULL CHECK (payment_status IN ('PENDING', 'PAID', 'VOID')),
		payment_reference TEXT NOT NULL DEFAULT '',
		cancel_reason     TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL,
		expires_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + indexReferenceCode + ` ON holds (reference_code)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + indexOccupyingBunk + ` ON holds (room_id, bunk_number) WHERE state IN ('ACTIVE', 'CONFIRMED')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + indexActiveRequester + ` ON holds (requester_id) WHERE state = 'ACTIVE'`,
	`CREATE INDEX IF NOT EXISTS holds_active_expiry ON holds (expires_at) WHERE state = 'ACTIVE'`,
	`CREATE INDEX IF NOT EXISTS holds_room_created ON holds (room_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   UUID NOT NULL,
		event_type     TEXT NOT NULL,
		payload_json   JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at   TIMESTAMPTZ,
		status         TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
		dedupe_key     TEXT NOT NULL UNIQUE
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_new ON outbox (created_at) WHERE status = 'NEW'`,
}

const (
	indexReferenceCode   = "holds_reference_code_key"
	indexOccupyingBunk   = "holds_occupying_bunk"
	indexActiveRequester = "holds_active_requester"
)

// Migrate creates the ledger tables and indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

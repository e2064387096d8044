package crdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/bunk-reservations/internal/domain"
)

// Repository is the CockroachDB hold ledger. Occupancy is never stored; it is
// derived from hold state and expiry in every query that needs it.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const holdColumns = `id, reference_code, requester_id, room_id, bunk_number, amount, state, payment_status,
	payment_reference, cancel_reason, created_at, expires_at, updated_at`

// occupyingAt is the occupancy predicate with the current time bound to placeholder $arg.
func occupyingAt(arg int) string {
	return fmt.Sprintf("(state = 'CONFIRMED' OR (state = 'ACTIVE' AND expires_at > $%d))", arg)
}

func scanHold(row pgx.Row) (domain.Hold, error) {
	var h domain.Hold
	var state, payment string
	err := row.Scan(&h.ID, &h.ReferenceCode, &h.RequesterID, &h.RoomID, &h.BunkNumber, &h.Amount, &state, &payment,
		&h.PaymentReference, &h.CancelReason, &h.CreatedAt, &h.ExpiresAt, &h.UpdatedAt)
	h.State = domain.HoldState(state)
	h.PaymentStatus = domain.PaymentStatus(payment)
	return h, err
}

func collectHolds(rows pgx.Rows) ([]domain.Hold, error) {
	defer rows.Close()
	var holds []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func (r *Repository) RegisterRoom(ctx context.Context, roomID string, capacity int) error {
	_, err := r.exec(ctx, `
		INSERT INTO room_availability (room_id, capacity, available)
		VALUES ($1, $2, $2)
		ON CONFLICT (room_id) DO NOTHING
	`, roomID, capacity)
	if err != nil {
		return errors.Wrapf(err, "register room %s", roomID)
	}
	return nil
}

func (r *Repository) LockRoom(ctx context.Context, roomID string) (domain.RoomAvailability, error) {
	var a domain.RoomAvailability
	err := r.queryRow(ctx, `
		SELECT room_id, capacity, available
		FROM room_availability WHERE room_id = $1
		FOR UPDATE
	`, roomID).Scan(&a.RoomID, &a.Capacity, &a.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoomAvailability{}, errors.Wrapf(domain.ErrRoomNotFound, "room %s not registered", roomID)
	}
	if err != nil {
		return domain.RoomAvailability{}, errors.Wrapf(err, "lock room %s", roomID)
	}
	return a, nil
}

func (r *Repository) AdjustAvailable(ctx context.Context, roomID string, delta int) error {
	result, err := r.exec(ctx, `
		UPDATE room_availability SET available = available + $2, updated_at = now()
		WHERE room_id = $1
	`, roomID, delta)
	if err != nil {
		return errors.Wrapf(err, "adjust available for room %s by %d", roomID, delta)
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrRoomNotFound, "room %s not registered", roomID)
	}
	return nil
}

func (r *Repository) ReclaimRoom(ctx context.Context, roomID string, now time.Time) ([]domain.Hold, error) {
	rows, err := r.query(ctx, `
		UPDATE holds SET state = 'EXPIRED', payment_status = 'VOID', updated_at = $2
		WHERE room_id = $1 AND state = 'ACTIVE' AND expires_at <= $2
		RETURNING `+holdColumns, roomID, now)
	if err != nil {
		return nil, errors.Wrapf(err, "reclaim room %s", roomID)
	}
	holds, err := collectHolds(rows)
	if err != nil {
		return nil, errors.Wrapf(err, "reclaim room %s", roomID)
	}
	if len(holds) > 0 {
		if err := r.AdjustAvailable(ctx, roomID, len(holds)); err != nil {
			return nil, err
		}
	}
	return holds, nil
}

func (r *Repository) ReclaimRequester(ctx context.Context, requesterID string, now time.Time) ([]domain.Hold, error) {
	rows, err := r.query(ctx, `
		UPDATE holds SET state = 'EXPIRED', payment_status = 'VOID', updated_at = $2
		WHERE requester_id = $1 AND state = 'ACTIVE' AND expires_at <= $2
		RETURNING `+holdColumns, requesterID, now)
	if err != nil {
		return nil, errors.Wrapf(err, "reclaim requester %s", requesterID)
	}
	holds, err := collectHolds(rows)
	if err != nil {
		return nil, errors.Wrapf(err, "reclaim requester %s", requesterID)
	}
	perRoom := make(map[string]int)
	for _, h := range holds {
		perRoom[h.RoomID]++
	}
	for roomID, n := range perRoom {
		if err := r.AdjustAvailable(ctx, roomID, n); err != nil {
			return nil, err
		}
	}
	return holds, nil
}

func (r *Repository) RoomsWithLapsedHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.query(ctx, `
		SELECT DISTINCT room_id FROM holds
		WHERE state = 'ACTIVE' AND expires_at <= $1
		ORDER BY room_id LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "rooms with lapsed holds")
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		rooms = append(rooms, id)
	}
	return rooms, rows.Err()
}

func (r *Repository) findOne(ctx context.Context, sql string, args ...any) (*domain.Hold, error) {
	h, err := scanHold(r.queryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *Repository) FindOccupyingHold(ctx context.Context, roomID string, bunk int, now time.Time) (*domain.Hold, error) {
	h, err := r.findOne(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE room_id = $1 AND bunk_number = $2 AND `+occupyingAt(3)+`
		LIMIT 1
	`, roomID, bunk, now)
	return h, errors.Wrapf(err, "find occupying hold room %s bunk %d", roomID, bunk)
}

func (r *Repository) FindActiveHoldByRequester(ctx context.Context, requesterID string, now time.Time) (*domain.Hold, error) {
	h, err := r.findOne(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE requester_id = $1 AND state = 'ACTIVE' AND expires_at > $2
		LIMIT 1
	`, requesterID, now)
	return h, errors.Wrapf(err, "find active hold of %s", requesterID)
}

func (r *Repository) ListOccupyingHolds(ctx context.Context, roomID string, now time.Time) ([]domain.Hold, error) {
	rows, err := r.query(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE room_id = $1 AND `+occupyingAt(2)+`
		ORDER BY bunk_number
	`, roomID, now)
	if err != nil {
		return nil, errors.Wrapf(err, "list occupying holds of %s", roomID)
	}
	return collectHolds(rows)
}

func (r *Repository) InsertHold(ctx context.Context, hold domain.Hold) error {
	_, err := r.exec(ctx, `
		INSERT INTO holds (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, hold.ID, hold.ReferenceCode, hold.RequesterID, hold.RoomID, hold.BunkNumber, hold.Amount,
		string(hold.State), string(hold.PaymentStatus), hold.PaymentReference, hold.CancelReason,
		hold.CreatedAt, hold.ExpiresAt, hold.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// UpdateHold writes the mutable lifecycle fields. It only ever moves a hold
// out of ACTIVE, so the WHERE clause refuses to rewrite a terminal row.
func (r *Repository) UpdateHold(ctx context.Context, hold domain.Hold) error {
	result, err := r.exec(ctx, `
		UPDATE holds
		SET state = $2, payment_status = $3, payment_reference = $4, cancel_reason = $5, updated_at = $6
		WHERE id = $1 AND state = 'ACTIVE'
	`, hold.ID, string(hold.State), string(hold.PaymentStatus), hold.PaymentReference, hold.CancelReason, hold.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "update hold %s", hold.ID)
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrInvalidState, "hold %s is not active", hold.ID)
	}
	return nil
}

func (r *Repository) GetHold(ctx context.Context, id uuid.UUID) (domain.Hold, error) {
	h, err := r.findOne(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id)
	if err != nil {
		return domain.Hold{}, errors.Wrapf(err, "get hold %s", id)
	}
	if h == nil {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", id)
	}
	return *h, nil
}

func (r *Repository) GetHoldByReference(ctx context.Context, code string) (domain.Hold, error) {
	h, err := r.findOne(ctx, `SELECT `+holdColumns+` FROM holds WHERE reference_code = $1`, code)
	if err != nil {
		return domain.Hold{}, errors.Wrapf(err, "get hold by reference %s", code)
	}
	if h == nil {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldNotFound, "reference %s", code)
	}
	return *h, nil
}

// ListHolds returns matching holds newest first.
func (r *Repository) ListHolds(ctx context.Context, filter domain.HoldFilter) ([]domain.Hold, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if filter.State != "" {
		add("state = ?", string(filter.State))
	}
	if filter.RoomID != "" {
		add("room_id = ?", filter.RoomID)
	}
	if filter.RequesterID != "" {
		add("requester_id = ?", filter.RequesterID)
	}

	sql := `SELECT ` + holdColumns + ` FROM holds`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list holds")
	}
	return collectHolds(rows)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultLockTimeout = 2 * time.Second

var errNoTx = errors.New("postgres: zone locks require a transaction")

type HoldRepository struct {
	conn
	lockTimeout time.Duration
}

type HoldRepositoryOption func(*HoldRepository)

// WithLockTimeout bounds how long LockZones waits on a busy zone row.
func WithLockTimeout(d time.Duration) HoldRepositoryOption {
	return func(r *HoldRepository) {
		if d > 0 {
			r.lockTimeout = d
		}
	}
}

func NewHoldRepository(pool *pgxpool.Pool, opts ...HoldRepositoryOption) *HoldRepository {
	r := &HoldRepository{conn: conn{pool: pool}, lockTimeout: defaultLockTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *HoldRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// LockZones takes row locks on the zones in id order, so two transactions
// locking overlapping sets cannot deadlock.
func (r *HoldRepository) LockZones(ctx context.Context, zoneIDs []string) (map[string]domain.Zone, error) {
	tx := txFromContext(ctx)
	if tx == nil {
		return nil, errNoTx
	}

	set := make(map[string]struct{}, len(zoneIDs))
	ids := make([]string, 0, len(zoneIDs))
	for _, id := range zoneIDs {
		if _, ok := set[id]; !ok {
			set[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	const query = `
SELECT id, event_id, name, quota, seats_sold, next_position
FROM zones
WHERE id = ANY($1::uuid[])
ORDER BY id
FOR UPDATE`
	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		return nil, mapLockErr(err)
	}
	zones, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Zone, error) {
		return scanZone(row)
	})
	if err != nil {
		return nil, mapLockErr(err)
	}
	if len(zones) != len(ids) {
		return nil, domain.ErrZoneNotFound
	}

	out := make(map[string]domain.Zone, len(zones))
	for _, z := range zones {
		out[z.ID] = z
	}
	return out, nil
}

func mapLockErr(err error) error {
	switch {
	case isLockNotAvailable(err):
		return domain.ErrContention
	case isInvalidUUID(err):
		return domain.ErrInvalidID
	default:
		return fmt.Errorf("lock zones: %w", err)
	}
}

func (r *HoldRepository) GetZone(ctx context.Context, zoneID string) (domain.Zone, error) {
	const query = `SELECT id, event_id, name, quota, seats_sold, next_position FROM zones WHERE id = $1`
	z, err := scanZone(r.queryRow(ctx, query, zoneID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Zone{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Zone{}, domain.ErrZoneNotFound
		}
		return domain.Zone{}, fmt.Errorf("get zone: %w", err)
	}
	return z, nil
}

func (r *HoldRepository) SumHeld(ctx context.Context, zoneID string) (int, error) {
	const query = `
SELECT COALESCE(SUM(quantity), 0)
FROM holds
WHERE zone_id = $1 AND status IN ('PENDING', 'CONFIRMED')`

	var total int
	if err := r.queryRow(ctx, query, zoneID).Scan(&total); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("sum held: %w", err)
	}
	return total, nil
}

func (r *HoldRepository) NextPosition(ctx context.Context, zoneID string) (int64, error) {
	if txFromContext(ctx) == nil {
		return 0, errNoTx
	}
	const stmt = `UPDATE zones SET next_position = next_position + 1 WHERE id = $1 RETURNING next_position`
	var pos int64
	if err := r.queryRow(ctx, stmt, zoneID).Scan(&pos); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrZoneNotFound
		}
		return 0, fmt.Errorf("next position: %w", err)
	}
	return pos, nil
}

func (r *HoldRepository) CreateHold(ctx context.Context, hold domain.Hold) error {
	const stmt = `
INSERT INTO holds (id, user_id, cart_id, cart_item_id, event_id, zone_id, quantity, status, position, expires_at, promoted_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.exec(ctx, stmt,
		hold.ID,
		hold.UserID,
		hold.CartID,
		hold.CartItemID,
		hold.EventID,
		hold.ZoneID,
		hold.Quantity,
		hold.Status,
		hold.Position,
		hold.ExpiresAt,
		hold.PromotedAt,
		hold.CreatedAt,
		hold.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			// A concurrent request created the active hold for this line first.
			return domain.ErrContention
		case isForeignKeyViolation(err):
			return domain.ErrZoneNotFound
		case isInvalidUUID(err):
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

// UpdateHold writes a status change. Terminal holds are never rewritten.
func (r *HoldRepository) UpdateHold(ctx context.Context, hold domain.Hold) error {
	var current domain.HoldStatus
	if err := r.queryRow(ctx, `SELECT status FROM holds WHERE id = $1 FOR UPDATE`, hold.ID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrHoldNotFound
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("read hold status: %w", err)
	}
	if current.Terminal() || (current != hold.Status && !domain.CanTransition(current, hold.Status)) {
		return domain.ErrInvalidTransition
	}

	const stmt = `
UPDATE holds
SET status = $2, position = $3, expires_at = $4, promoted_at = $5, updated_at = $6
WHERE id = $1`
	if _, err := r.exec(ctx, stmt, hold.ID, hold.Status, hold.Position, hold.ExpiresAt, hold.PromotedAt, hold.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrContention
		}
		return fmt.Errorf("update hold: %w", err)
	}
	return nil
}

func (r *HoldRepository) FindActiveByCartItem(ctx context.Context, userID, cartItemID string) (*domain.Hold, error) {
	query := `SELECT ` + holdColumns + `
FROM holds
WHERE user_id = $1 AND cart_item_id = $2 AND status IN ('WAITING', 'PENDING')`

	h, err := scanHold(r.queryRow(ctx, query, userID, cartItemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active hold: %w", err)
	}
	return &h, nil
}

func (r *HoldRepository) ListHoldsByCart(ctx context.Context, userID, cartID string) ([]domain.Hold, error) {
	return r.listHolds(ctx, "list cart holds", `SELECT `+holdColumns+`
FROM holds
WHERE user_id = $1 AND cart_id = $2
ORDER BY seq`, userID, cartID)
}

func (r *HoldRepository) ListWaiting(ctx context.Context, zoneID string) ([]domain.Hold, error) {
	return r.listHolds(ctx, "list waiting holds", `SELECT `+holdColumns+`
FROM holds
WHERE zone_id = $1 AND status = 'WAITING'
ORDER BY position`, zoneID)
}

func (r *HoldRepository) ListExpiredPending(ctx context.Context, zoneID string, now time.Time) ([]domain.Hold, error) {
	return r.listHolds(ctx, "list expired holds", `SELECT `+holdColumns+`
FROM holds
WHERE zone_id = $1 AND status = 'PENDING' AND expires_at <= $2
ORDER BY expires_at, id`, zoneID, now)
}

func (r *HoldRepository) ZonesWithExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	return r.listZoneIDs(ctx, `
SELECT DISTINCT zone_id::text
FROM holds
WHERE status = 'PENDING' AND expires_at <= $1
ORDER BY 1`, now)
}

func (r *HoldRepository) ZonesWithWaiting(ctx context.Context) ([]string, error) {
	return r.listZoneIDs(ctx, `
SELECT DISTINCT zone_id::text
FROM holds
WHERE status = 'WAITING'
ORDER BY 1`)
}

func (r *HoldRepository) listHolds(ctx context.Context, op, query string, args ...any) ([]domain.Hold, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	holds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Hold, error) {
		return scanHold(row)
	})
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return holds, nil
}

func (r *HoldRepository) listZoneIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	return ids, nil
}

const holdColumns = `id::text, user_id, cart_id, cart_item_id, event_id::text, zone_id::text, quantity, status, position, expires_at, promoted_at, created_at, updated_at`

func scanHold(row pgx.Row) (domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(
		&h.ID,
		&h.UserID,
		&h.CartID,
		&h.CartItemID,
		&h.EventID,
		&h.ZoneID,
		&h.Quantity,
		&h.Status,
		&h.Position,
		&h.ExpiresAt,
		&h.PromotedAt,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return domain.Hold{}, err
	}
	if h.ExpiresAt != nil {
		t := h.ExpiresAt.UTC()
		h.ExpiresAt = &t
	}
	if h.PromotedAt != nil {
		t := h.PromotedAt.UTC()
		h.PromotedAt = &t
	}
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()
	return h, nil
}

func scanZone(row pgx.Row) (domain.Zone, error) {
	var z domain.Zone
	err := row.Scan(&z.ID, &z.EventID, &z.Name, &z.Quota, &z.Sold, &z.NextPosition)
	return z, err
}

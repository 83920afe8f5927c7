package postgres

import (
	"context"
	"fmt"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminRepository stores the catalog rows holds are placed against.
type AdminRepository struct {
	conn
}

func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{conn: conn{pool: pool}}
}

// catalogErr maps the constraint failures of zone writes and lookups onto
// domain errors.
func catalogErr(op string, err error) error {
	switch {
	case isInvalidUUID(err):
		return domain.ErrInvalidID
	case isUniqueViolation(err):
		return domain.ErrZoneAlreadyExists
	case isForeignKeyViolation(err):
		return domain.ErrEventNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *AdminRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	_, err := r.exec(ctx,
		`INSERT INTO events (id, name, starts_at) VALUES ($1, $2, $3)`,
		event.ID, event.Name, event.StartsAt,
	)
	if isInvalidUUID(err) {
		return domain.ErrInvalidID
	}
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func scanEvent(row pgx.CollectableRow) (domain.Event, error) {
	var e domain.Event
	if err := row.Scan(&e.ID, &e.Name, &e.StartsAt); err != nil {
		return domain.Event{}, err
	}
	e.StartsAt = e.StartsAt.UTC()
	return e, nil
}

// ListEvents returns events soonest first.
func (r *AdminRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.query(ctx, `
SELECT id::text, name, starts_at
FROM events
ORDER BY starts_at, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// CreateZone inserts a zone with its waitlist counter at zero. Zone names
// are unique per event.
func (r *AdminRepository) CreateZone(ctx context.Context, zone domain.Zone) error {
	_, err := r.exec(ctx, `
INSERT INTO zones (id, event_id, name, quota, seats_sold)
VALUES ($1, $2, $3, $4, $5)`,
		zone.ID, zone.EventID, zone.Name, zone.Quota, zone.Sold,
	)
	if err != nil {
		return catalogErr("create zone", err)
	}
	return nil
}

// ListZonesByEvent returns the event's zones by name. An event without
// zones is told apart from a missing one with a second lookup.
func (r *AdminRepository) ListZonesByEvent(ctx context.Context, eventID string) ([]domain.Zone, error) {
	rows, err := r.query(ctx, `
SELECT id, event_id, name, quota, seats_sold, next_position
FROM zones
WHERE event_id = $1
ORDER BY name`, eventID)
	if err != nil {
		return nil, catalogErr("list zones", err)
	}
	zones, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Zone, error) {
		return scanZone(row)
	})
	if err != nil {
		return nil, catalogErr("list zones", err)
	}
	if len(zones) > 0 {
		return zones, nil
	}

	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
		return nil, catalogErr("check event", err)
	}
	if !exists {
		return nil, domain.ErrEventNotFound
	}
	return zones, nil
}

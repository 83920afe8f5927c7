package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var errSettingsMissing = errors.New("hold settings row missing")

// SettingsRepository stores the single hold_settings row and its audit
// trail.
type SettingsRepository struct {
	conn
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{conn: conn{pool: pool}}
}

func (r *SettingsRepository) GetHoldSettings(ctx context.Context) (domain.HoldSettings, error) {
	const query = `SELECT ttl_minutes, updated_by, updated_at FROM hold_settings WHERE id`
	var s domain.HoldSettings
	if err := r.queryRow(ctx, query).Scan(&s.TTLMinutes, &s.UpdatedBy, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HoldSettings{}, errSettingsMissing
		}
		return domain.HoldSettings{}, fmt.Errorf("get hold settings: %w", err)
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (r *SettingsRepository) UpdateHoldSettings(ctx context.Context, s domain.HoldSettings) error {
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		const upsert = `
INSERT INTO hold_settings (id, ttl_minutes, updated_by, updated_at)
VALUES (TRUE, $1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET ttl_minutes = EXCLUDED.ttl_minutes, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
		if _, err := r.exec(txCtx, upsert, s.TTLMinutes, s.UpdatedBy, s.UpdatedAt); err != nil {
			return fmt.Errorf("update hold settings: %w", err)
		}

		const audit = `
INSERT INTO hold_settings_audit (ttl_minutes, changed_by, changed_at)
VALUES ($1, $2, $3)`
		if _, err := r.exec(txCtx, audit, s.TTLMinutes, s.UpdatedBy, s.UpdatedAt); err != nil {
			return fmt.Errorf("audit hold settings: %w", err)
		}
		return nil
	})
}

func (r *SettingsRepository) ListSettingsChanges(ctx context.Context, limit int) ([]domain.SettingsChange, error) {
	const query = `
SELECT ttl_minutes, changed_by, changed_at
FROM hold_settings_audit
ORDER BY changed_at DESC, id DESC
LIMIT $1`
	rows, err := r.query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list settings changes: %w", err)
	}
	changes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SettingsChange, error) {
		var c domain.SettingsChange
		err := row.Scan(&c.TTLMinutes, &c.ChangedBy, &c.ChangedAt)
		c.ChangedAt = c.ChangedAt.UTC()
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list settings changes: %w", err)
	}
	return changes, nil
}

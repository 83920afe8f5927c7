package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
)

type SettingsStore struct {
	mu      sync.RWMutex
	current domain.HoldSettings
	changes []domain.SettingsChange
}

// NewSettingsStore starts with ttlMinutes set by "system", like a fresh
// database.
func NewSettingsStore(ttlMinutes int) *SettingsStore {
	return &SettingsStore{
		current: domain.HoldSettings{TTLMinutes: ttlMinutes, UpdatedBy: "system", UpdatedAt: time.Time{}},
	}
}

func (s *SettingsStore) GetHoldSettings(_ context.Context) (domain.HoldSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *SettingsStore) UpdateHoldSettings(_ context.Context, settings domain.HoldSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = settings
	s.changes = append(s.changes, domain.SettingsChange{
		TTLMinutes: settings.TTLMinutes,
		ChangedBy:  settings.UpdatedBy,
		ChangedAt:  settings.UpdatedAt,
	})
	return nil
}

func (s *SettingsStore) ListSettingsChanges(_ context.Context, limit int) ([]domain.SettingsChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SettingsChange, 0, len(s.changes))
	for i := len(s.changes) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.changes[i])
	}
	return out, nil
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"go.uber.org/zap"
)

type SettingsRepository interface {
	GetHoldSettings(ctx context.Context) (domain.HoldSettings, error)
	// UpdateHoldSettings stores the new value and appends an audit entry.
	UpdateHoldSettings(ctx context.Context, settings domain.HoldSettings) error
	ListSettingsChanges(ctx context.Context, limit int) ([]domain.SettingsChange, error)
}

// SettingsService provides the hold TTL. Reads always go to the store so an
// admin change applies to the next hold; when the store fails or returns a
// non-positive value the last known good TTL is used instead.
type SettingsService struct {
	repo   SettingsRepository
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	lastGood int
}

func NewSettingsService(repo SettingsRepository, clk clock.Clock, fallbackMinutes int, logger *zap.Logger) *SettingsService {
	if fallbackMinutes <= 0 {
		fallbackMinutes = int(defaultHoldTTL / time.Minute)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{
		repo:     repo,
		clock:    clk,
		logger:   logger,
		lastGood: fallbackMinutes,
	}
}

const defaultHoldTTL = 15 * time.Minute

// TTLMinutes never fails; see ReadTTLMinutes for the error-reporting read.
func (s *SettingsService) TTLMinutes(ctx context.Context) int {
	minutes, err := s.ReadTTLMinutes(ctx)
	if err != nil {
		s.logger.Warn("using last known hold ttl",
			zap.Int("ttl_minutes", minutes),
			zap.Error(err),
		)
	}
	return minutes
}

// ReadTTLMinutes returns the stored TTL. On failure it returns the last
// known good value together with an error wrapping domain.ErrStaleSettings.
func (s *SettingsService) ReadTTLMinutes(ctx context.Context) (int, error) {
	settings, err := s.repo.GetHoldSettings(ctx)
	if err == nil && settings.TTLMinutes <= 0 {
		err = domain.ErrInvalidTTL
	}
	if err != nil {
		s.mu.RLock()
		fallback := s.lastGood
		s.mu.RUnlock()
		return fallback, fmt.Errorf("%w: %w", domain.ErrStaleSettings, err)
	}

	s.mu.Lock()
	s.lastGood = settings.TTLMinutes
	s.mu.Unlock()
	return settings.TTLMinutes, nil
}

// UpdateDefaultTTLMinutes changes the TTL for holds created or promoted
// from now on, recording who made the change.
func (s *SettingsService) UpdateDefaultTTLMinutes(ctx context.Context, minutes int, adminID string) (domain.HoldSettings, error) {
	if minutes <= 0 {
		return domain.HoldSettings{}, domain.ErrInvalidTTL
	}
	if adminID == "" {
		return domain.HoldSettings{}, domain.ErrAdminRequired
	}

	settings := domain.HoldSettings{
		TTLMinutes: minutes,
		UpdatedBy:  adminID,
		UpdatedAt:  s.clock.Now(),
	}
	if err := s.repo.UpdateHoldSettings(ctx, settings); err != nil {
		return domain.HoldSettings{}, err
	}

	s.mu.Lock()
	s.lastGood = minutes
	s.mu.Unlock()
	s.logger.Info("hold ttl updated", zap.Int("ttl_minutes", minutes), zap.String("admin_id", adminID))
	return settings, nil
}

// History returns the most recent TTL changes, newest first.
func (s *SettingsService) History(ctx context.Context, limit int) ([]domain.SettingsChange, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListSettingsChanges(ctx, limit)
}

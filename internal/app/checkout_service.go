package app

import (
	"context"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/events"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutService turns payment outcomes into hold transitions.
type CheckoutService struct {
	repo      HoldStore
	settings  TTLSource
	clock     clock.Clock
	logger    *zap.Logger
	publisher events.Publisher
}

type CheckoutServiceOption func(*CheckoutService)

func WithCheckoutLogger(l *zap.Logger) CheckoutServiceOption {
	return func(s *CheckoutService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithCheckoutPublisher(p events.Publisher) CheckoutServiceOption {
	return func(s *CheckoutService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func NewCheckoutService(repo HoldStore, settings TTLSource, clk clock.Clock, opts ...CheckoutServiceOption) *CheckoutService {
	s := &CheckoutService{
		repo:      repo,
		settings:  settings,
		clock:     clk,
		logger:    zap.NewNop(),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConfirmResult separates the cart lines that were secured from the ones
// whose reservation was lost before payment completed.
type ConfirmResult struct {
	Confirmed []domain.Hold
	// Lost holds the latest hold of each cart line that was not PENDING
	// (expired or still waiting) when the confirmation arrived.
	Lost []domain.Hold
}

// Partial reports whether any cart line lost its reservation.
func (r ConfirmResult) Partial() bool {
	return len(r.Lost) > 0
}

// ConfirmHold moves every live PENDING hold of the cart to CONFIRMED. A
// PENDING hold already past its expiry is expired instead and reported in
// Lost, and its capacity is offered to the zone waitlist. Calling it when
// nothing is PENDING changes nothing.
func (s *CheckoutService) ConfirmHold(ctx context.Context, userID, cartID string) (ConfirmResult, error) {
	ctx, span := tracer.Start(ctx, "CheckoutService.ConfirmHold")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("cart_id", cartID))

	holds, err := s.repo.ListHoldsByCart(ctx, userID, cartID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if len(holds) == 0 {
		return ConfirmResult{}, domain.ErrHoldNotFound
	}

	now := s.clock.Now()
	expiresAt := now.Add(time.Duration(s.settings.TTLMinutes(ctx)) * time.Minute)
	var result ConfirmResult
	var expired, promoted []domain.Hold

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		result, expired, promoted = ConfirmResult{}, nil, nil

		zones, err := s.repo.LockZones(txCtx, zonesOf(holds))
		if err != nil {
			return err
		}
		current, err := s.repo.ListHoldsByCart(txCtx, userID, cartID)
		if err != nil {
			return err
		}

		freed := make(map[string]struct{})
		for _, h := range latestPerLine(current) {
			if _, locked := zones[h.ZoneID]; !locked {
				return domain.ErrContention
			}
			switch {
			case h.Status == domain.HoldStatusConfirmed:
				continue
			case h.ExpiredAt(now):
				if err := h.Transition(domain.HoldStatusExpired, now, time.Time{}); err != nil {
					return err
				}
				if err := s.repo.UpdateHold(txCtx, h); err != nil {
					return err
				}
				expired = append(expired, h)
				freed[h.ZoneID] = struct{}{}
				result.Lost = append(result.Lost, h)
			case h.Status == domain.HoldStatusPending:
				if err := h.Transition(domain.HoldStatusConfirmed, now, time.Time{}); err != nil {
					return err
				}
				if err := s.repo.UpdateHold(txCtx, h); err != nil {
					return err
				}
				result.Confirmed = append(result.Confirmed, h)
			default:
				result.Lost = append(result.Lost, h)
			}
		}

		for _, zoneID := range sortedKeys(freed) {
			p, err := promoteWaiting(txCtx, s.repo, zones[zoneID], now, expiresAt)
			if err != nil {
				return err
			}
			promoted = append(promoted, p...)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return ConfirmResult{}, err
	}

	evts := make([]events.Event, 0, len(result.Confirmed)+len(expired)+len(promoted))
	for _, h := range result.Confirmed {
		evts = append(evts, events.New(events.TypeConfirmed, h, now))
	}
	for _, h := range expired {
		evts = append(evts, events.New(events.TypeExpired, h, now))
	}
	for _, h := range promoted {
		evts = append(evts, events.New(events.TypePromoted, h, now))
	}
	publish(ctx, s.publisher, s.logger, evts)

	if result.Partial() {
		s.logger.Warn("checkout confirmed partially",
			zap.String("user_id", userID),
			zap.String("cart_id", cartID),
			zap.Int("confirmed", len(result.Confirmed)),
			zap.Int("lost", len(result.Lost)),
		)
	}
	return result, nil
}

// ReleaseResult lists the holds released and the waitlisted holds that
// took over the freed capacity.
type ReleaseResult struct {
	Released []domain.Hold
	Promoted []domain.Hold
}

// ReleaseHold expires every WAITING or PENDING hold of the cart at once
// and promotes waitlisted holds into the freed capacity in the same
// transaction. It returns domain.ErrHoldNotFound when the cart has no
// active hold.
func (s *CheckoutService) ReleaseHold(ctx context.Context, userID, cartID string) (ReleaseResult, error) {
	ctx, span := tracer.Start(ctx, "CheckoutService.ReleaseHold")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("cart_id", cartID))

	holds, err := s.repo.ListHoldsByCart(ctx, userID, cartID)
	if err != nil {
		return ReleaseResult{}, err
	}
	active := make([]domain.Hold, 0, len(holds))
	for _, h := range holds {
		if h.Status.Active() {
			active = append(active, h)
		}
	}
	if len(active) == 0 {
		return ReleaseResult{}, domain.ErrHoldNotFound
	}

	now := s.clock.Now()
	expiresAt := now.Add(time.Duration(s.settings.TTLMinutes(ctx)) * time.Minute)
	var result ReleaseResult

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		result = ReleaseResult{}

		zones, err := s.repo.LockZones(txCtx, zonesOf(active))
		if err != nil {
			return err
		}
		current, err := s.repo.ListHoldsByCart(txCtx, userID, cartID)
		if err != nil {
			return err
		}

		freed := make(map[string]struct{})
		for _, h := range current {
			if !h.Status.Active() {
				continue
			}
			if _, locked := zones[h.ZoneID]; !locked {
				return domain.ErrContention
			}
			if err := h.Transition(domain.HoldStatusExpired, now, time.Time{}); err != nil {
				return err
			}
			if err := s.repo.UpdateHold(txCtx, h); err != nil {
				return err
			}
			result.Released = append(result.Released, h)
			freed[h.ZoneID] = struct{}{}
		}
		if len(result.Released) == 0 {
			return domain.ErrHoldNotFound
		}

		for _, zoneID := range sortedKeys(freed) {
			p, err := promoteWaiting(txCtx, s.repo, zones[zoneID], now, expiresAt)
			if err != nil {
				return err
			}
			result.Promoted = append(result.Promoted, p...)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return ReleaseResult{}, err
	}

	evts := make([]events.Event, 0, len(result.Released)+len(result.Promoted))
	for _, h := range result.Released {
		evts = append(evts, events.New(events.TypeReleased, h, now))
	}
	for _, h := range result.Promoted {
		evts = append(evts, events.New(events.TypePromoted, h, now))
	}
	publish(ctx, s.publisher, s.logger, evts)

	s.logger.Info("holds released",
		zap.String("user_id", userID),
		zap.String("cart_id", cartID),
		zap.Int("released", len(result.Released)),
		zap.Int("promoted", len(result.Promoted)),
	)
	return result, nil
}

func zonesOf(holds []domain.Hold) []string {
	set := make(map[string]struct{}, len(holds))
	for _, h := range holds {
		set[h.ZoneID] = struct{}{}
	}
	return sortedKeys(set)
}

// latestPerLine keeps the most recent hold of each cart line; older ones
// were superseded.
func latestPerLine(holds []domain.Hold) []domain.Hold {
	idx := make(map[string]int, len(holds))
	var out []domain.Hold
	for _, h := range holds {
		i, ok := idx[h.CartItemID]
		if !ok {
			idx[h.CartItemID] = len(out)
			out = append(out, h)
			continue
		}
		if h.CreatedAt.After(out[i].CreatedAt) || (h.CreatedAt.Equal(out[i].CreatedAt) && h.Status.Active()) {
			out[i] = h
		}
	}
	return out
}

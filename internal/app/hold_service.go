package app

import (
	"context"
	"sort"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/cimillas/ultimate-ticket/services/reservations/internal/app")

// HoldStore is the durable hold collection. Mutations must run inside
// WithTx after LockZones has claimed every zone they touch; that lock is
// what makes capacity checks and hold writes for a zone linearizable.
type HoldStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockZones locks the given zones for the rest of the transaction and
	// returns them keyed by id. It fails with domain.ErrContention when a
	// lock cannot be acquired promptly.
	LockZones(ctx context.Context, zoneIDs []string) (map[string]domain.Zone, error)
	GetZone(ctx context.Context, zoneID string) (domain.Zone, error)
	SumHeld(ctx context.Context, zoneID string) (int, error)
	NextPosition(ctx context.Context, zoneID string) (int64, error)
	CreateHold(ctx context.Context, hold domain.Hold) error
	UpdateHold(ctx context.Context, hold domain.Hold) error
	FindActiveByCartItem(ctx context.Context, userID, cartItemID string) (*domain.Hold, error)
	ListHoldsByCart(ctx context.Context, userID, cartID string) ([]domain.Hold, error)
	// ListWaiting returns the zone's WAITING holds in position order.
	ListWaiting(ctx context.Context, zoneID string) ([]domain.Hold, error)
	ListExpiredPending(ctx context.Context, zoneID string, now time.Time) ([]domain.Hold, error)
	ZonesWithExpiredPending(ctx context.Context, now time.Time) ([]string, error)
	ZonesWithWaiting(ctx context.Context) ([]string, error)
}

// CartStore resolves the lines of a user's cart.
type CartStore interface {
	GetCart(ctx context.Context, userID, cartID string) (domain.Cart, error)
}

// TTLSource yields the hold TTL in effect right now.
type TTLSource interface {
	TTLMinutes(ctx context.Context) int
}

type HoldService struct {
	repo      HoldStore
	carts     CartStore
	settings  TTLSource
	clock     clock.Clock
	logger    *zap.Logger
	publisher events.Publisher
}

func NewHoldService(repo HoldStore, carts CartStore, settings TTLSource, clk clock.Clock, opts ...HoldServiceOption) *HoldService {
	svc := &HoldService{
		repo:      repo,
		carts:     carts,
		settings:  settings,
		clock:     clk,
		logger:    zap.NewNop(),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type HoldServiceOption func(*HoldService)

// WithHoldLogger sets the logger used for admission decisions.
func WithHoldLogger(l *zap.Logger) HoldServiceOption {
	return func(s *HoldService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHoldPublisher sets where committed hold changes are announced.
func WithHoldPublisher(p events.Publisher) HoldServiceOption {
	return func(s *HoldService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// CurrentTTLMinutes returns the TTL new and promoted holds get right now.
func (s *HoldService) CurrentTTLMinutes(ctx context.Context) int {
	return s.settings.TTLMinutes(ctx)
}

// ComputeExpiry returns now + the current TTL.
func (s *HoldService) ComputeExpiry(ctx context.Context, now time.Time) time.Time {
	return now.Add(time.Duration(s.settings.TTLMinutes(ctx)) * time.Minute)
}

// PlaceHold creates one hold per cart line. Lines that fit the zone's free
// capacity become PENDING; the rest join the zone waitlist. An active hold
// for the same cart line is superseded. Capacity a superseded PENDING hold
// frees goes to its zone's waitlist first, and a replacement admitted in its
// place keeps the earlier deadline, so re-placing never extends a claim.
// The whole cart is placed atomically.
func (s *HoldService) PlaceHold(ctx context.Context, userID, cartID string) ([]domain.Hold, error) {
	ctx, span := tracer.Start(ctx, "HoldService.PlaceHold")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("cart_id", cartID))

	if userID == "" || cartID == "" {
		return nil, domain.ErrInvalidID
	}
	cart, err := s.carts.GetCart(ctx, userID, cartID)
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return nil, domain.ErrCartEmpty
	}
	for _, line := range cart.Lines {
		if line.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if line.ZoneID == "" || line.CartItemID == "" {
			return nil, domain.ErrInvalidID
		}
	}

	// Superseded holds may sit in a zone the cart no longer references, so
	// their zones are locked as well.
	zoneSet := make(map[string]struct{})
	for _, line := range cart.Lines {
		zoneSet[line.ZoneID] = struct{}{}
		prior, err := s.repo.FindActiveByCartItem(ctx, userID, line.CartItemID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			zoneSet[prior.ZoneID] = struct{}{}
		}
	}

	now := s.clock.Now()
	expiresAt := s.ComputeExpiry(ctx, now)
	var created, superseded, promoted []domain.Hold

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		created, superseded, promoted = nil, nil, nil

		zones, err := s.repo.LockZones(txCtx, sortedKeys(zoneSet))
		if err != nil {
			return err
		}

		for _, line := range cart.Lines {
			zone, ok := zones[line.ZoneID]
			if !ok || (line.EventID != "" && zone.EventID != line.EventID) {
				return domain.ErrZoneNotFound
			}
			if !domain.Fits(zone, line.Quantity) {
				return domain.ErrCapacityExceeded
			}

			prior, err := s.repo.FindActiveByCartItem(txCtx, userID, line.CartItemID)
			if err != nil {
				return err
			}
			lineExpiry := expiresAt
			if prior != nil {
				priorZone, locked := zones[prior.ZoneID]
				if !locked {
					// The prior hold moved zones between the read and the lock.
					return domain.ErrContention
				}
				wasPending := prior.Status == domain.HoldStatusPending
				if wasPending && prior.ExpiresAt != nil && prior.ExpiresAt.After(now) && prior.ExpiresAt.Before(lineExpiry) {
					lineExpiry = *prior.ExpiresAt
				}
				if err := prior.Transition(domain.HoldStatusExpired, now, time.Time{}); err != nil {
					return err
				}
				if err := s.repo.UpdateHold(txCtx, *prior); err != nil {
					return err
				}
				superseded = append(superseded, *prior)

				if wasPending {
					p, err := promoteWaiting(txCtx, s.repo, priorZone, now, expiresAt)
					if err != nil {
						return err
					}
					promoted = append(promoted, p...)
				}
			}

			held, err := s.repo.SumHeld(txCtx, zone.ID)
			if err != nil {
				return err
			}

			hold := domain.Hold{
				ID:         newUUID(),
				UserID:     userID,
				CartID:     cartID,
				CartItemID: line.CartItemID,
				EventID:    zone.EventID,
				ZoneID:     zone.ID,
				Quantity:   line.Quantity,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if domain.Available(zone, held) >= line.Quantity {
				exp := lineExpiry
				hold.Status = domain.HoldStatusPending
				hold.ExpiresAt = &exp
			} else {
				pos, err := s.repo.NextPosition(txCtx, zone.ID)
				if err != nil {
					return err
				}
				hold.Status = domain.HoldStatusWaiting
				hold.Position = pos
			}

			if err := s.repo.CreateHold(txCtx, hold); err != nil {
				return err
			}
			created = append(created, hold)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	evts := make([]events.Event, 0, len(created)+len(superseded)+len(promoted))
	for _, h := range superseded {
		evts = append(evts, events.New(events.TypeSuperseded, h, now))
	}
	for _, h := range promoted {
		evts = append(evts, events.New(events.TypePromoted, h, now))
		s.logger.Info("hold promoted", zap.String("hold_id", h.ID), zap.String("zone_id", h.ZoneID))
	}
	for _, h := range created {
		evts = append(evts, events.New(events.TypePlaced, h, now))
		s.logger.Info("hold placed",
			zap.String("hold_id", h.ID),
			zap.String("zone_id", h.ZoneID),
			zap.String("status", string(h.Status)),
			zap.Int("quantity", h.Quantity),
			zap.Int64("position", h.Position),
		)
	}
	publish(ctx, s.publisher, s.logger, evts)

	return created, nil
}

// HasActiveHold reports whether the user's cart holds any WAITING or
// PENDING hold.
func (s *HoldService) HasActiveHold(ctx context.Context, userID, cartID string) (bool, error) {
	holds, err := s.repo.ListHoldsByCart(ctx, userID, cartID)
	if err != nil {
		return false, err
	}
	for _, h := range holds {
		if h.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

// HoldView is a hold plus what a buyer wants to know about it.
type HoldView struct {
	Hold domain.Hold
	// Remaining is the time left on a PENDING hold.
	Remaining time.Duration
	// Ahead counts WAITING holds queued before this one in its zone.
	Ahead int
}

// ListHolds returns the cart's holds with remaining time and queue depth.
// It reads without locking and is meant for display.
func (s *HoldService) ListHolds(ctx context.Context, userID, cartID string) ([]HoldView, error) {
	holds, err := s.repo.ListHoldsByCart(ctx, userID, cartID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	waitingByZone := make(map[string][]domain.Hold)
	views := make([]HoldView, 0, len(holds))
	for _, h := range holds {
		v := HoldView{Hold: h, Remaining: h.Remaining(now)}
		if h.Status == domain.HoldStatusWaiting {
			queue, ok := waitingByZone[h.ZoneID]
			if !ok {
				queue, err = s.repo.ListWaiting(ctx, h.ZoneID)
				if err != nil {
					return nil, err
				}
				waitingByZone[h.ZoneID] = queue
			}
			for _, w := range queue {
				if w.Position < h.Position {
					v.Ahead++
				}
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// ZoneAvailability is an unsynchronized capacity snapshot.
type ZoneAvailability struct {
	Zone      domain.Zone
	Held      int
	Available int
	Waiting   int
}

// Availability reports free capacity for display. It must not be used to
// decide admission; PlaceHold recomputes under the zone lock.
func (s *HoldService) Availability(ctx context.Context, zoneID string) (ZoneAvailability, error) {
	zone, err := s.repo.GetZone(ctx, zoneID)
	if err != nil {
		return ZoneAvailability{}, err
	}
	held, err := s.repo.SumHeld(ctx, zoneID)
	if err != nil {
		return ZoneAvailability{}, err
	}
	waiting, err := s.repo.ListWaiting(ctx, zoneID)
	if err != nil {
		return ZoneAvailability{}, err
	}
	return ZoneAvailability{
		Zone:      zone,
		Held:      held,
		Available: domain.Available(zone, held),
		Waiting:   len(waiting),
	}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func publish(ctx context.Context, p events.Publisher, logger *zap.Logger, evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	if err := p.Publish(ctx, evts...); err != nil {
		logger.Warn("publish hold events", zap.Int("count", len(evts)), zap.Error(err))
	}
}

package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/events"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultSweepInterval = time.Minute

// Lease gives one service instance the right to run a sweep cycle.
type Lease interface {
	// Acquire returns ok=false when another instance holds the lease.
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// Sweeper expires PENDING holds past their TTL and promotes WAITING holds
// into freed capacity. Each zone is swept in its own transaction so a
// failing zone does not hold back the others.
type Sweeper struct {
	repo      HoldStore
	settings  TTLSource
	clock     clock.Clock
	logger    *zap.Logger
	publisher events.Publisher
	interval  time.Duration
	lease     Lease

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SweeperOption func(*Sweeper)

// WithSweepInterval overrides the default one-minute cadence.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepLease makes each tick sweep only while holding the lease.
func WithSweepLease(l Lease) SweeperOption {
	return func(s *Sweeper) {
		s.lease = l
	}
}

func WithSweepLogger(l *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSweepPublisher(p events.Publisher) SweeperOption {
	return func(s *Sweeper) {
		if p != nil {
			s.publisher = p
		}
	}
}

func NewSweeper(repo HoldStore, settings TTLSource, clk clock.Clock, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:      repo,
		settings:  settings,
		clock:     clk,
		logger:    zap.NewNop(),
		publisher: events.Nop{},
		interval:  defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExpireAndPromote runs one expire pass and one promote pass over every
// zone that needs it and returns how many holds changed. A zone that fails
// is logged and skipped; an error is returned only when the zones to sweep
// cannot be listed.
func (s *Sweeper) ExpireAndPromote(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Sweeper.ExpireAndPromote")
	defer span.End()

	now := s.clock.Now()
	expiresAt := now.Add(time.Duration(s.settings.TTLMinutes(ctx)) * time.Minute)

	expiring, err := s.repo.ZonesWithExpiredPending(ctx, now)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("list zones with expired holds: %w", err)
	}
	waiting, err := s.repo.ZonesWithWaiting(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("list zones with waitlist: %w", err)
	}

	set := make(map[string]struct{}, len(expiring)+len(waiting))
	for _, id := range expiring {
		set[id] = struct{}{}
	}
	for _, id := range waiting {
		set[id] = struct{}{}
	}

	changed := 0
	for _, zoneID := range sortedKeys(set) {
		n, err := s.sweepZone(ctx, zoneID, now, expiresAt)
		if err != nil {
			s.logger.Error("sweep zone failed", zap.String("zone_id", zoneID), zap.Error(err))
			continue
		}
		changed += n
	}
	span.SetAttributes(attribute.Int("zones", len(set)), attribute.Int("changed", changed))
	return changed, nil
}

func (s *Sweeper) sweepZone(ctx context.Context, zoneID string, now, expiresAt time.Time) (int, error) {
	var expired, promoted []domain.Hold

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		expired, promoted = nil, nil

		zones, err := s.repo.LockZones(txCtx, []string{zoneID})
		if err != nil {
			return err
		}
		zone, ok := zones[zoneID]
		if !ok {
			return domain.ErrZoneNotFound
		}

		stale, err := s.repo.ListExpiredPending(txCtx, zoneID, now)
		if err != nil {
			return err
		}
		for _, h := range stale {
			if err := h.Transition(domain.HoldStatusExpired, now, time.Time{}); err != nil {
				return err
			}
			if err := s.repo.UpdateHold(txCtx, h); err != nil {
				return err
			}
			expired = append(expired, h)
		}

		promoted, err = promoteWaiting(txCtx, s.repo, zone, now, expiresAt)
		return err
	})
	if err != nil {
		return 0, err
	}

	evts := make([]events.Event, 0, len(expired)+len(promoted))
	for _, h := range expired {
		evts = append(evts, events.New(events.TypeExpired, h, now))
	}
	for _, h := range promoted {
		evts = append(evts, events.New(events.TypePromoted, h, now))
	}
	publish(ctx, s.publisher, s.logger, evts)

	if n := len(expired) + len(promoted); n > 0 {
		s.logger.Info("zone swept",
			zap.String("zone_id", zoneID),
			zap.Int("expired", len(expired)),
			zap.Int("promoted", len(promoted)),
		)
	}
	return len(expired) + len(promoted), nil
}

// promoteWaiting moves WAITING holds of a locked zone to PENDING in
// position order while they fit. The first hold that does not fit stops
// the pass: later, smaller holds never overtake it.
func promoteWaiting(ctx context.Context, repo HoldStore, zone domain.Zone, now, expiresAt time.Time) ([]domain.Hold, error) {
	held, err := repo.SumHeld(ctx, zone.ID)
	if err != nil {
		return nil, err
	}
	available := domain.Available(zone, held)
	if available <= 0 {
		return nil, nil
	}

	queue, err := repo.ListWaiting(ctx, zone.ID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Position < queue[j].Position })

	var promoted []domain.Hold
	for _, h := range queue {
		if available <= 0 || h.Quantity > available {
			break
		}
		if err := h.Transition(domain.HoldStatusPending, now, expiresAt); err != nil {
			return nil, err
		}
		if err := repo.UpdateHold(ctx, h); err != nil {
			return nil, err
		}
		available -= h.Quantity
		promoted = append(promoted, h)
	}
	return promoted, nil
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
// Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a guarded sweep: it is skipped when a previous sweep in
// this process is still running or another instance holds the lease.
// ran reports whether a sweep actually happened.
func (s *Sweeper) RunOnce(ctx context.Context) (changed int, ran bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("sweep skipped, previous run still active")
		return 0, false
	}
	defer s.running.Store(false)

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.logger.Warn("acquire sweep lease", zap.Error(err))
			return 0, false
		}
		if !ok {
			s.logger.Debug("sweep skipped, lease held elsewhere")
			return 0, false
		}
		defer release()
	}

	n, err := s.ExpireAndPromote(ctx)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return n, true
	}
	return n, true
}

package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/events"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_WaitlistScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2, 0, 15)

	a := h.mustPlace(t, "alice", 2)
	b := h.mustPlace(t, "bob", 1)
	require.Equal(t, domain.HoldStatusPending, a.Status)
	require.Equal(t, domain.HoldStatusWaiting, b.Status)
	require.Equal(t, int64(1), b.Position)

	h.clock.Advance(15 * time.Minute)
	assert.Equal(t, 2, h.sweep(t))

	assert.Equal(t, domain.HoldStatusExpired, h.reload(t, a).Status)
	b = h.reload(t, b)
	assert.Equal(t, domain.HoldStatusPending, b.Status)
	require.NotNil(t, b.PromotedAt)
	assert.Equal(t, t0.Add(15*time.Minute), *b.PromotedAt)
	assert.Equal(t, t0.Add(30*time.Minute), *b.ExpiresAt)

	res, err := h.checkout.ConfirmHold(context.Background(), "bob", "cart-bob")
	require.NoError(t, err)
	require.Len(t, res.Confirmed, 1)
	assert.Equal(t, domain.HoldStatusConfirmed, h.reload(t, b).Status)
}

func TestSweeper_TTLBoundary(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 5, 0, 5)
	hold := h.mustPlace(t, "alice", 1)

	h.clock.Advance(4*time.Minute + 59*time.Second)
	assert.Zero(t, h.sweep(t))
	assert.Equal(t, domain.HoldStatusPending, h.reload(t, hold).Status)

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.sweep(t))
	assert.Equal(t, domain.HoldStatusExpired, h.reload(t, hold).Status)
	assert.Zero(t, h.held(t, "zone-1"))
}

func TestSweeper_Idempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1, 0, 15)
	h.mustPlace(t, "alice", 1)
	h.mustPlace(t, "bob", 1)
	h.clock.Advance(15 * time.Minute)

	assert.Equal(t, 2, h.sweep(t))
	before := h.store.ZoneHolds("zone-1")
	h.pub.reset()

	assert.Zero(t, h.sweep(t))
	assert.Equal(t, before, h.store.ZoneHolds("zone-1"))
	assert.Empty(t, h.pub.types())
}

func TestSweeper_HeadOfLineBlocking(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3, 0, 15)

	early := h.mustPlace(t, "erin", 1)
	h.clock.Advance(time.Minute)
	late := h.mustPlace(t, "alice", 2)
	big := h.mustPlace(t, "bob", 3)
	small := h.mustPlace(t, "carol", 1)
	require.Equal(t, domain.HoldStatusWaiting, big.Status)
	require.Equal(t, domain.HoldStatusWaiting, small.Status)

	// One seat frees up: bob needs three, so carol must not overtake him.
	h.clock.Set(t0.Add(15 * time.Minute))
	assert.Equal(t, 1, h.sweep(t))
	assert.Equal(t, domain.HoldStatusExpired, h.reload(t, early).Status)
	assert.Equal(t, domain.HoldStatusWaiting, h.reload(t, big).Status)
	assert.Equal(t, domain.HoldStatusWaiting, h.reload(t, small).Status)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 2, h.sweep(t))
	assert.Equal(t, domain.HoldStatusExpired, h.reload(t, late).Status)
	assert.Equal(t, domain.HoldStatusPending, h.reload(t, big).Status)
	assert.Equal(t, domain.HoldStatusWaiting, h.reload(t, small).Status)
}

func TestSweeper_PromotesWhileHeadFits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3, 0, 15)
	h.mustPlace(t, "alice", 3)
	b := h.mustPlace(t, "bob", 1)
	c := h.mustPlace(t, "carol", 2)
	h.pub.reset()

	h.clock.Advance(15 * time.Minute)
	assert.Equal(t, 3, h.sweep(t))

	assert.Equal(t, domain.HoldStatusPending, h.reload(t, b).Status)
	assert.Equal(t, domain.HoldStatusPending, h.reload(t, c).Status)
	assert.Equal(t, 3, h.held(t, "zone-1"))
	assert.Equal(t, []events.Type{events.TypeExpired, events.TypePromoted, events.TypePromoted}, h.pub.types())
}

func TestSweeper_PromotedHoldUsesCurrentTTL(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1, 0, 15)
	h.mustPlace(t, "alice", 1)
	b := h.mustPlace(t, "bob", 1)

	_, err := h.settings.UpdateDefaultTTLMinutes(context.Background(), 3, "admin-1")
	require.NoError(t, err)
	h.clock.Advance(15 * time.Minute)
	h.sweep(t)

	assert.Equal(t, t0.Add(18*time.Minute), *h.reload(t, b).ExpiresAt)
}

// lockFailingStore refuses to lock one zone.
type lockFailingStore struct {
	*memory.Store
	zoneID string
}

func (s lockFailingStore) LockZones(ctx context.Context, zoneIDs []string) (map[string]domain.Zone, error) {
	for _, id := range zoneIDs {
		if id == s.zoneID {
			return nil, domain.ErrContention
		}
	}
	return s.Store.LockZones(ctx, zoneIDs)
}

func TestSweeper_FailedZoneDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1, 0, 15)
	h.addZone(t, "zone-2", 1, 0)
	first := h.mustPlace(t, "alice", 1)
	second, err := h.placeIn(t, "bob", "zone-2", 1)
	require.NoError(t, err)

	sweeper := NewSweeper(lockFailingStore{Store: h.store, zoneID: "zone-1"}, h.settings, h.clock)
	h.clock.Advance(15 * time.Minute)
	n, err := sweeper.ExpireAndPromote(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.HoldStatusPending, h.reload(t, first).Status)
	assert.Equal(t, domain.HoldStatusExpired, h.reload(t, second).Status)
}

type stubLease struct {
	ok       bool
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (l *stubLease) Acquire(context.Context) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if !l.ok {
		return nil, false, nil
	}
	l.acquired.Add(1)
	return func() { l.released.Add(1) }, true, nil
}

func TestSweeper_RunOnce(t *testing.T) {
	t.Parallel()

	t.Run("sweeps while holding the lease", func(t *testing.T) {
		h := newHarness(t, 1, 0, 15)
		h.mustPlace(t, "alice", 1)
		lease := &stubLease{ok: true}
		s := NewSweeper(h.store, h.settings, h.clock, WithSweepLease(lease))
		h.clock.Advance(15 * time.Minute)

		n, ran := s.RunOnce(context.Background())

		assert.True(t, ran)
		assert.Equal(t, 1, n)
		assert.Equal(t, int32(1), lease.acquired.Load())
		assert.Equal(t, int32(1), lease.released.Load())
	})

	t.Run("skips when the lease is held elsewhere", func(t *testing.T) {
		h := newHarness(t, 1, 0, 15)
		hold := h.mustPlace(t, "alice", 1)
		s := NewSweeper(h.store, h.settings, h.clock, WithSweepLease(&stubLease{ok: false}))
		h.clock.Advance(15 * time.Minute)

		_, ran := s.RunOnce(context.Background())

		assert.False(t, ran)
		assert.Equal(t, domain.HoldStatusPending, h.reload(t, hold).Status)
	})

	t.Run("skips when the lease cannot be checked", func(t *testing.T) {
		h := newHarness(t, 1, 0, 15)
		s := NewSweeper(h.store, h.settings, h.clock, WithSweepLease(&stubLease{err: errors.New("redis down")}))

		_, ran := s.RunOnce(context.Background())
		assert.False(t, ran)
	})

	t.Run("skips while a previous run is active", func(t *testing.T) {
		h := newHarness(t, 1, 0, 15)
		s := NewSweeper(h.store, h.settings, h.clock)
		s.running.Store(true)

		_, ran := s.RunOnce(context.Background())
		assert.False(t, ran)

		s.running.Store(false)
		_, ran = s.RunOnce(context.Background())
		assert.True(t, ran)
	})
}

func TestSweeper_StartStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1, 0, 15)
	hold := h.mustPlace(t, "alice", 1)
	h.clock.Advance(15 * time.Minute)

	s := NewSweeper(h.store, h.settings, h.clock, WithSweepInterval(5*time.Millisecond))
	s.Start(context.Background())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return h.reload(t, hold).Status == domain.HoldStatusExpired
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}

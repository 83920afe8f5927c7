package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/app"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/storage/memory"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/testutil"
	"github.com/google/uuid"
)

func TestHoldRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	repo := NewHoldRepository(pool, WithLockTimeout(100*time.Millisecond))
	now := time.Now().UTC().Truncate(time.Microsecond)

	pending := func(eventID, zoneID, item string, qty int, expiresAt time.Time) domain.Hold {
		return domain.Hold{
			ID:         uuid.NewString(),
			UserID:     "user-1",
			CartID:     "cart-1",
			CartItemID: item,
			EventID:    eventID,
			ZoneID:     zoneID,
			Quantity:   qty,
			Status:     domain.HoldStatusPending,
			ExpiresAt:  &expiresAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	t.Run("LockZones returns zones and ErrZoneNotFound", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID, zoneID := testutil.InsertEventAndZone(t, ctx, pool, "Concert", 100, 10)

		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			zones, err := repo.LockZones(txCtx, []string{zoneID, zoneID})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			z := zones[zoneID]
			if z.EventID != eventID || z.Quota != 100 || z.Sold != 10 {
				t.Fatalf("unexpected zone: %+v", z)
			}

			_, err = repo.LockZones(txCtx, []string{zoneID, "00000000-0000-0000-0000-000000000001"})
			if err != domain.ErrZoneNotFound {
				t.Fatalf("expected ErrZoneNotFound, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("tx failed: %v", err)
		}

		if _, err := repo.LockZones(ctx, []string{zoneID}); err != errNoTx {
			t.Fatalf("expected errNoTx, got %v", err)
		}
	})

	t.Run("LockZones times out with ErrContention", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		_, zoneID := testutil.InsertEventAndZone(t, ctx, pool, "Concert", 10, 0)

		locked := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- repo.WithTx(ctx, func(txCtx context.Context) error {
				if _, err := repo.LockZones(txCtx, []string{zoneID}); err != nil {
					return err
				}
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			_, err := repo.LockZones(txCtx, []string{zoneID})
			return err
		})
		close(release)
		if !errors.Is(err, domain.ErrContention) {
			t.Fatalf("expected ErrContention, got %v", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("holder tx failed: %v", err)
		}
	})

	t.Run("SumHeld counts pending and confirmed only", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID, zoneID := testutil.InsertEventAndZone(t, ctx, pool, "Concert", 50, 0)

		exp := now.Add(10 * time.Minute)
		testutil.InsertHold(t, ctx, pool, domain.Hold{UserID: "u1", CartID: "c1", CartItemID: "i1", EventID: eventID, ZoneID: zoneID, Quantity: 3, Status: domain.HoldStatusPending, ExpiresAt: &exp})
		testutil.InsertHold(t, ctx, pool, domain.Hold{UserID: "u2", CartID: "c2", CartItemID: "i2", EventID: eventID, ZoneID: zoneID, Quantity: 4, Status: domain.HoldStatusConfirmed})
		testutil.InsertHold(t, ctx, pool, domain.Hold{UserID: "u3", CartID: "c3", CartItemID: "i3", EventID: eventID, ZoneID: zoneID, Quantity: 5, Status: domain.HoldStatusExpired})
		testutil.InsertHold(t, ctx, pool, domain.Hold{UserID: "u4", CartID: "c4", CartItemID: "i4", EventID: eventID, ZoneID: zoneID, Quantity: 6, Status: domain.HoldStatusWaiting, Position: 1})

		total, err := repo.SumHeld(ctx, zoneID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if total != 7 {
			t.Fatalf("expected 7, got %d", total)
		}
	})

	t.Run("NextPosition increments per zone", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		_, zoneID := testutil.InsertEventAndZone(t, ctx, pool, "Concert", 5, 0)

		var got []int64
		for i := 0; i < 2; i++ {
			err := repo.WithTx(ctx, func(txCtx context.Context) error {
				pos, err := repo.NextPosition(txCtx, zoneID)
				got = append(got, pos)
				return err
			})
			if err != nil {
				t.Fatalf("tx failed: %v", err)
			}
		}
		if got[0] != 1 || got[1] != 2 {
			t.Fatalf("expected [1 2], got %v", got)
		}
	})

	t.Run("CreateHold enforces one active hold per cart line", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID, zoneID := testutil.InsertEventAndZone(t, ctx, pool, "Concert", 5, 0)

		first := pending(eventID, zoneID, "item-1", 1, now.Add(time.Minute))
		if err := repo.CreateHold(ctx, first); err != nil {
			t.Fatalf("create hold: %v", err)
		}
		if err := repo.CreateHold(ctx, pending(eventID, zoneID, "item-1", 1, now.Add(time.Minute))); err != domain.ErrContention {
			t.Fatalf("expected ErrContention, got %v", err)
		}

		found, err := repo.FindActiveByCartItem(ctx, "user-1", "item-1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if found == nil || found.ID != first.ID || !found.ExpiresAt.Equal(*first.ExpiresAt) {
			t.Fatalf("unexpected hold: %+v", found)
		}

		missing, err := repo.FindActiveByCartItem(ctx, "user-1", "item-2")
		if err != nil || missing != nil {
			t.Fatalf("expected nil, got %+v (%v)", missing, err)
		}
	})

	t.Run("UpdateHold applies legal transitions only", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID, zoneID := testutil.InsertEventAndZone(t, ctx, pool, "Concert", 5, 0)

		h := pending(eventID, zoneID, "item-1", 2, now.Add(time.Minute))
		if err := repo.CreateHold(ctx, h); err != nil {
			t.Fatalf("create hold: %v", err)
		}
		if err := h.Transition(domain.HoldStatusConfirmed, now, time.Time{}); err != nil {
			t.Fatalf("transition: %v", err)
		}
		if err := repo.UpdateHold(ctx, h); err != nil {
			t.Fatalf("update hold: %v", err)
		}

		h.Status = domain.HoldStatusExpired
		if err := repo.UpdateHold(ctx, h); err != domain.ErrInvalidTransition {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}

		h.ID = uuid.NewString()
		if err := repo.UpdateHold(ctx, h); err != domain.ErrHoldNotFound {
			t.Fatalf("expected ErrHoldNotFound, got %v", err)
		}
	})

	t.Run("lists waiting and expired holds", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID, zoneID := testutil.InsertEventAndZone(t, ctx, pool, "Concert", 5, 0)

		for i, pos := range []int64{2, 1} {
			testutil.InsertHold(t, ctx, pool, domain.Hold{
				UserID: "u", CartID: "c", CartItemID: []string{"a", "b"}[i],
				EventID: eventID, ZoneID: zoneID, Quantity: 1,
				Status: domain.HoldStatusWaiting, Position: pos,
			})
		}
		if err := repo.CreateHold(ctx, pending(eventID, zoneID, "item-1", 1, now)); err != nil {
			t.Fatalf("create hold: %v", err)
		}
		if err := repo.CreateHold(ctx, pending(eventID, zoneID, "item-2", 1, now.Add(time.Second))); err != nil {
			t.Fatalf("create hold: %v", err)
		}

		waiting, err := repo.ListWaiting(ctx, zoneID)
		if err != nil {
			t.Fatalf("list waiting: %v", err)
		}
		if len(waiting) != 2 || waiting[0].Position != 1 || waiting[1].Position != 2 {
			t.Fatalf("unexpected waiting order: %+v", waiting)
		}

		expired, err := repo.ListExpiredPending(ctx, zoneID, now)
		if err != nil {
			t.Fatalf("list expired: %v", err)
		}
		if len(expired) != 1 || expired[0].CartItemID != "item-1" {
			t.Fatalf("unexpected expired holds: %+v", expired)
		}

		zones, err := repo.ZonesWithExpiredPending(ctx, now)
		if err != nil || len(zones) != 1 || zones[0] != zoneID {
			t.Fatalf("unexpected zones with expired holds: %v (%v)", zones, err)
		}
		zones, err = repo.ZonesWithWaiting(ctx)
		if err != nil || len(zones) != 1 || zones[0] != zoneID {
			t.Fatalf("unexpected zones with waiting holds: %v (%v)", zones, err)
		}

		cart, err := repo.ListHoldsByCart(ctx, "user-1", "cart-1")
		if err != nil {
			t.Fatalf("list cart: %v", err)
		}
		if len(cart) != 2 || cart[0].CartItemID != "item-1" {
			t.Fatalf("unexpected cart holds: %+v", cart)
		}
	})
}

func TestHoldRepository_WaitlistScenario(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	eventID, zoneID := testutil.InsertEventAndZone(t, ctx, pool, "Concert", 2, 0)
	repo := NewHoldRepository(pool)
	carts := memory.NewCartStore()
	clk := clock.NewManual(time.Now().UTC().Truncate(time.Second))
	settings := app.NewSettingsService(NewSettingsRepository(pool), clk, 15, nil)
	holds := app.NewHoldService(repo, carts, settings, clk)
	sweeper := app.NewSweeper(repo, settings, clk)
	checkout := app.NewCheckoutService(repo, settings, clk)

	for _, c := range []struct {
		user string
		qty  int
	}{{"alice", 2}, {"bob", 1}} {
		if err := carts.SaveCart(ctx, domain.Cart{
			ID:     "cart-" + c.user,
			UserID: c.user,
			Lines:  []domain.CartLine{{CartItemID: "item-" + c.user, EventID: eventID, ZoneID: zoneID, Quantity: c.qty}},
		}); err != nil {
			t.Fatalf("save cart: %v", err)
		}
	}

	a, err := holds.PlaceHold(ctx, "alice", "cart-alice")
	if err != nil || a[0].Status != domain.HoldStatusPending {
		t.Fatalf("place alice: %+v (%v)", a, err)
	}
	b, err := holds.PlaceHold(ctx, "bob", "cart-bob")
	if err != nil || b[0].Status != domain.HoldStatusWaiting || b[0].Position != 1 {
		t.Fatalf("place bob: %+v (%v)", b, err)
	}

	clk.Advance(15 * time.Minute)
	n, err := sweeper.ExpireAndPromote(ctx)
	if err != nil || n != 2 {
		t.Fatalf("sweep: changed %d (%v)", n, err)
	}

	res, err := checkout.ConfirmHold(ctx, "bob", "cart-bob")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(res.Confirmed) != 1 || res.Confirmed[0].ID != b[0].ID {
		t.Fatalf("unexpected confirm result: %+v", res)
	}
}

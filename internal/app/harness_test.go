package app

import (
	"context"
	"sync"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/events"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

// harness wires the services over the in-memory store with one event and
// one zone ("zone-1").
type harness struct {
	store        *memory.Store
	carts        *memory.CartStore
	settingsRepo *memory.SettingsStore
	settings     *SettingsService
	clock        *clock.Manual
	pub          *recordingPublisher
	holds        *HoldService
	checkout     *CheckoutService
	sweeper      *Sweeper
}

func newHarness(t require.TestingT, quota, sold, ttlMinutes int) *harness {
	h := &harness{
		store:        memory.NewStore(),
		carts:        memory.NewCartStore(),
		settingsRepo: memory.NewSettingsStore(ttlMinutes),
		clock:        clock.NewManual(t0),
		pub:          &recordingPublisher{},
	}
	h.settings = NewSettingsService(h.settingsRepo, h.clock, ttlMinutes, nil)
	h.holds = NewHoldService(h.store, h.carts, h.settings, h.clock, WithHoldPublisher(h.pub))
	h.checkout = NewCheckoutService(h.store, h.settings, h.clock, WithCheckoutPublisher(h.pub))
	h.sweeper = NewSweeper(h.store, h.settings, h.clock, WithSweepPublisher(h.pub))

	require.NoError(t, h.store.CreateEvent(context.Background(), domain.Event{ID: "event-1", Name: "Concert", StartsAt: t0}))
	h.addZone(t, "zone-1", quota, sold)
	return h
}

func (h *harness) addZone(t require.TestingT, id string, quota, sold int) {
	require.NoError(t, h.store.CreateZone(context.Background(), domain.Zone{
		ID:      id,
		EventID: "event-1",
		Name:    "Zone " + id,
		Quota:   quota,
		Sold:    sold,
	}))
}

// place saves a one-line cart for user in zone-1 and places it.
func (h *harness) place(t require.TestingT, user string, qty int) (domain.Hold, error) {
	return h.placeIn(t, user, "zone-1", qty)
}

func (h *harness) placeIn(t require.TestingT, user, zoneID string, qty int) (domain.Hold, error) {
	require.NoError(t, h.carts.SaveCart(context.Background(), domain.Cart{
		ID:     "cart-" + user,
		UserID: user,
		Lines: []domain.CartLine{
			{CartItemID: "item-" + user, EventID: "event-1", ZoneID: zoneID, Quantity: qty},
		},
	}))
	holds, err := h.holds.PlaceHold(context.Background(), user, "cart-"+user)
	if err != nil {
		return domain.Hold{}, err
	}
	require.Len(t, holds, 1)
	return holds[0], nil
}

func (h *harness) mustPlace(t require.TestingT, user string, qty int) domain.Hold {
	hold, err := h.place(t, user, qty)
	require.NoError(t, err)
	return hold
}

// reload returns the stored version of hold.
func (h *harness) reload(t require.TestingT, hold domain.Hold) domain.Hold {
	for _, stored := range h.store.ZoneHolds(hold.ZoneID) {
		if stored.ID == hold.ID {
			return stored
		}
	}
	require.FailNow(t, "hold not found", hold.ID)
	return domain.Hold{}
}

func (h *harness) held(t require.TestingT, zoneID string) int {
	n, err := h.store.SumHeld(context.Background(), zoneID)
	require.NoError(t, err)
	return n
}

func (h *harness) sweep(t require.TestingT) int {
	n, err := h.sweeper.ExpireAndPromote(context.Background())
	require.NoError(t, err)
	return n
}

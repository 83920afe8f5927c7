package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/google/btree"
)

const defaultLockTimeout = 2 * time.Second

var errNoTx = errors.New("memory: zone locks require a transaction")

// Store keeps holds in process memory. Each zone has its own lock; a
// transaction that locks a zone is the only writer of that zone until it
// finishes, and its writes are undone if it fails.
type Store struct {
	lockTimeout time.Duration

	mu         sync.RWMutex
	events     map[string]domain.Event
	eventOrder []string
	zones      map[string]*zoneState
	holds      map[string]domain.Hold
	byCart     map[cartKey][]string
	active     map[itemKey]string
}

type zoneState struct {
	sem     chan struct{}
	zone    domain.Zone
	held    int
	pending map[string]struct{}
	waiting *btree.BTreeG[waitEntry]
}

type waitEntry struct {
	position int64
	holdID   string
}

func waitLess(a, b waitEntry) bool {
	if a.position != b.position {
		return a.position < b.position
	}
	return a.holdID < b.holdID
}

type cartKey struct{ userID, cartID string }

type itemKey struct{ userID, cartItemID string }

type Option func(*Store)

// WithLockTimeout bounds how long LockZones waits for a busy zone.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		lockTimeout: defaultLockTimeout,
		events:      make(map[string]domain.Event),
		zones:       make(map[string]*zoneState),
		holds:       make(map[string]domain.Hold),
		byCart:      make(map[cartKey][]string),
		active:      make(map[itemKey]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txKey struct{}

type tx struct {
	locked map[string]*zoneState
	order  []*zoneState
	undo   []func()
}

func txFromContext(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	t := &tx{locked: make(map[string]*zoneState)}
	committed := false
	defer func() {
		if !committed {
			s.mu.Lock()
			for i := len(t.undo) - 1; i >= 0; i-- {
				t.undo[i]()
			}
			s.mu.Unlock()
		}
		for _, zs := range t.order {
			<-zs.sem
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	committed = true
	return nil
}

// record registers an undo step; it runs with s.mu held.
func record(ctx context.Context, undo func()) {
	if t := txFromContext(ctx); t != nil {
		t.undo = append(t.undo, undo)
	}
}

func (s *Store) LockZones(ctx context.Context, zoneIDs []string) (map[string]domain.Zone, error) {
	t := txFromContext(ctx)
	if t == nil {
		return nil, errNoTx
	}

	ids := append([]string(nil), zoneIDs...)
	sort.Strings(ids)

	out := make(map[string]domain.Zone, len(ids))
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		s.mu.RLock()
		zs := s.zones[id]
		s.mu.RUnlock()
		if zs == nil {
			return nil, domain.ErrZoneNotFound
		}
		if _, ok := t.locked[id]; !ok {
			if err := s.acquire(ctx, zs); err != nil {
				return nil, err
			}
			t.locked[id] = zs
			t.order = append(t.order, zs)
		}
		s.mu.RLock()
		out[id] = zs.zone
		s.mu.RUnlock()
	}
	return out, nil
}

func (s *Store) acquire(ctx context.Context, zs *zoneState) error {
	select {
	case zs.sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case zs.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.ErrContention
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) GetZone(_ context.Context, zoneID string) (domain.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	zs := s.zones[zoneID]
	if zs == nil {
		return domain.Zone{}, domain.ErrZoneNotFound
	}
	return zs.zone, nil
}

func (s *Store) SumHeld(_ context.Context, zoneID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	zs := s.zones[zoneID]
	if zs == nil {
		return 0, domain.ErrZoneNotFound
	}
	return zs.held, nil
}

func (s *Store) NextPosition(ctx context.Context, zoneID string) (int64, error) {
	t := txFromContext(ctx)
	if t == nil {
		return 0, errNoTx
	}
	zs, ok := t.locked[zoneID]
	if !ok {
		return 0, fmt.Errorf("memory: zone %s not locked", zoneID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	zs.zone.NextPosition++
	pos := zs.zone.NextPosition
	record(ctx, func() { zs.zone.NextPosition-- })
	return pos, nil
}

func (s *Store) CreateHold(ctx context.Context, hold domain.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.holds[hold.ID]; exists {
		return fmt.Errorf("memory: hold %s already exists", hold.ID)
	}
	if s.zones[hold.ZoneID] == nil {
		return domain.ErrZoneNotFound
	}
	if hold.Status.Active() {
		if id, ok := s.active[itemKey{hold.UserID, hold.CartItemID}]; ok && id != hold.ID {
			return domain.ErrContention
		}
	}

	h := cloneHold(hold)
	s.put(nil, &h)
	key := cartKey{h.UserID, h.CartID}
	s.byCart[key] = append(s.byCart[key], h.ID)

	record(ctx, func() {
		s.put(&h, nil)
		ids := s.byCart[key]
		for i := len(ids) - 1; i >= 0; i-- {
			if ids[i] == h.ID {
				s.byCart[key] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (s *Store) UpdateHold(ctx context.Context, hold domain.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.holds[hold.ID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	if old.Status.Terminal() || (old.Status != hold.Status && !domain.CanTransition(old.Status, hold.Status)) {
		return domain.ErrInvalidTransition
	}

	next := cloneHold(hold)
	s.put(&old, &next)
	record(ctx, func() { s.put(&next, &old) })
	return nil
}

func (s *Store) FindActiveByCartItem(_ context.Context, userID, cartItemID string) (*domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[itemKey{userID, cartItemID}]
	if !ok {
		return nil, nil
	}
	h := cloneHold(s.holds[id])
	return &h, nil
}

func (s *Store) ListHoldsByCart(_ context.Context, userID, cartID string) ([]domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCart[cartKey{userID, cartID}]
	out := make([]domain.Hold, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneHold(s.holds[id]))
	}
	return out, nil
}

func (s *Store) ListWaiting(_ context.Context, zoneID string) ([]domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	zs := s.zones[zoneID]
	if zs == nil {
		return nil, domain.ErrZoneNotFound
	}
	out := make([]domain.Hold, 0, zs.waiting.Len())
	zs.waiting.Ascend(func(e waitEntry) bool {
		out = append(out, cloneHold(s.holds[e.holdID]))
		return true
	})
	return out, nil
}

func (s *Store) ListExpiredPending(_ context.Context, zoneID string, now time.Time) ([]domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	zs := s.zones[zoneID]
	if zs == nil {
		return nil, domain.ErrZoneNotFound
	}
	var out []domain.Hold
	for id := range zs.pending {
		if h := s.holds[id]; h.ExpiredAt(now) {
			out = append(out, cloneHold(h))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(*out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ZonesWithExpiredPending(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, zs := range s.zones {
		for holdID := range zs.pending {
			if s.holds[holdID].ExpiredAt(now) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ZonesWithWaiting(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, zs := range s.zones {
		if zs.waiting.Len() > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ZoneHolds returns every hold ever placed in the zone, terminal ones
// included, ordered by creation time.
func (s *Store) ZoneHolds(zoneID string) []domain.Hold {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Hold
	for _, h := range s.holds {
		if h.ZoneID == zoneID {
			out = append(out, cloneHold(h))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// put swaps the stored version of a hold and keeps the zone indexes in
// step. A nil old inserts; a nil next removes. Caller holds s.mu.
func (s *Store) put(old, next *domain.Hold) {
	if old != nil {
		s.unindex(*old)
		if next == nil {
			delete(s.holds, old.ID)
		}
	}
	if next != nil {
		s.holds[next.ID] = *next
		s.index(*next)
	}
}

func (s *Store) index(h domain.Hold) {
	if zs := s.zones[h.ZoneID]; zs != nil {
		if h.Status.Held() {
			zs.held += h.Quantity
		}
		switch h.Status {
		case domain.HoldStatusPending:
			zs.pending[h.ID] = struct{}{}
		case domain.HoldStatusWaiting:
			zs.waiting.ReplaceOrInsert(waitEntry{position: h.Position, holdID: h.ID})
		}
	}
	if h.Status.Active() {
		s.active[itemKey{h.UserID, h.CartItemID}] = h.ID
	}
}

func (s *Store) unindex(h domain.Hold) {
	if zs := s.zones[h.ZoneID]; zs != nil {
		if h.Status.Held() {
			zs.held -= h.Quantity
		}
		switch h.Status {
		case domain.HoldStatusPending:
			delete(zs.pending, h.ID)
		case domain.HoldStatusWaiting:
			zs.waiting.Delete(waitEntry{position: h.Position, holdID: h.ID})
		}
	}
	key := itemKey{h.UserID, h.CartItemID}
	if h.Status.Active() && s.active[key] == h.ID {
		delete(s.active, key)
	}
}

func cloneHold(h domain.Hold) domain.Hold {
	if h.ExpiresAt != nil {
		t := *h.ExpiresAt
		h.ExpiresAt = &t
	}
	if h.PromotedAt != nil {
		t := *h.PromotedAt
		h.PromotedAt = &t
	}
	return h
}

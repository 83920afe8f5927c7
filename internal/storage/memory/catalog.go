package memory

import (
	"context"
	"sort"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/google/btree"
)

func (s *Store) CreateEvent(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; !exists {
		s.eventOrder = append(s.eventOrder, event.ID)
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) ListEvents(_ context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, 0, len(s.eventOrder))
	for _, id := range s.eventOrder {
		out = append(out, s.events[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) CreateZone(_ context.Context, zone domain.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[zone.EventID]; !ok {
		return domain.ErrEventNotFound
	}
	if _, exists := s.zones[zone.ID]; exists {
		return domain.ErrZoneAlreadyExists
	}
	for _, zs := range s.zones {
		if zs.zone.EventID == zone.EventID && zs.zone.Name == zone.Name {
			return domain.ErrZoneAlreadyExists
		}
	}
	s.zones[zone.ID] = &zoneState{
		sem:     make(chan struct{}, 1),
		zone:    zone,
		pending: make(map[string]struct{}),
		waiting: btree.NewG(16, waitLess),
	}
	return nil
}

func (s *Store) ListZonesByEvent(_ context.Context, eventID string) ([]domain.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, domain.ErrEventNotFound
	}
	var out []domain.Zone
	for _, zs := range s.zones {
		if zs.zone.EventID == eventID {
			out = append(out, zs.zone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

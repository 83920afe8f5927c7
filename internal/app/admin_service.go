package app

import (
	"context"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AdminRepository seeds the catalog data the hold engine reads: events and
// their zones with quota and seats already sold.
type AdminRepository interface {
	CreateEvent(ctx context.Context, event domain.Event) error
	ListEvents(ctx context.Context) ([]domain.Event, error)
	CreateZone(ctx context.Context, zone domain.Zone) error
	ListZonesByEvent(ctx context.Context, eventID string) ([]domain.Zone, error)
}

// AdminService manages the catalog. Zones are created once per event;
// quota and sold counts are never touched by hold traffic.
type AdminService struct {
	catalog AdminRepository
	clock   clock.Clock
	logger  *zap.Logger
}

type AdminServiceOption func(*AdminService)

func WithAdminLogger(l *zap.Logger) AdminServiceOption {
	return func(s *AdminService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewAdminService(catalog AdminRepository, clk clock.Clock, opts ...AdminServiceOption) *AdminService {
	s := &AdminService{catalog: catalog, clock: clk, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateEventInput struct {
	Name string
	// StartsAt defaults to now.
	StartsAt *time.Time
}

func (s *AdminService) CreateEvent(ctx context.Context, in CreateEventInput) (domain.Event, error) {
	ctx, span := tracer.Start(ctx, "AdminService.CreateEvent")
	defer span.End()

	event := domain.Event{ID: newUUID(), Name: in.Name, StartsAt: s.clock.Now()}
	if in.StartsAt != nil {
		event.StartsAt = *in.StartsAt
	}
	if err := event.Validate(); err != nil {
		return domain.Event{}, err
	}
	if err := s.catalog.CreateEvent(ctx, event); err != nil {
		span.RecordError(err)
		return domain.Event{}, err
	}

	s.logger.Info("event created", zap.String("event_id", event.ID), zap.Time("starts_at", event.StartsAt))
	return event, nil
}

func (s *AdminService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.catalog.ListEvents(ctx)
}

type CreateZoneInput struct {
	EventID string
	Name    string
	Quota   int
	// Sold counts seats sold outside this service before holds open.
	Sold int
}

func (s *AdminService) CreateZone(ctx context.Context, in CreateZoneInput) (domain.Zone, error) {
	ctx, span := tracer.Start(ctx, "AdminService.CreateZone")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", in.EventID))

	zone := domain.Zone{
		ID:      newUUID(),
		EventID: in.EventID,
		Name:    in.Name,
		Quota:   in.Quota,
		Sold:    in.Sold,
	}
	if err := zone.Validate(); err != nil {
		return domain.Zone{}, err
	}
	if err := s.catalog.CreateZone(ctx, zone); err != nil {
		span.RecordError(err)
		return domain.Zone{}, err
	}

	s.logger.Info("zone created",
		zap.String("zone_id", zone.ID),
		zap.String("event_id", zone.EventID),
		zap.Int("quota", zone.Quota),
		zap.Int("sold", zone.Sold),
	)
	return zone, nil
}

// ListZones returns the event's zones, or domain.ErrEventNotFound for an
// unknown event.
func (s *AdminService) ListZones(ctx context.Context, eventID string) ([]domain.Zone, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.catalog.ListZonesByEvent(ctx, eventID)
}

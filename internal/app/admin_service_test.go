package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeAdminRepo struct {
	createdEvent domain.Event
	createdZone  domain.Zone

	createEventErr error
	createZoneErr  error
}

func (f *fakeAdminRepo) CreateEvent(_ context.Context, event domain.Event) error {
	f.createdEvent = event
	return f.createEventErr
}

func (f *fakeAdminRepo) ListEvents(context.Context) ([]domain.Event, error) {
	return nil, nil
}

func (f *fakeAdminRepo) CreateZone(_ context.Context, zone domain.Zone) error {
	f.createdZone = zone
	return f.createZoneErr
}

func (f *fakeAdminRepo) ListZonesByEvent(context.Context, string) ([]domain.Zone, error) {
	return nil, nil
}

func TestAdminService_CreateEvent(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)

	t.Run("defaults starts_at to now", func(t *testing.T) {
		t.Parallel()
		repo := &fakeAdminRepo{}
		svc := NewAdminService(repo, clock.NewFixed(now))

		got, err := svc.CreateEvent(context.Background(), CreateEventInput{Name: "Concert"})

		require.NoError(t, err)
		assert.Equal(t, "Concert", got.Name)
		assert.Equal(t, now, got.StartsAt)
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, got, repo.createdEvent)
	})

	t.Run("keeps an explicit starts_at", func(t *testing.T) {
		t.Parallel()
		startsAt := now.Add(48 * time.Hour)
		svc := NewAdminService(&fakeAdminRepo{}, clock.NewFixed(now))

		got, err := svc.CreateEvent(context.Background(), CreateEventInput{Name: "Concert", StartsAt: &startsAt})

		require.NoError(t, err)
		assert.Equal(t, startsAt, got.StartsAt)
	})

	t.Run("requires a name", func(t *testing.T) {
		t.Parallel()
		repo := &fakeAdminRepo{}
		svc := NewAdminService(repo, clock.NewFixed(now))

		_, err := svc.CreateEvent(context.Background(), CreateEventInput{})

		assert.ErrorIs(t, err, domain.ErrEventNameRequired)
		assert.Empty(t, repo.createdEvent.ID, "nothing stored")
	})
}

func TestAdminService_CreateZone(t *testing.T) {
	t.Parallel()
	errDown := errors.New("db down")

	tests := []struct {
		name    string
		in      CreateZoneInput
		repoErr error
		want    error
	}{
		{name: "missing event", in: CreateZoneInput{Name: "Zone A", Quota: 10}, want: domain.ErrInvalidID},
		{name: "missing name", in: CreateZoneInput{EventID: "event", Quota: 10}, want: domain.ErrZoneNameRequired},
		{name: "zero quota", in: CreateZoneInput{EventID: "event", Name: "Zone A"}, want: domain.ErrInvalidCapacity},
		{name: "sold over quota", in: CreateZoneInput{EventID: "event", Name: "Zone A", Quota: 10, Sold: 11}, want: domain.ErrInvalidCapacity},
		{name: "unknown event", in: CreateZoneInput{EventID: "event", Name: "Zone A", Quota: 10}, repoErr: domain.ErrEventNotFound, want: domain.ErrEventNotFound},
		{name: "store failure", in: CreateZoneInput{EventID: "event", Name: "Zone A", Quota: 10}, repoErr: errDown, want: errDown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := NewAdminService(&fakeAdminRepo{createZoneErr: tt.repoErr}, clock.NewFixed(time.Now()))

			_, err := svc.CreateZone(context.Background(), tt.in)

			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAdminService_CreateZone_PersistsQuotaAndSold(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	repo := &fakeAdminRepo{}
	svc := NewAdminService(repo, clock.NewFixed(time.Now()), WithAdminLogger(zap.New(core)))

	zone, err := svc.CreateZone(context.Background(), CreateZoneInput{EventID: "event", Name: "Floor", Quota: 200, Sold: 40})

	require.NoError(t, err)
	assert.NotEmpty(t, zone.ID)
	assert.Equal(t, zone, repo.createdZone)
	assert.Equal(t, 200, repo.createdZone.Quota)
	assert.Equal(t, 40, repo.createdZone.Sold)

	entries := logs.FilterMessage("zone created").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zone.ID, entries[0].ContextMap()["zone_id"])
}

func TestAdminService_ListZones_RequiresEvent(t *testing.T) {
	t.Parallel()
	svc := NewAdminService(&fakeAdminRepo{}, clock.NewFixed(time.Now()))

	_, err := svc.ListZones(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

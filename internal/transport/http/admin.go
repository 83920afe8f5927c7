package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/app"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/go-chi/chi/v5"
)

// AdminEventService is the minimal interface needed for admin event endpoints.
type AdminEventService interface {
	CreateEvent(ctx context.Context, in app.CreateEventInput) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
}

// AdminZoneService is the minimal interface needed for admin zone endpoints.
type AdminZoneService interface {
	CreateZone(ctx context.Context, in app.CreateZoneInput) (domain.Zone, error)
	ListZones(ctx context.Context, eventID string) ([]domain.Zone, error)
}

func HandleListEvents(svc AdminEventService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.ListEvents(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := make([]eventResponse, 0, len(events))
		for _, event := range events {
			resp = append(resp, toEventResponse(event))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func HandleCreateEvent(svc AdminEventService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createEventRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, codeEventNameRequired, domain.ErrEventNameRequired.Error())
			return
		}

		var startsAt *time.Time
		if req.StartsAt != "" {
			parsed, err := time.Parse(time.RFC3339, req.StartsAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidStartsAt, "invalid starts_at format")
				return
			}
			startsAt = &parsed
		}

		event, err := svc.CreateEvent(r.Context(), app.CreateEventInput{
			Name:     req.Name,
			StartsAt: startsAt,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toEventResponse(event))
	}
}

func HandleListZones(svc AdminZoneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zones, err := svc.ListZones(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := make([]zoneResponse, 0, len(zones))
		for _, zone := range zones {
			resp = append(resp, toZoneResponse(zone))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func HandleCreateZone(svc AdminZoneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createZoneRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, codeZoneNameRequired, domain.ErrZoneNameRequired.Error())
			return
		}
		if req.Quota <= 0 || req.SeatsSold < 0 || req.SeatsSold > req.Quota {
			writeError(w, http.StatusBadRequest, codeInvalidCapacity, domain.ErrInvalidCapacity.Error())
			return
		}

		zone, err := svc.CreateZone(r.Context(), app.CreateZoneInput{
			EventID: chi.URLParam(r, "eventID"),
			Name:    req.Name,
			Quota:   req.Quota,
			Sold:    req.SeatsSold,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toZoneResponse(zone))
	}
}

type createEventRequest struct {
	Name     string `json:"name"`
	StartsAt string `json:"starts_at,omitempty"`
}

type eventResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
}

func toEventResponse(e domain.Event) eventResponse {
	return eventResponse{ID: e.ID, Name: e.Name, StartsAt: e.StartsAt}
}

type createZoneRequest struct {
	Name      string `json:"name"`
	Quota     int    `json:"quota"`
	SeatsSold int    `json:"seats_sold"`
}

type zoneResponse struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Name      string `json:"name"`
	Quota     int    `json:"quota"`
	SeatsSold int    `json:"seats_sold"`
}

func toZoneResponse(z domain.Zone) zoneResponse {
	return zoneResponse{ID: z.ID, EventID: z.EventID, Name: z.Name, Quota: z.Quota, SeatsSold: z.Sold}
}

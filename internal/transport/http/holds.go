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

// userHeader carries the authenticated buyer. Authentication itself happens
// upstream of this service.
const userHeader = "X-User-ID"

// CartSaver stores the cart lines a hold request is placed from.
type CartSaver interface {
	SaveCart(ctx context.Context, cart domain.Cart) error
}

// HoldPlacer is the minimal interface needed to place holds for a cart.
type HoldPlacer interface {
	PlaceHold(ctx context.Context, userID, cartID string) ([]domain.Hold, error)
}

// HoldLister reads a cart's holds for display.
type HoldLister interface {
	ListHolds(ctx context.Context, userID, cartID string) ([]app.HoldView, error)
	HasActiveHold(ctx context.Context, userID, cartID string) (bool, error)
}

// HoldConfirmer confirms the PENDING holds of a cart after payment.
type HoldConfirmer interface {
	ConfirmHold(ctx context.Context, userID, cartID string) (app.ConfirmResult, error)
}

// HoldReleaser gives up every active hold of a cart.
type HoldReleaser interface {
	ReleaseHold(ctx context.Context, userID, cartID string) (app.ReleaseResult, error)
}

// AvailabilityReader reports a zone capacity snapshot.
type AvailabilityReader interface {
	Availability(ctx context.Context, zoneID string) (app.ZoneAvailability, error)
}

// HandleSaveCart returns an HTTP handler that replaces the lines of the
// caller's cart.
func HandleSaveCart(svc CartSaver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req saveCartRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		cart := domain.Cart{ID: chi.URLParam(r, "cartID"), UserID: userID}
		for _, line := range req.Lines {
			if line.CartItemID == "" || line.ZoneID == "" {
				writeError(w, http.StatusBadRequest, codeMissingRequiredField, "cart_item_id and zone_id are required")
				return
			}
			if line.Quantity <= 0 {
				writeError(w, http.StatusBadRequest, codeInvalidQuantity, domain.ErrInvalidQuantity.Error())
				return
			}
			cart.Lines = append(cart.Lines, domain.CartLine{
				CartItemID: line.CartItemID,
				EventID:    line.EventID,
				ZoneID:     line.ZoneID,
				Quantity:   line.Quantity,
			})
		}

		if err := svc.SaveCart(r.Context(), cart); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandlePlaceHold returns an HTTP handler that places holds for every line
// of the caller's cart.
func HandlePlaceHold(svc HoldPlacer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		holds, err := svc.PlaceHold(r.Context(), userID, chi.URLParam(r, "cartID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := placeHoldResponse{Holds: make([]holdResponse, 0, len(holds))}
		for _, h := range holds {
			resp.Holds = append(resp.Holds, toHoldResponse(h))
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// HandleListHolds returns an HTTP handler listing the caller's cart holds.
func HandleListHolds(svc HoldLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		cartID := chi.URLParam(r, "cartID")

		views, err := svc.ListHolds(r.Context(), userID, cartID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		active, err := svc.HasActiveHold(r.Context(), userID, cartID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := listHoldsResponse{Active: active, Holds: make([]holdResponse, 0, len(views))}
		for _, v := range views {
			hr := toHoldResponse(v.Hold)
			switch v.Hold.Status {
			case domain.HoldStatusPending:
				secs := int64(v.Remaining / time.Second)
				hr.RemainingSeconds = &secs
			case domain.HoldStatusWaiting:
				ahead := v.Ahead
				hr.Ahead = &ahead
			}
			resp.Holds = append(resp.Holds, hr)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleConfirmHold returns an HTTP handler confirming the caller's cart.
// A partial confirmation is still a 200; the lost lines are in the body.
func HandleConfirmHold(svc HoldConfirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		res, err := svc.ConfirmHold(r.Context(), userID, chi.URLParam(r, "cartID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, confirmResponse{
			Confirmed: toHoldResponses(res.Confirmed),
			Lost:      toHoldResponses(res.Lost),
			Partial:   res.Partial(),
		})
	}
}

// HandleReleaseHold returns an HTTP handler releasing the caller's cart.
func HandleReleaseHold(svc HoldReleaser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		res, err := svc.ReleaseHold(r.Context(), userID, chi.URLParam(r, "cartID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		// Promoted holds belong to other buyers and are not echoed back.
		writeJSON(w, http.StatusOK, releaseResponse{Released: toHoldResponses(res.Released)})
	}
}

// HandleAvailability returns an HTTP handler reporting a zone snapshot.
func HandleAvailability(svc AvailabilityReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		av, err := svc.Availability(r.Context(), chi.URLParam(r, "zoneID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, availabilityResponse{
			ZoneID:    av.Zone.ID,
			EventID:   av.Zone.EventID,
			Quota:     av.Zone.Quota,
			Sold:      av.Zone.Sold,
			Held:      av.Held,
			Available: av.Available,
			Waiting:   av.Waiting,
		})
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusBadRequest, codeUserIDRequired, userHeader+" header is required")
		return "", false
	}
	return userID, true
}

type saveCartRequest struct {
	Lines []cartLineRequest `json:"lines"`
}

type cartLineRequest struct {
	CartItemID string `json:"cart_item_id"`
	EventID    string `json:"event_id,omitempty"`
	ZoneID     string `json:"zone_id"`
	Quantity   int    `json:"quantity"`
}

type holdResponse struct {
	ID               string     `json:"id"`
	CartID           string     `json:"cart_id"`
	CartItemID       string     `json:"cart_item_id"`
	EventID          string     `json:"event_id"`
	ZoneID           string     `json:"zone_id"`
	Quantity         int        `json:"quantity"`
	Status           string     `json:"status"`
	Position         int64      `json:"position,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	PromotedAt       *time.Time `json:"promoted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	RemainingSeconds *int64     `json:"remaining_seconds,omitempty"`
	Ahead            *int       `json:"ahead,omitempty"`
}

func toHoldResponse(h domain.Hold) holdResponse {
	return holdResponse{
		ID:         h.ID,
		CartID:     h.CartID,
		CartItemID: h.CartItemID,
		EventID:    h.EventID,
		ZoneID:     h.ZoneID,
		Quantity:   h.Quantity,
		Status:     string(h.Status),
		Position:   h.Position,
		ExpiresAt:  h.ExpiresAt,
		PromotedAt: h.PromotedAt,
		CreatedAt:  h.CreatedAt,
	}
}

func toHoldResponses(holds []domain.Hold) []holdResponse {
	out := make([]holdResponse, 0, len(holds))
	for _, h := range holds {
		out = append(out, toHoldResponse(h))
	}
	return out
}

type placeHoldResponse struct {
	Holds []holdResponse `json:"holds"`
}

type listHoldsResponse struct {
	Active bool           `json:"active"`
	Holds  []holdResponse `json:"holds"`
}

type confirmResponse struct {
	Confirmed []holdResponse `json:"confirmed"`
	Lost      []holdResponse `json:"lost"`
	Partial   bool           `json:"partial"`
}

type releaseResponse struct {
	Released []holdResponse `json:"released"`
}

type availabilityResponse struct {
	ZoneID    string `json:"zone_id"`
	EventID   string `json:"event_id"`
	Quota     int    `json:"quota"`
	Sold      int    `json:"sold"`
	Held      int    `json:"held"`
	Available int    `json:"available"`
	Waiting   int    `json:"waiting"`
}

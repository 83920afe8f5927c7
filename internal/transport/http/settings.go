package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
)

// TTLReader reports the hold TTL new PENDING holds receive.
type TTLReader interface {
	CurrentTTLMinutes(ctx context.Context) int
}

// TTLAdmin changes the hold TTL and exposes its audit trail.
type TTLAdmin interface {
	UpdateDefaultTTLMinutes(ctx context.Context, minutes int, adminID string) (domain.HoldSettings, error)
	History(ctx context.Context, limit int) ([]domain.SettingsChange, error)
}

// Sweeper runs one expiry and promotion pass on demand.
type Sweeper interface {
	ExpireAndPromote(ctx context.Context) (int, error)
}

func HandleGetTTL(svc TTLReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ttlResponse{Minutes: svc.CurrentTTLMinutes(r.Context())})
	}
}

// HandleUpdateTTL returns an HTTP handler for the admin TTL update. The
// new value applies to holds entering PENDING afterwards.
func HandleUpdateTTL(svc TTLAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateTTLRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		settings, err := svc.UpdateDefaultTTLMinutes(r.Context(), req.Minutes, req.AdminID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ttlResponse{
			Minutes:   settings.TTLMinutes,
			UpdatedBy: settings.UpdatedBy,
			UpdatedAt: &settings.UpdatedAt,
		})
	}
}

func HandleTTLHistory(svc TTLAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, codeInvalidLimit, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		changes, err := svc.History(r.Context(), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := historyResponse{Changes: make([]settingsChangeResponse, 0, len(changes))}
		for _, c := range changes {
			resp.Changes = append(resp.Changes, settingsChangeResponse{
				Minutes:   c.TTLMinutes,
				ChangedBy: c.ChangedBy,
				ChangedAt: c.ChangedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleSweep returns an HTTP handler that runs one sweep immediately.
func HandleSweep(svc Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed, err := svc.ExpireAndPromote(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sweepResponse{Changed: changed})
	}
}

type updateTTLRequest struct {
	Minutes int    `json:"minutes"`
	AdminID string `json:"admin_id"`
}

type ttlResponse struct {
	Minutes   int        `json:"minutes"`
	UpdatedBy string     `json:"updated_by,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type settingsChangeResponse struct {
	Minutes   int       `json:"minutes"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

type historyResponse struct {
	Changes []settingsChangeResponse `json:"changes"`
}

type sweepResponse struct {
	Changed int `json:"changed"`
}

package domain

import "time"

type HoldStatus string

const (
	HoldStatusWaiting   HoldStatus = "WAITING"
	HoldStatusPending   HoldStatus = "PENDING"
	HoldStatusConfirmed HoldStatus = "CONFIRMED"
	HoldStatusExpired   HoldStatus = "EXPIRED"
)

// Active reports whether the status still claims a place in the zone
// (either capacity or a waitlist position).
func (s HoldStatus) Active() bool {
	return s == HoldStatusWaiting || s == HoldStatusPending
}

// Terminal reports whether no further transition is allowed.
func (s HoldStatus) Terminal() bool {
	return s == HoldStatusConfirmed || s == HoldStatusExpired
}

// Held reports whether the status counts against zone capacity.
func (s HoldStatus) Held() bool {
	return s == HoldStatusPending || s == HoldStatusConfirmed
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to HoldStatus) bool {
	switch from {
	case HoldStatusWaiting:
		return to == HoldStatusPending || to == HoldStatusExpired
	case HoldStatusPending:
		return to == HoldStatusConfirmed || to == HoldStatusExpired
	default:
		return false
	}
}

// Hold is a claim on zone capacity tied to one cart line. PENDING holds
// occupy capacity until ExpiresAt; WAITING holds queue by Position.
type Hold struct {
	ID         string
	UserID     string
	CartID     string
	CartItemID string
	EventID    string
	ZoneID     string
	Quantity   int
	Status     HoldStatus
	// Position orders the zone waitlist. Zero for holds admitted directly.
	Position   int64
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	PromotedAt *time.Time
	UpdatedAt  time.Time
}

// Transition moves the hold to status at now, maintaining the
// expires_at/promoted_at bookkeeping. expiresAt is only used when
// entering PENDING.
func (h *Hold) Transition(to HoldStatus, now, expiresAt time.Time) error {
	if !CanTransition(h.Status, to) {
		return ErrInvalidTransition
	}
	if to == HoldStatusPending {
		exp := expiresAt
		h.ExpiresAt = &exp
		if h.Status == HoldStatusWaiting {
			promoted := now
			h.PromotedAt = &promoted
		}
	} else {
		h.ExpiresAt = nil
	}
	h.Status = to
	h.UpdatedAt = now
	return nil
}

// ExpiredAt reports whether a PENDING hold has reached its expiry at now.
func (h Hold) ExpiredAt(now time.Time) bool {
	return h.Status == HoldStatusPending && h.ExpiresAt != nil && !h.ExpiresAt.After(now)
}

// Remaining returns the time left on a PENDING hold, or zero.
func (h Hold) Remaining(now time.Time) time.Duration {
	if h.Status != HoldStatusPending || h.ExpiresAt == nil {
		return 0
	}
	if d := h.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

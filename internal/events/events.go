package events

import (
	"context"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
)

// Type names a hold lifecycle change.
type Type string

const (
	TypePlaced     Type = "hold.placed"
	TypeSuperseded Type = "hold.superseded"
	TypePromoted   Type = "hold.promoted"
	TypeExpired    Type = "hold.expired"
	TypeConfirmed  Type = "hold.confirmed"
	TypeReleased   Type = "hold.released"
)

// Event is the message emitted after a hold change commits. Downstream
// consumers (notifications, ticket issuance) key off Type and Status.
type Event struct {
	Type       Type       `json:"type"`
	HoldID     string     `json:"hold_id"`
	UserID     string     `json:"user_id"`
	CartID     string     `json:"cart_id"`
	CartItemID string     `json:"cart_item_id"`
	EventID    string     `json:"event_id"`
	ZoneID     string     `json:"zone_id"`
	Quantity   int        `json:"quantity"`
	Status     string     `json:"status"`
	Position   int64      `json:"position,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// New builds an event from the committed state of h.
func New(t Type, h domain.Hold, at time.Time) Event {
	return Event{
		Type:       t,
		HoldID:     h.ID,
		UserID:     h.UserID,
		CartID:     h.CartID,
		CartItemID: h.CartItemID,
		EventID:    h.EventID,
		ZoneID:     h.ZoneID,
		Quantity:   h.Quantity,
		Status:     string(h.Status),
		Position:   h.Position,
		ExpiresAt:  h.ExpiresAt,
		OccurredAt: at,
	}
}

// Publisher delivers hold events. Delivery is best effort: holds are
// already committed when Publish is called.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

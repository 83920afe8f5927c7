package domain

import "time"

// Event is the catalog entry zones hang off. Holds only read it to check a
// cart line's event matches its zone.
type Event struct {
	ID       string
	Name     string
	StartsAt time.Time
}

// Zone is a sellable area of an event, with no seat-level selection.
// Quota and Sold come from the catalog and are read-only for holds.
type Zone struct {
	ID      string
	EventID string
	Name    string
	Quota   int
	Sold    int
	// NextPosition is the last waitlist position handed out in this zone.
	NextPosition int64
}

// Validate checks the fields an event needs before it is stored.
func (e Event) Validate() error {
	if e.Name == "" {
		return ErrEventNameRequired
	}
	return nil
}

// Validate checks a zone's catalog fields. Sold may equal Quota (a sold
// out zone still accepts waitlisted holds) but never exceed it.
func (z Zone) Validate() error {
	switch {
	case z.EventID == "":
		return ErrInvalidID
	case z.Name == "":
		return ErrZoneNameRequired
	case z.Quota <= 0, z.Sold < 0, z.Sold > z.Quota:
		return ErrInvalidCapacity
	}
	return nil
}

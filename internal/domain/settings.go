package domain

import "time"

// HoldSettings is the admin-mutable TTL configuration.
type HoldSettings struct {
	TTLMinutes int
	UpdatedBy  string
	UpdatedAt  time.Time
}

// SettingsChange is one audit entry of a TTL update.
type SettingsChange struct {
	TTLMinutes int
	ChangedBy  string
	ChangedAt  time.Time
}

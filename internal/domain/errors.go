package domain

import "errors"

var (
	ErrZoneNotFound      = errors.New("zone not found")
	ErrEventNotFound     = errors.New("event not found")
	ErrCapacityExceeded  = errors.New("requested quantity exceeds zone capacity")
	ErrContention        = errors.New("zone is busy, retry later")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrInvalidTransition = errors.New("invalid hold status transition")
	ErrStaleSettings     = errors.New("hold settings unavailable")
	ErrInvalidTTL        = errors.New("hold ttl must be positive")
	ErrCartNotFound      = errors.New("cart not found")
	ErrCartEmpty         = errors.New("cart has no items")
	ErrInvalidID         = errors.New("invalid id")
	ErrAdminRequired     = errors.New("admin id required")
	ErrEventNameRequired = errors.New("event name required")
	ErrZoneNameRequired  = errors.New("zone name required")
	ErrInvalidCapacity   = errors.New("invalid capacity")
	ErrZoneAlreadyExists = errors.New("zone already exists")
)

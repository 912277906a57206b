package types

import "github.com/google/uuid"

// CycleID identifies one evaluation cycle in logs, metrics and responses.
type CycleID string

// NewCycleID generates a UUIDv7 cycle identifier.
// Time-ordered IDs keep log lines for one cart sortable by cycle.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewCycleID() CycleID {
	return CycleID(uuid.Must(uuid.NewV7()).String())
}

// NewLineID generates a UUIDv7 line identifier for carts that assign their
// own line ids (in-memory carts, simulations).
func NewLineID() string {
	return uuid.Must(uuid.NewV7()).String()
}

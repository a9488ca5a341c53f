package consilium

import "github.com/google/uuid"

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for per-request identifiers attached to every stream event.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

package api

import "errors"

// Transports map these with errors.Is.
// ErrInvalidRequest maps to INVALID_ARGUMENT / 400.
// ErrCatalogUnavailable maps to UNAVAILABLE / 503.
// Context deadline errors map to DEADLINE_EXCEEDED / 504.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

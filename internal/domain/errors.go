package domain

import "errors"

// Domain errors
var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrGroupNotFound     = errors.New("standings group not found")
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrMalformedEvent    = errors.New("malformed match event")
	ErrUnknownEventType  = errors.New("unknown match event type")
	ErrControlReply      = errors.New("control reply")
	ErrInvalidRoom       = errors.New("invalid room key")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInternalError     = errors.New("internal server error")
	ErrDependencyFailure = errors.New("dependency unavailable")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrMatchNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrIncidentNotFound)
}

// IsMalformed reports whether an inbound frame was rejected by the codec.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrUnknownEventType)
}

// IsRejected reports whether applying an event failed for a reason a retry
// cannot fix.
func IsRejected(err error) bool {
	return IsNotFoundError(err) || IsMalformed(err) || errors.Is(err, ErrInvalidRequest)
}

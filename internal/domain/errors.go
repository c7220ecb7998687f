package domain

import "errors"

// Client errors. These are returned before any side effect happens.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidMetric     = errors.New("clear time must be positive and counts must be non-negative and in range")
	ErrUnknownBoard      = errors.New("game or level is not recognized")
	ErrListTooLong       = errors.New("list exceeds maximum length")
	ErrInvalidLimit      = errors.New("limit must be a positive integer")
	ErrNicknameRequired  = errors.New("nickname is required")
	ErrNicknameTooLong   = errors.New("nickname is too long")
	ErrUserRequired      = errors.New("user id is required")
	ErrUnauthorized      = errors.New("missing or invalid api key")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInternalError     = errors.New("internal server error")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrMalformedPayload  = errors.New("malformed verification payload")
	ErrMalformedActivity = errors.New("malformed action log entry")
)

var clientErrors = []error{
	ErrInvalidRequest,
	ErrInvalidMetric,
	ErrUnknownBoard,
	ErrListTooLong,
	ErrInvalidLimit,
	ErrNicknameRequired,
	ErrNicknameTooLong,
	ErrUserRequired,
	ErrMalformedPayload,
	ErrMalformedActivity,
}

// IsClientError reports whether err was caused by the request itself rather
// than by a failing store.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped) and
// the auth service translates them into domain errors.
//
//   - ErrNotFound: no record under the key, or the record already expired
//   - ErrExpired: the record exists but is past its deadline
//   - ErrAlreadyUsed: the credential was consumed earlier
//   - ErrUnavailable: the backend could not be reached
//
// Input validation failures use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrExpired     = errors.New("expired")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)

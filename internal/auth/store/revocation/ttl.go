package revocation

import (
	"errors"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// ErrInvalidTTL is returned when a revocation would expire immediately.
var ErrInvalidTTL = errors.New("revocation ttl must be positive")

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

func nonEmpty(jtis []string) []string {
	out := make([]string, 0, len(jtis))
	for _, jti := range jtis {
		if jti != "" {
			out = append(out, jti)
		}
	}
	return out
}

package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch matches every *Error via errors.Is.
	ErrFetch = errors.New("fetch failed")
	// ErrCircuitOpen is returned without touching the network while the breaker is open.
	ErrCircuitOpen = errors.New("fetch circuit open")
)

// Error describes a fetch that failed after all attempts.
type Error struct {
	URL string
	// StatusCode is the last HTTP status seen, zero for transport failures.
	StatusCode int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrFetch.
func (e *Error) Is(target error) bool { return target == ErrFetch }

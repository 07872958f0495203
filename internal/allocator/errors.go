package allocator

import (
	"errors"
	"fmt"
	"time"

	"qrbatch/internal/interval"
)

var (
	ErrUnknownZone     = errors.New("unknown zone")
	ErrInvalidZoneCode = errors.New("invalid zone code")
)

// ValidationError reports a request rejected before the store was consulted.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConflictError reports the first committed reservation that overlaps
// the requested range.
type ConflictError struct {
	Zone       string
	Requested  interval.Range
	Existing   interval.Range
	ReservedAt time.Time
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	return conflictMessage(e.Existing)
}

func conflictMessage(existing interval.Range) string {
	return "Interval overlaps with existing range " + existing.String()
}

// Package interval holds the durable record of which identifier ranges
// each zone has already claimed.
package interval

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrStoreClosed = errors.New("interval store closed")

// Range is an inclusive span of sequence numbers.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Count() int {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%d - %d]", r.Start, r.End)
}

// Overlaps reports whether a and b share at least one sequence number.
func Overlaps(a, b Range) bool {
	return max(a.Start, b.Start) <= min(a.End, b.End)
}

// Reservation is a committed claim on a range within a zone. Stores
// only ever append reservations.
type Reservation struct {
	Zone       string    `json:"zone"`
	Range      Range     `json:"range"`
	ReservedAt time.Time `json:"reservedAt"`
}

// Store is the durable zone -> reservations mapping.
//
// CheckAndAppend is the only mutation. It returns the first existing
// reservation (in append order) that overlaps r and leaves the store
// untouched, or nil once r has been committed. The check and the append
// happen as one atomic unit with respect to every other caller.
type Store interface {
	Load(ctx context.Context, zone string) ([]Reservation, error)
	All(ctx context.Context) (map[string][]Reservation, error)
	CheckAndAppend(ctx context.Context, r Reservation) (*Reservation, error)
	Close() error
}

func firstOverlap(existing []Reservation, requested Range) *Reservation {
	for i := range existing {
		if Overlaps(existing[i].Range, requested) {
			found := existing[i]
			return &found
		}
	}
	return nil
}

func cloneReservations(list []Reservation) []Reservation {
	if len(list) == 0 {
		return []Reservation{}
	}
	out := make([]Reservation, len(list))
	copy(out, list)
	return out
}

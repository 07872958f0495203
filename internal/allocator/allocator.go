// Package allocator grants identifier ranges to zones on top of an
// interval.Store.
package allocator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"qrbatch/internal/clock"
	"qrbatch/internal/interval"
	"qrbatch/internal/logging"
	"qrbatch/internal/metrics"
)

// DefaultMaxSequence is the largest number that fits the 5-digit suffix.
const DefaultMaxSequence = 99999

// zoneCodePattern bounds what a zone code may contain. Codes become file
// and archive entry names, so separators and dots are never allowed.
var zoneCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ZoneLookup resolves zone codes. *zone.Catalog satisfies it.
type ZoneLookup interface {
	Len() int
	Known(code string) bool
	DisplayName(code string) string
}

type Options struct {
	MaxSequence int
	// Zones, when set and non-empty, restricts requests to known codes.
	Zones    ZoneLookup
	Clock    clock.Clock
	Logger   *logging.Logger
	Registry *metrics.Registry
}

// Availability is the read-only answer to "could this range be reserved now".
type Availability struct {
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

type Allocator struct {
	store       interval.Store
	maxSequence int
	zones       ZoneLookup
	clock       clock.Clock
	logger      *logging.Logger
	registry    *metrics.Registry
}

func New(store interval.Store, opts Options) *Allocator {
	if opts.MaxSequence <= 0 {
		opts.MaxSequence = DefaultMaxSequence
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Allocator{
		store:       store,
		maxSequence: opts.MaxSequence,
		zones:       opts.Zones,
		clock:       opts.Clock,
		logger:      opts.Logger,
		registry:    opts.Registry,
	}
}

func (a *Allocator) MaxSequence() int {
	return a.maxSequence
}

// Validate checks the shape of a request without touching the store.
func (a *Allocator) Validate(zone string, r interval.Range) error {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return &ValidationError{Field: "zone", Message: "zone is required"}
	}
	if !zoneCodePattern.MatchString(zone) {
		return &ValidationError{
			Field:   "zone",
			Message: "zone must be 1 to 32 letters, digits, '-' or '_'",
			Err:     ErrInvalidZoneCode,
		}
	}
	if r.Start < 1 {
		return &ValidationError{Field: "start", Message: "start must be at least 1"}
	}
	if r.End < r.Start {
		return &ValidationError{Field: "end", Message: "end must not be lower than start"}
	}
	if r.End > a.maxSequence {
		return &ValidationError{
			Field:   "end",
			Message: fmt.Sprintf("end must not exceed %d", a.maxSequence),
		}
	}
	if a.zones != nil && a.zones.Len() > 0 {
		if !a.zones.Known(zone) {
			return &ValidationError{
				Field:   "zone",
				Message: fmt.Sprintf("zone %q is not in the catalog", zone),
				Err:     ErrUnknownZone,
			}
		}
	}
	return nil
}

// Check reports whether r is currently free in zone. The answer can be
// stale by the time the caller acts on it; only TryReserve commits.
func (a *Allocator) Check(ctx context.Context, zone string, r interval.Range) (Availability, error) {
	zone = strings.TrimSpace(zone)
	if err := a.Validate(zone, r); err != nil {
		return Availability{}, err
	}
	existing, err := a.store.Load(ctx, zone)
	if err != nil {
		return Availability{}, fmt.Errorf("load reservations: %w", err)
	}
	for _, reservation := range existing {
		if interval.Overlaps(reservation.Range, r) {
			return Availability{Available: false, Message: conflictMessage(reservation.Range)}, nil
		}
	}
	return Availability{Available: true}, nil
}

// TryReserve validates r and commits it for zone unless it overlaps an
// existing reservation. Of two overlapping concurrent calls exactly one
// succeeds.
func (a *Allocator) TryReserve(ctx context.Context, zone string, r interval.Range) (interval.Reservation, error) {
	zone = strings.TrimSpace(zone)
	if err := a.Validate(zone, r); err != nil {
		a.registry.IncReservation("invalid")
		return interval.Reservation{}, err
	}
	reservation := interval.Reservation{
		Zone:       zone,
		Range:      r,
		ReservedAt: a.clock.Now(),
	}
	conflict, err := a.store.CheckAndAppend(ctx, reservation)
	if err != nil {
		a.registry.IncReservation("error")
		return interval.Reservation{}, fmt.Errorf("reserve range: %w", err)
	}
	if conflict != nil {
		a.registry.IncReservation("conflict")
		a.logger.Info("range conflict", map[string]string{
			"zone":      zone,
			"requested": r.String(),
			"existing":  conflict.Range.String(),
		})
		return interval.Reservation{}, &ConflictError{
			Zone:       zone,
			Requested:  r,
			Existing:   conflict.Range,
			ReservedAt: conflict.ReservedAt,
		}
	}
	a.registry.IncReservation("granted")
	a.logger.Info("range reserved", map[string]string{
		"zone":  zone,
		"range": r.String(),
	})
	return reservation, nil
}

// HistoryEntry is one reservation flattened for display.
type HistoryEntry struct {
	ZoneCode   string
	ZoneName   string
	Range      interval.Range
	ReservedAt time.Time
}

// History lists every reservation across zones, newest first. Zone names
// come from the catalog and fall back to the code.
func (a *Allocator) History(ctx context.Context) ([]HistoryEntry, error) {
	all, err := a.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	entries := []HistoryEntry{}
	for zone, reservations := range all {
		name := zone
		if a.zones != nil {
			name = a.zones.DisplayName(zone)
		}
		for _, reservation := range reservations {
			entries = append(entries, HistoryEntry{
				ZoneCode:   zone,
				ZoneName:   name,
				Range:      reservation.Range,
				ReservedAt: reservation.ReservedAt,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ReservedAt.Equal(entries[j].ReservedAt) {
			return entries[i].ReservedAt.After(entries[j].ReservedAt)
		}
		if entries[i].ZoneCode != entries[j].ZoneCode {
			return entries[i].ZoneCode < entries[j].ZoneCode
		}
		return entries[i].Range.Start > entries[j].Range.Start
	})
	return entries, nil
}

package interval

import (
	"context"
	"sync"
)

// MemoryStore keeps reservations in process memory. It is not durable
// and exists for tests and throwaway runs.
type MemoryStore struct {
	mu     sync.Mutex
	zones  map[string][]Reservation
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{zones: make(map[string][]Reservation)}
}

func (s *MemoryStore) Load(ctx context.Context, zone string) ([]Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return cloneReservations(s.zones[zone]), nil
}

func (s *MemoryStore) All(ctx context.Context) (map[string][]Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make(map[string][]Reservation, len(s.zones))
	for zone, list := range s.zones {
		out[zone] = cloneReservations(list)
	}
	return out, nil
}

func (s *MemoryStore) CheckAndAppend(ctx context.Context, r Reservation) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if conflict := firstOverlap(s.zones[r.Zone], r.Range); conflict != nil {
		return conflict, nil
	}
	s.zones[r.Zone] = append(s.zones[r.Zone], r)
	return nil, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

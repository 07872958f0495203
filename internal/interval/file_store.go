package interval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"qrbatch/internal/fsutil"
	"qrbatch/internal/logging"
)

var ErrInvalidStoreFile = errors.New("interval store file invalid")

// fileEntry mirrors one element of the on-disk intervals document:
// {"<zone>": [{"start": 1, "end": 5, "timestamp": "..."}]}.
type fileEntry struct {
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Timestamp time.Time `json:"timestamp"`
}

// FileStore persists every zone in one JSON document. A single mutex
// serializes all access, and each append rewrites the document through a
// synced temp file and rename so readers never see a partial write.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
	zones  map[string][]Reservation
	closed bool
}

func OpenFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("interval store path required")
	}
	store := &FileStore{path: trimmed, logger: logger}
	zones, err := store.read()
	if err != nil {
		return nil, err
	}
	store.zones = zones
	if logger != nil {
		logger.Debug("interval store opened", map[string]string{
			"path":  trimmed,
			"zones": fmt.Sprint(len(zones)),
		})
	}
	return store, nil
}

func (s *FileStore) Load(ctx context.Context, zone string) ([]Reservation, error) {
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

func (s *FileStore) All(ctx context.Context) (map[string][]Reservation, error) {
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

func (s *FileStore) CheckAndAppend(ctx context.Context, r Reservation) (*Reservation, error) {
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

	next := make(map[string][]Reservation, len(s.zones)+1)
	for zone, list := range s.zones {
		next[zone] = list
	}
	next[r.Zone] = append(cloneReservations(s.zones[r.Zone]), r)
	if err := s.write(next); err != nil {
		return nil, fmt.Errorf("persist reservation: %w", err)
	}
	s.zones = next
	return nil, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *FileStore) read() (map[string][]Reservation, error) {
	zones := make(map[string][]Reservation)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zones, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return zones, nil
	}

	var document map[string][]fileEntry
	if err := json.Unmarshal(data, &document); err != nil {
		// Never fall back to an empty store over an unreadable document.
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidStoreFile, s.path, err)
	}
	for zone, entries := range document {
		list := make([]Reservation, 0, len(entries))
		for _, entry := range entries {
			list = append(list, Reservation{
				Zone:       zone,
				Range:      Range{Start: entry.Start, End: entry.End},
				ReservedAt: entry.Timestamp,
			})
		}
		zones[zone] = list
	}
	return zones, nil
}

func (s *FileStore) write(zones map[string][]Reservation) error {
	document := make(map[string][]fileEntry, len(zones))
	for zone, list := range zones {
		entries := make([]fileEntry, 0, len(list))
		for _, reservation := range list {
			entries = append(entries, fileEntry{
				Start:     reservation.Range.Start,
				End:       reservation.Range.End,
				Timestamp: reservation.ReservedAt,
			})
		}
		document[zone] = entries
	}

	payload, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(s.path, 0o644, func(w io.Writer) error {
		_, err := w.Write(payload)
		return err
	})
}

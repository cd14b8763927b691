package submission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"forked/internal/geofence"
)

// MemoryStore is an in-process Store. Transactions run one at a time and
// stage their writes until fn returns.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	markers map[string]time.Time
	coords  map[string]geofence.Coordinate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]Record{},
		markers: map[string]time.Time{},
		coords:  map[string]geofence.Coordinate{},
	}
}

// SetHallCoordinate registers the coordinate used for location verification.
func (s *MemoryStore) SetHallCoordinate(hallID string, c geofence.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coords[hallID] = c
}

func (s *MemoryStore) Insert(_ context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Marker returns the last accepted time stored under markerID.
func (s *MemoryStore) Marker(markerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.markers[markerID]
	return at, ok
}

func (s *MemoryStore) SetVerdict(_ context.Context, id string, v Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyVerdict(id, v)
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		markers:  map[string]time.Time{},
		verdicts: map[string]Verdict{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, at := range tx.markers {
		s.markers[id] = at
	}
	for id, v := range tx.verdicts {
		if err := s.applyVerdict(id, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) applyVerdict(id string, v Verdict) error {
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.ServerValidated = &v.Validated
	rec.ServerValidationReason = nil
	if v.Reason != "" {
		reason := v.Reason
		rec.ServerValidationReason = &reason
	}
	at := v.At
	rec.ServerValidatedAt = &at
	rec.LocationVerified = v.LocationVerified
	s.records[id] = rec
	return nil
}

// memTx reads through to the store, which is locked for the lifetime of the
// transaction.
type memTx struct {
	store    *MemoryStore
	markers  map[string]time.Time
	verdicts map[string]Verdict
}

func (t *memTx) MarkerLast(_ context.Context, id string) (time.Time, bool, error) {
	if at, ok := t.markers[id]; ok {
		return at, true, nil
	}
	at, ok := t.store.markers[id]
	return at, ok, nil
}

func (t *memTx) SetMarker(_ context.Context, id string, at time.Time) error {
	t.markers[id] = at
	return nil
}

func (t *memTx) HallCoordinate(_ context.Context, hallID string) (*geofence.Coordinate, error) {
	c, ok := t.store.coords[hallID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memTx) SetVerdict(_ context.Context, id string, v Verdict) error {
	if _, ok := t.store.records[id]; !ok {
		return ErrNotFound
	}
	t.verdicts[id] = v
	return nil
}

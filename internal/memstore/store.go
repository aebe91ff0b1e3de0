// Package memstore is an in-memory record store for hive readings, used by
// tests and by DB_DRIVER=memory.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/ml"
)

// Store keeps readings ordered by timestamp, then insertion order
type Store struct {
	mu       sync.RWMutex
	readings []hive.SensorReading
	nextID   int64
}

// New creates an empty store
func New() *Store {
	return &Store{nextID: 1}
}

// InsertReading stores a reading and sets its ID
func (s *Store) InsertReading(_ context.Context, r *hive.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(r)
	return nil
}

// InsertReadings stores a batch of readings
func (s *Store) InsertReadings(_ context.Context, readings []*hive.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range readings {
		s.insertLocked(r)
	}
	return nil
}

func (s *Store) insertLocked(r *hive.SensorReading) {
	r.ID = s.nextID
	s.nextID++

	// readings usually arrive in order, so search from the end
	i := len(s.readings)
	for i > 0 && s.readings[i-1].Timestamp.After(r.Timestamp) {
		i--
	}
	s.readings = slices.Insert(s.readings, i, *r)
}

// Readings returns copies of the stored readings in the requested order
func (s *Store) Readings(_ context.Context, q ml.Query) ([]hive.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.readings)
	if q.Limit > 0 && q.Limit < n {
		n = q.Limit
	}

	out := make([]hive.SensorReading, 0, n)
	if q.Order == ml.Descending {
		for i := len(s.readings) - 1; i >= 0 && len(out) < n; i-- {
			out = append(out, s.readings[i])
		}
		return out, nil
	}
	return append(out, s.readings[:n]...), nil
}

// Recent returns the newest n readings in ascending order
func (s *Store) Recent(_ context.Context, n int) ([]hive.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil, nil
	}
	start := max(len(s.readings)-n, 0)
	return slices.Clone(s.readings[start:]), nil
}

// ReadingsSince returns readings at or after since, oldest first
func (s *Store) ReadingsSince(_ context.Context, since time.Time) ([]hive.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, _ := slices.BinarySearchFunc(s.readings, since, func(r hive.SensorReading, t time.Time) int {
		return r.Timestamp.Compare(t)
	})
	return slices.Clone(s.readings[i:]), nil
}

// Count returns the number of stored readings
func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings), nil
}

// Stats returns reading totals split by activity label
func (s *Store) Stats(context.Context) (hive.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := hive.Stats{Total: len(s.readings)}
	for _, r := range s.readings {
		if r.HighActivity == 1 {
			st.HighActivity++
		}
	}
	st.LowActivity = st.Total - st.HighActivity
	return st, nil
}

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/ml"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func insert(t *testing.T, s *Store, minute, bees int) hive.SensorReading {
	t.Helper()
	r := hive.NewReading(t0.Add(time.Duration(minute)*time.Minute), 25, 60, 30, bees, nil)
	require.NoError(t, s.InsertReading(context.Background(), &r))
	return r
}

func TestStore_KeepsTimestampOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	insert(t, s, 0, 100)
	insert(t, s, 2, 300)
	late := insert(t, s, 1, 200)

	asc, err := s.Readings(ctx, ml.Query{})
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, []int{100, 200, 300}, []int{asc[0].ActiveBees, asc[1].ActiveBees, asc[2].ActiveBees})
	assert.Equal(t, int64(3), late.ID)

	desc, err := s.Readings(ctx, ml.Query{Order: ml.Descending, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{300, 200}, []int{desc[0].ActiveBees, desc[1].ActiveBees})

	oldest, err := s.Readings(ctx, ml.Query{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 100, oldest[0].ActiveBees)
}

func TestStore_Recent(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		insert(t, s, i, i*10)
	}

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, 50, recent[0].ActiveBees)
	assert.Equal(t, 140, recent[9].ActiveBees)

	all, err := s.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 15)

	none, err := New().Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ReadingsSince(t *testing.T) {
	s := New()
	for i := 0; i < 6; i++ {
		insert(t, s, i, i)
	}
	insert(t, s, 3, 33)

	got, err := s.ReadingsSince(context.Background(), t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 3, got[0].ActiveBees)
	assert.Equal(t, 33, got[1].ActiveBees)
}

func TestStore_CountAndStats(t *testing.T) {
	s := New()
	ctx := context.Background()
	insert(t, s, 0, 100)
	insert(t, s, 1, 700)
	insert(t, s, 2, 900)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, hive.Stats{Total: 3, HighActivity: 2, LowActivity: 1}, st)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	insert(t, s, 0, 100)

	got, err := s.Readings(context.Background(), ml.Query{})
	require.NoError(t, err)
	got[0].ActiveBees = 999

	again, err := s.Readings(context.Background(), ml.Query{})
	require.NoError(t, err)
	assert.Equal(t, 100, again[0].ActiveBees)
}

var _ ml.History = (*Store)(nil)

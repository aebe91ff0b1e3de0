package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/pkg/config"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func reading(minute, bees int) hive.SensorReading {
	return hive.NewReading(t0.Add(time.Duration(minute)*time.Minute), 25, 60, 30, bees, hive.Float(50))
}

type stubReader struct {
	readings []hive.SensorReading
	err      error
	calls    int
}

func (s *stubReader) Recent(_ context.Context, n int) ([]hive.SensorReading, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	start := max(len(s.readings)-n, 0)
	return s.readings[start:], nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestCachedHistory_UsesFullCache(t *testing.T) {
	cached := &stubReader{readings: []hive.SensorReading{reading(0, 1), reading(1, 2), reading(2, 3)}}
	store := &stubReader{}
	h := NewCachedHistory(cached, store, quietLogger())

	got, err := h.Recent(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Zero(t, store.calls)
}

func TestCachedHistory_FallsBack(t *testing.T) {
	stored := []hive.SensorReading{reading(0, 1), reading(1, 2), reading(2, 3)}

	short := NewCachedHistory(&stubReader{readings: stored[2:]}, &stubReader{readings: stored}, quietLogger())
	got, err := short.Recent(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	broken := NewCachedHistory(&stubReader{err: errors.New("connection refused")}, &stubReader{readings: stored}, quietLogger())
	got, err = broken.Recent(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, got[1].ActiveBees)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client, err := Connect(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRecentCache_Redis(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	c := NewRecentCache(client, 3)
	c.key = "hive:test:" + t.Name()
	t.Cleanup(func() { client.Del(ctx, c.key) })

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Push(ctx, reading(i, i*100)))
	}

	got, err := c.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{200, 300, 400}, []int{got[0].ActiveBees, got[1].ActiveBees, got[2].ActiveBees})
	assert.True(t, got[2].Timestamp.Equal(t0.Add(4*time.Minute)))

	// a late reading sorts by timestamp, not by arrival
	require.NoError(t, c.Push(ctx, reading(3, 333)))
	require.NoError(t, c.Push(ctx, reading(1, 111)))
	got, err = c.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
	}
	assert.Equal(t, 400, got[2].ActiveBees)

	require.NoError(t, c.Warm(ctx, []hive.SensorReading{reading(0, 7), reading(1, 8)}))
	got, err = c.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8}, []int{got[0].ActiveBees, got[1].ActiveBees})
}

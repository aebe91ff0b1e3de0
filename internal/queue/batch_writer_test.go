package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newFakeSource(msgs ...kafka.Message) *fakeSource {
	s := &fakeSource{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		s.msgs <- m
	}
	return s
}

func (s *fakeSource) Consume(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *fakeSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *fakeSource) offsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type fakeSink struct {
	mu       sync.Mutex
	batches  int
	stored   []hive.SensorReading
	batchErr error
	failBees int
}

func (s *fakeSink) Ingest(_ context.Context, r *hive.SensorReading, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ActiveBees == s.failBees {
		return errors.New("disk full")
	}
	s.stored = append(s.stored, *r)
	return nil
}

func (s *fakeSink) IngestBatch(_ context.Context, readings []*hive.SensorReading, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.batchErr != nil {
		return s.batchErr
	}
	for _, r := range readings {
		s.stored = append(s.stored, *r)
	}
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func readingMessage(t *testing.T, offset int64, bees int) kafka.Message {
	t.Helper()
	msg := &protocol.ReadingMessage{
		Source: protocol.SourceSimulator,
		Data:   protocol.NewReadingData(hive.NewReading(time.Date(2025, 6, 1, 8, 0, int(offset), 0, time.UTC), 25, 60, 30, bees, nil)),
	}
	value, err := protocol.EncodeReadingMessage(msg)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBatchWriter_FlushesFullBatch(t *testing.T) {
	src := newFakeSource(readingMessage(t, 0, 100), readingMessage(t, 1, 600), readingMessage(t, 2, 300))
	sink := &fakeSink{failBees: -1}
	bw := NewBatchWriter(src, sink, 3, time.Hour, quietLogger())

	bw.Start(context.Background())
	require.Eventually(t, func() bool { return sink.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	bw.Stop()

	assert.Equal(t, 1, sink.batches)
	assert.Equal(t, []int64{0, 1, 2}, src.offsets())
	assert.Equal(t, hive.ActivityHigh, sink.stored[1].Activity)
}

func TestBatchWriter_FlushesOnInterval(t *testing.T) {
	src := newFakeSource(readingMessage(t, 0, 100))
	sink := &fakeSink{failBees: -1}
	bw := NewBatchWriter(src, sink, 100, 20*time.Millisecond, quietLogger())

	bw.Start(context.Background())
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	bw.Stop()
}

func TestBatchWriter_FlushesPendingOnStop(t *testing.T) {
	src := newFakeSource(readingMessage(t, 0, 100), readingMessage(t, 1, 200))
	sink := &fakeSink{failBees: -1}
	bw := NewBatchWriter(src, sink, 100, time.Hour, quietLogger())

	bw.Start(context.Background())
	// give the consumer time to hand both messages over
	time.Sleep(50 * time.Millisecond)
	bw.Stop()

	assert.Equal(t, 2, sink.count())
	assert.Equal(t, []int64{0, 1}, src.offsets())
}

func TestBatchWriter_SkipsInvalidMessages(t *testing.T) {
	bad := kafka.Message{Offset: 1, Value: []byte(`{"data":{"temperature":1}}`)}
	src := newFakeSource(readingMessage(t, 0, 100), bad)
	sink := &fakeSink{failBees: -1}
	bw := NewBatchWriter(src, sink, 2, time.Hour, quietLogger())

	bw.Start(context.Background())
	require.Eventually(t, func() bool { return len(src.offsets()) == 2 }, 2*time.Second, 10*time.Millisecond)
	bw.Stop()

	assert.Equal(t, 1, sink.count())
	assert.ElementsMatch(t, []int64{0, 1}, src.offsets())
}

func TestBatchWriter_FallsBackToSingleWrites(t *testing.T) {
	src := newFakeSource(readingMessage(t, 0, 100), readingMessage(t, 1, 666), readingMessage(t, 2, 300))
	sink := &fakeSink{batchErr: errors.New("constraint"), failBees: 666}
	bw := NewBatchWriter(src, sink, 3, time.Hour, quietLogger())

	bw.Start(context.Background())
	require.Eventually(t, func() bool { return len(src.offsets()) == 2 }, 2*time.Second, 10*time.Millisecond)
	bw.Stop()

	assert.Equal(t, 2, sink.count())
	assert.Equal(t, []int64{0, 2}, src.offsets())
}

func TestPartitionForHive_Stable(t *testing.T) {
	p := PartitionForHive(protocol.DefaultHive, 3)
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, 3)
	assert.Equal(t, p, PartitionForHive(protocol.DefaultHive, 3))
}

func TestHiveBalancer_KeepsHiveOnOnePartition(t *testing.T) {
	partitions := []int{0, 1, 2}
	msg := kafka.Message{Key: []byte("hive-7")}

	got := hiveBalancer(msg, partitions...)
	assert.Equal(t, PartitionForHive("hive-7", 3), got)
	for i := 0; i < 5; i++ {
		assert.Equal(t, got, hiveBalancer(msg, partitions...))
	}
}

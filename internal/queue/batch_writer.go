package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/protocol"
)

// MessageSource is the consumer side the batch writer reads from
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Sink stores decoded readings
type Sink interface {
	Ingest(ctx context.Context, r *hive.SensorReading, source string) error
	IngestBatch(ctx context.Context, readings []*hive.SensorReading, source string) error
}

// BatchWriter consumes reading messages from Kafka and batch-writes them
// through the ingestion service
type BatchWriter struct {
	source        MessageSource
	sink          Sink
	batchSize     int
	flushInterval time.Duration
	log           logrus.FieldLogger
	now           func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, sink Sink, batchSize int, flushInterval time.Duration, log logrus.FieldLogger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &BatchWriter{
		source:        source,
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           log.WithField("component", "batch-writer"),
		now:           time.Now,
	}
}

// Start begins consuming and writing readings
func (bw *BatchWriter) Start(ctx context.Context) {
	ctx, bw.cancel = context.WithCancel(ctx)

	msgCh := make(chan kafka.Message, bw.batchSize)
	bw.wg.Add(2)
	go bw.consume(ctx, msgCh)
	go bw.run(ctx, msgCh)
}

// Stop flushes the pending batch and waits for the writer to exit
func (bw *BatchWriter) Stop() {
	if bw.cancel != nil {
		bw.cancel()
	}
	bw.wg.Wait()
}

func (bw *BatchWriter) consume(ctx context.Context, msgCh chan<- kafka.Message) {
	defer bw.wg.Done()
	defer close(msgCh)

	for {
		msg, err := bw.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			bw.log.WithError(err).Warn("Consumer error")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case msgCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (bw *BatchWriter) run(ctx context.Context, msgCh <-chan kafka.Message) {
	defer bw.wg.Done()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				// consumer stopped: flush what is left with a fresh context
				if len(batch) > 0 {
					flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					bw.flush(flushCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, msg)

			if len(batch) >= bw.batchSize {
				bw.log.WithField("count", len(batch)).Debug("Batch full, flushing")
				bw.flush(ctx, batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				bw.log.WithField("count", len(batch)).Debug("Flush interval reached, flushing")
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) {
	readings := make([]*hive.SensorReading, 0, len(batch))
	decoded := make([]kafka.Message, 0, len(batch))
	var skipped []kafka.Message

	for _, msg := range batch {
		r, err := bw.decode(msg)
		if err != nil {
			// a message that can never be stored is committed so it is not redelivered
			bw.log.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("Skipping invalid reading message")
			skipped = append(skipped, msg)
			continue
		}
		readings = append(readings, r)
		decoded = append(decoded, msg)
	}

	stored := decoded
	if len(readings) > 0 {
		if err := bw.sink.IngestBatch(ctx, readings, "kafka"); err != nil {
			bw.log.WithError(err).Warn("Batch write failed, retrying readings one by one")
			stored = bw.storeEach(ctx, decoded, readings)
		}
	}

	commit := append(skipped, stored...)
	if len(commit) > 0 {
		if err := bw.source.Commit(ctx, commit...); err != nil {
			bw.log.WithError(err).Error("Failed to commit offsets")
		}
	}

	bw.log.WithFields(logrus.Fields{
		"stored":  len(stored),
		"skipped": len(skipped),
		"failed":  len(decoded) - len(stored),
	}).Info("Flushed reading batch")
}

func (bw *BatchWriter) storeEach(ctx context.Context, msgs []kafka.Message, readings []*hive.SensorReading) []kafka.Message {
	var stored []kafka.Message
	for i, r := range readings {
		if err := bw.sink.Ingest(ctx, r, "kafka"); err != nil {
			bw.log.WithError(err).WithField("offset", msgs[i].Offset).Error("Failed to store reading")
			continue
		}
		stored = append(stored, msgs[i])
	}
	return stored
}

func (bw *BatchWriter) decode(msg kafka.Message) (*hive.SensorReading, error) {
	readingMsg, err := protocol.DecodeReadingMessage(msg.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	r, err := readingMsg.Data.Parse(bw.receivedAt(readingMsg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse reading data: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (bw *BatchWriter) receivedAt(msg *protocol.ReadingMessage) time.Time {
	if !msg.ReceivedAt.IsZero() {
		return msg.ReceivedAt
	}
	return bw.now()
}

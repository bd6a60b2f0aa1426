package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/protocol"
)

// MessageSource is the consuming side of a topic
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// ReadingArchive persists raw hourly readings
type ReadingArchive interface {
	InsertRawReadings(ctx context.Context, readings []database.RawReading) error
}

// BatchWriter consumes reading events and batch-writes them to the archive
type BatchWriter struct {
	source        MessageSource
	store         ReadingArchive
	batchSize     int
	flushInterval time.Duration
	attempts      int
	retryBackoff  time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, archive ReadingArchive, batchSize int, flushInterval time.Duration) *BatchWriter {
	return &BatchWriter{
		source:        source,
		store:         archive,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		attempts:      3,
		retryBackoff:  500 * time.Millisecond,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the archive
func (bw *BatchWriter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	msgCh := make(chan kafka.Message, bw.batchSize)

	bw.wg.Add(2)
	go func() {
		defer bw.wg.Done()
		defer close(msgCh)
		bw.consume(ctx, msgCh)
	}()
	go func() {
		defer bw.wg.Done()
		defer cancel()
		bw.run(ctx, msgCh)
	}()
}

// Stop flushes the pending batch and waits for both goroutines to exit
func (bw *BatchWriter) Stop() {
	bw.stopOnce.Do(func() { close(bw.stopCh) })
	bw.wg.Wait()
}

func (bw *BatchWriter) consume(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := bw.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logging.Warn().Err(err).Msg("consumer error")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (bw *BatchWriter) run(ctx context.Context, in <-chan kafka.Message) {
	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.stopCh:
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.flush(ctx, batch)
				batch = nil
			}

		case msg, ok := <-in:
			if !ok {
				bw.flush(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

// flush archives a batch and commits its offsets. Undecodable messages are
// committed and dropped. The insert is retried with backoff; if every
// attempt fails the batch stays uncommitted and is only read again after a
// restart or group rebalance.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	readings := make([]database.RawReading, 0, len(batch))
	for _, msg := range batch {
		r, err := toRawReading(msg.Value)
		if err != nil {
			logging.Warn().Err(err).Int64("offset", msg.Offset).Msg("dropping malformed reading event")
			continue
		}
		readings = append(readings, *r)
	}

	if err := bw.archive(ctx, readings); err != nil {
		logging.Error().Err(err).Int("batch", len(batch)).Int64("first_offset", batch[0].Offset).
			Msg("failed to archive readings, offsets left uncommitted")
		return
	}

	if err := bw.source.Commit(ctx, batch...); err != nil {
		logging.Error().Err(err).Msg("failed to commit offsets")
		return
	}

	logging.Info().Int("archived", len(readings)).Int("batch", len(batch)).Msg("flushed reading batch")
}

func (bw *BatchWriter) archive(ctx context.Context, readings []database.RawReading) error {
	var err error
	backoff := bw.retryBackoff
	for attempt := 1; ; attempt++ {
		if err = bw.store.InsertRawReadings(ctx, readings); err == nil {
			return nil
		}
		if attempt >= bw.attempts {
			return err
		}
		logging.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("archive insert failed, retrying")
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return err
		}
	}
}

func toRawReading(data []byte) (*database.RawReading, error) {
	ev, err := protocol.DecodeReadingEvent(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reading event: %w", err)
	}

	var wardNo int
	if _, err := fmt.Sscanf(ev.WardNo, "%d", &wardNo); err != nil {
		return nil, fmt.Errorf("invalid ward_no %q: %w", ev.WardNo, err)
	}

	date, err := time.Parse("2006-01-02", ev.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", ev.Date, err)
	}

	return &database.RawReading{
		WardNo:          wardNo,
		Date:            date,
		Hour:            ev.Hour,
		AQI:             ev.AQI,
		PM25:            ev.PM25,
		PM10:            ev.PM10,
		NO2:             ev.NO2,
		O3:              ev.O3,
		SourceTimestamp: ev.SourceAt,
		FetchedAt:       ev.FetchedAt,
	}, nil
}

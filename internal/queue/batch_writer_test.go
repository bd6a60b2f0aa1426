package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/protocol"
)

type fakeSource struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func newFakeSource(msgs ...kafka.Message) *fakeSource {
	s := &fakeSource{msgs: make(chan kafka.Message, len(msgs)+1)}
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

func (s *fakeSource) Committed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type fakeArchive struct {
	mu       sync.Mutex
	readings []database.RawReading
	err      error
	// failures is how many calls fail before inserts succeed
	failures int
	calls    int
}

func (a *fakeArchive) InsertRawReadings(_ context.Context, readings []database.RawReading) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return a.err
	}
	if a.calls <= a.failures {
		return errors.New("connection reset")
	}
	a.readings = append(a.readings, readings...)
	return nil
}

func (a *fakeArchive) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *fakeArchive) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.readings)
}

func readingMessage(t *testing.T, offset int64, wardNo string, aqi float64) kafka.Message {
	t.Helper()
	data, err := protocol.EncodeReadingEvent(&protocol.ReadingEvent{
		WardNo:    wardNo,
		Date:      "2025-01-10",
		Hour:      14,
		AQI:       aqi,
		FetchedAt: time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: data}
}

func TestBatchWriter_FlushesOnBatchSize(t *testing.T) {
	source := newFakeSource(
		readingMessage(t, 1, "12", 150),
		readingMessage(t, 2, "57", 90),
	)
	archive := &fakeArchive{}

	bw := NewBatchWriter(source, archive, 2, time.Hour)
	bw.Start(context.Background())

	require.Eventually(t, func() bool { return archive.Count() == 2 }, time.Second, 10*time.Millisecond)
	bw.Stop()

	require.Equal(t, []int64{1, 2}, source.Committed())
	require.Equal(t, 12, archive.readings[0].WardNo)
	require.Equal(t, 14, archive.readings[0].Hour)
}

func TestBatchWriter_FlushesOnStop(t *testing.T) {
	source := newFakeSource(readingMessage(t, 5, "12", 150))
	archive := &fakeArchive{}

	bw := NewBatchWriter(source, archive, 100, time.Hour)
	bw.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	bw.Stop()

	require.Equal(t, 1, archive.Count())
	require.Equal(t, []int64{5}, source.Committed())
}

func TestBatchWriter_MalformedMessagesAreCommitted(t *testing.T) {
	source := newFakeSource(
		kafka.Message{Offset: 1, Value: []byte("not json")},
		readingMessage(t, 2, "12", 150),
	)
	archive := &fakeArchive{}

	bw := NewBatchWriter(source, archive, 2, time.Hour)
	bw.Start(context.Background())

	require.Eventually(t, func() bool { return len(source.Committed()) == 2 }, time.Second, 10*time.Millisecond)
	bw.Stop()

	require.Equal(t, 1, archive.Count())
}

func TestBatchWriter_ArchiveFailureLeavesOffsetsUncommitted(t *testing.T) {
	source := newFakeSource(readingMessage(t, 1, "12", 150))
	archive := &fakeArchive{err: errors.New("db down")}

	bw := NewBatchWriter(source, archive, 1, time.Hour)
	bw.retryBackoff = time.Millisecond
	bw.Start(context.Background())

	require.Eventually(t, func() bool { return archive.Calls() == 3 }, time.Second, 5*time.Millisecond)
	bw.Stop()

	require.Equal(t, 3, archive.Calls())
	require.Empty(t, source.Committed())
}

func TestBatchWriter_RetriesTransientArchiveFailure(t *testing.T) {
	source := newFakeSource(readingMessage(t, 1, "12", 150))
	archive := &fakeArchive{failures: 2}

	bw := NewBatchWriter(source, archive, 1, time.Hour)
	bw.retryBackoff = time.Millisecond
	bw.Start(context.Background())

	require.Eventually(t, func() bool { return len(source.Committed()) == 1 }, time.Second, 5*time.Millisecond)
	bw.Stop()

	require.Equal(t, 1, archive.Count())
	require.Equal(t, 3, archive.Calls())
	require.Equal(t, []int64{1}, source.Committed())
}

func TestToRawReading_InvalidWard(t *testing.T) {
	data, err := protocol.EncodeReadingEvent(&protocol.ReadingEvent{WardNo: "north", Date: "2025-01-10"})
	require.NoError(t, err)

	_, err = toRawReading(data)
	require.Error(t, err)
}

package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/protocol"
	"github.com/jandrishti/aqi-backend/internal/waqi"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

func ptr(v float64) *float64 { return &v }

type fakeStore struct {
	mu        sync.Mutex
	wards     []database.Ward
	wardsErr  error
	wardCalls int
	rows      map[string]database.WardDailyAQI
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]database.WardDailyAQI)}
}

func (s *fakeStore) ActiveWards(context.Context) ([]database.Ward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wardCalls++
	return s.wards, s.wardsErr
}

func (s *fakeStore) UpsertWardDailyAQI(_ context.Context, row *database.WardDailyAQI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[fmt.Sprintf("%d/%s", row.WardNo, row.Date.Format(dateLayout))] = *row
	return nil
}

type fakePublisher struct {
	mu         sync.Mutex
	readings   []*protocol.ReadingEvent
	aggregates []*protocol.AggregateEvent
}

func (p *fakePublisher) PublishReading(_ context.Context, ev *protocol.ReadingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, ev)
	return nil
}

func (p *fakePublisher) PublishAggregate(_ context.Context, ev *protocol.AggregateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aggregates = append(p.aggregates, ev)
	return errors.New("broker down")
}

type harness struct {
	mr        *miniredis.Miniredis
	store     *fakeStore
	publisher *fakePublisher
	collector *Collector
}

// 20:00 UTC is 01:30 the next day in Asia/Kolkata
var testNow = time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok","data":{"aqi":150,"iaqi":{"pm25":{"v":80}},"time":{"s":"2025-01-11 01:00:00"}}}`))
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	feed := waqi.NewClient(config.WAQIConfig{BaseURL: srv.URL, Token: "t", Timeout: time.Second})
	store := newFakeStore()
	pub := &fakePublisher{}

	c, err := New(rdb, store, feed, pub, config.CollectionConfig{
		TimeZone:   "Asia/Kolkata",
		ReadingTTL: 48 * time.Hour,
	})
	require.NoError(t, err)
	c.now = func() time.Time { return testNow }

	return &harness{mr: mr, store: store, publisher: pub, collector: c}
}

var rohini = Ward{Name: "Rohini", WardNo: 54, Quadrant: "NW", Latitude: 28.7383, Longitude: 77.0822}

func TestNew_InvalidTimeZone(t *testing.T) {
	_, err := New(nil, nil, nil, nil, config.CollectionConfig{TimeZone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestFetchReading_OKWithPM25(t *testing.T) {
	h := newHarness(t, nil)

	r, err := h.collector.FetchReading(context.Background(), 28.7383, 77.0822)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, 150.0, r.AQI)
	require.Equal(t, 80.0, *r.PM25)
	require.Nil(t, r.PM10)
	require.Nil(t, r.NO2)
	require.Equal(t, "2025-01-11 01:00:00", r.Timestamp)
	require.Equal(t, "2025-01-11T01:30:00+05:30", r.FetchedAt)
}

func TestFetchReading_ProviderErrorIsNoData(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error"}`))
	})

	r, err := h.collector.FetchReading(context.Background(), 28.7, 77.1)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestFetchReading_MissingAQIIsNoData(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","data":{"aqi":"-","iaqi":{"pm25":{"v":80}}}}`))
	})

	r, err := h.collector.FetchReading(context.Background(), 28.7, 77.1)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestFetchReading_FallsBackToSubIndexAndFetchTime(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","data":{"iaqi":{"aqi":{"v":97}}}}`))
	})

	r, err := h.collector.FetchReading(context.Background(), 28.7, 77.1)
	require.NoError(t, err)
	require.Equal(t, 97.0, r.AQI)
	require.Equal(t, r.FetchedAt, r.Timestamp)
}

func TestFetchReading_InvalidCoordinates(t *testing.T) {
	h := newHarness(t, nil)

	for _, c := range [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -181}} {
		_, err := h.collector.FetchReading(context.Background(), c[0], c[1])
		require.ErrorIs(t, err, ErrInvalidCoordinates)
	}
}

func TestStoreHourlyReading_RoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	reading := &Reading{AQI: 150, PM25: ptr(80), Timestamp: "2025-01-11 01:00:00", FetchedAt: "2025-01-11T01:30:00+05:30"}

	require.NoError(t, h.collector.StoreHourlyReading(ctx, rohini, reading))

	require.True(t, h.mr.Exists("aqi:hourly:54:2025-01-11:1"))
	require.Equal(t, 48*time.Hour, h.mr.TTL("aqi:hourly:54:2025-01-11:1"))
	require.Equal(t, 48*time.Hour, h.mr.TTL("aqi:hourly:54:2025-01-11"))

	day := time.Date(2025, 1, 11, 0, 0, 0, 0, h.collector.Location())
	readings, err := h.collector.DailyReadings(ctx, 54, day)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.Equal(t, *reading, readings[0])

	current, err := h.collector.CurrentReading(ctx, 54)
	require.NoError(t, err)
	require.Equal(t, 150.0, current.AQI)

	require.Len(t, h.publisher.readings, 1)
	require.Equal(t, "54", h.publisher.readings[0].WardNo)
	require.Equal(t, 1, h.publisher.readings[0].Hour)
}

func TestStoreHourlyReading_SameSecondFetchesAreDistinct(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.collector.FetchReading(ctx, rohini.Latitude, rohini.Longitude)
	require.NoError(t, err)
	require.NoError(t, h.collector.StoreHourlyReading(ctx, rohini, first))

	h.collector.now = func() time.Time { return testNow.Add(250 * time.Millisecond) }
	second, err := h.collector.FetchReading(ctx, rohini.Latitude, rohini.Longitude)
	require.NoError(t, err)
	require.NoError(t, h.collector.StoreHourlyReading(ctx, rohini, second))

	require.Equal(t, "2025-01-11T01:30:00.25+05:30", second.FetchedAt)

	day := time.Date(2025, 1, 11, 0, 0, 0, 0, h.collector.Location())
	readings, err := h.collector.DailyReadings(ctx, 54, day)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	require.Equal(t, 2, ComputeDailyAggregate(readings).ReadingsCount)
}

func TestStoreHourlyReading_NilIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.collector.StoreHourlyReading(context.Background(), rohini, nil))
	require.Empty(t, h.mr.Keys())
	require.Empty(t, h.publisher.readings)
}

func TestCurrentReading_Missing(t *testing.T) {
	h := newHarness(t, nil)

	r, err := h.collector.CurrentReading(context.Background(), 54)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestDailyReadings_SkipsMalformed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.collector.StoreHourlyReading(ctx, rohini, &Reading{AQI: 120}))
	h.mr.ZAdd("aqi:hourly:54:2025-01-11", 1, "{broken")
	h.mr.ZAdd("aqi:hourly:54:2025-01-11", 2, `{"pm25":40}`)

	day := time.Date(2025, 1, 11, 0, 0, 0, 0, h.collector.Location())
	readings, err := h.collector.DailyReadings(ctx, 54, day)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.Equal(t, 120.0, readings[0].AQI)
}

func TestComputeDailyAggregate_Empty(t *testing.T) {
	require.Nil(t, ComputeDailyAggregate(nil))
	require.Nil(t, ComputeDailyAggregate([]Reading{}))
}

func TestComputeDailyAggregate_Stats(t *testing.T) {
	agg := ComputeDailyAggregate([]Reading{
		{AQI: 100, PM25: ptr(50)},
		{AQI: 200, PM10: ptr(90)},
		{AQI: 150, PM25: ptr(70)},
	})

	require.NotNil(t, agg)
	require.Equal(t, 150.0, agg.AvgAQI)
	require.Equal(t, 100.0, agg.MinAQI)
	require.Equal(t, 200.0, agg.MaxAQI)
	require.Equal(t, 60.0, *agg.AvgPM25)
	require.Equal(t, 90.0, *agg.AvgPM10)
	require.Nil(t, agg.AvgNO2)
	require.Nil(t, agg.AvgO3)
	require.Equal(t, 3, agg.ReadingsCount)
}

func TestPersistDailyAggregate_Overwrites(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, h.collector.Location())

	require.NoError(t, h.collector.PersistDailyAggregate(ctx, rohini, day, &DailyAggregate{AvgAQI: 100, MinAQI: 90, MaxAQI: 110, ReadingsCount: 2}))
	require.NoError(t, h.collector.PersistDailyAggregate(ctx, rohini, day, &DailyAggregate{AvgAQI: 180, MinAQI: 150, MaxAQI: 210, ReadingsCount: 24}))

	require.Len(t, h.store.rows, 1)
	for _, row := range h.store.rows {
		require.Equal(t, 180.0, row.AvgAQI)
		require.Equal(t, 24, row.HourlyReadingsCount)
		require.Equal(t, "Rohini", row.WardName)
	}
	// publish failures do not fail the persist
	require.Len(t, h.publisher.aggregates, 2)
}

func TestRunHourlyCollection_SkipsFailingWard(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "28.6733") {
			w.Write([]byte(`{"status":"error","data":"Unknown station"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","data":{"aqi":150,"iaqi":{"pm25":{"v":80}}}}`))
	})

	report := h.collector.RunHourlyCollection(context.Background())

	require.Equal(t, 4, report.Wards)
	require.Equal(t, 3, report.Stored)
	require.Equal(t, []int{226}, report.Skipped)
	require.True(t, h.mr.Exists("aqi:hourly:133:2025-01-11:1"))
	require.False(t, h.mr.Exists("aqi:hourly:226:2025-01-11:1"))
}

func TestRunDailyAggregation_DefaultsToYesterday(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// readings land on 2025-01-11 local; move the clock a day forward
	require.NoError(t, h.collector.StoreHourlyReading(ctx, rohini, &Reading{AQI: 100}))
	require.NoError(t, h.collector.StoreHourlyReading(ctx, rohini, &Reading{AQI: 200, FetchedAt: "x"}))
	h.collector.now = func() time.Time { return testNow.Add(24 * time.Hour) }

	report := h.collector.RunDailyAggregation(ctx, time.Time{})

	require.Equal(t, "2025-01-11", report.Date)
	require.Equal(t, 1, report.Persisted)
	require.ElementsMatch(t, []int{226, 189, 133}, report.Skipped)
	require.Len(t, h.store.rows, 1)
	for _, row := range h.store.rows {
		require.Equal(t, 150.0, row.AvgAQI)
		require.Equal(t, 2, row.HourlyReadingsCount)
	}
}

func TestWards_FallsBackToStaticList(t *testing.T) {
	h := newHarness(t, nil)
	h.store.wardsErr = errors.New("connection refused")

	wards := h.collector.Wards(context.Background())
	require.Len(t, wards, 4)
	require.Equal(t, "Rohini", wards[0].Name)
}

func TestWards_PrefersDatabaseAndCaches(t *testing.T) {
	h := newHarness(t, nil)
	h.store.wards = []database.Ward{{WardNo: 7, WardName: "Karol Bagh", Quadrant: "NW", Latitude: 28.65, Longitude: 77.19, IsActive: true}}
	ctx := context.Background()

	wards := h.collector.Wards(ctx)
	require.Len(t, wards, 1)
	require.Equal(t, 7, wards[0].WardNo)

	h.collector.Wards(ctx)
	require.Equal(t, 1, h.store.wardCalls)

	h.collector.InvalidateWards()
	h.collector.Wards(ctx)
	require.Equal(t, 2, h.store.wardCalls)
}

func TestWards_ConcurrentCallersLoadOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.store.wards = []database.Ward{{WardNo: 7, WardName: "Karol Bagh", Quadrant: "NW", Latitude: 28.65, Longitude: 77.19, IsActive: true}}

	var wg sync.WaitGroup
	results := make([][]Ward, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.collector.Wards(context.Background())
		}(i)
	}
	wg.Wait()

	for _, wards := range results {
		require.Len(t, wards, 1)
	}
	require.Equal(t, 1, h.store.wardCalls)
}

func TestStaticWards_MissingFile(t *testing.T) {
	_, err := StaticWards("/nonexistent/wards.json")
	require.Error(t, err)
}

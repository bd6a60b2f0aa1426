package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, handler http.HandlerFunc) (*miniredis.Miniredis, *Cache, http.Handler) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := New(rdb, DefaultRules())
	return mr, c, c.Middleware(handler)
}

func jsonHandler(calls *atomic.Int32, status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestMiddleware_MissThenHit(t *testing.T) {
	var calls atomic.Int32
	mr, _, h := setup(t, jsonHandler(&calls, http.StatusOK, `{"aqi":150}`))

	first := get(h, "/api/aqi/feed/54")
	require.Equal(t, "MISS", first.Header().Get("X-Cache"))
	require.JSONEq(t, `{"aqi":150}`, first.Body.String())

	second := get(h, "/api/aqi/feed/54")
	require.Equal(t, "HIT", second.Header().Get("X-Cache"))
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "application/json", second.Header().Get("Content-Type"))
	require.JSONEq(t, `{"aqi":150}`, second.Body.String())

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 300*time.Second, mr.TTL(Key(httptest.NewRequest(http.MethodGet, "/api/aqi/feed/54", nil))))
}

func TestKey_QueryOrderInsensitive(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/api/aqi/daily?ward_no=54&from=2025-01-01", nil)
	b := httptest.NewRequest(http.MethodGet, "/api/aqi/daily?from=2025-01-01&ward_no=54", nil)
	c := httptest.NewRequest(http.MethodGet, "/api/aqi/daily?from=2025-01-02&ward_no=54", nil)

	require.Equal(t, Key(a), Key(b))
	require.NotEqual(t, Key(a), Key(c))
	require.Regexp(t, `^cache:api:[0-9a-f]{16}$`, Key(a))
}

func TestMiddleware_SkipsNonOKAndNonJSON(t *testing.T) {
	var calls atomic.Int32
	_, _, h := setup(t, jsonHandler(&calls, http.StatusNotFound, `{"error":"not_found"}`))

	get(h, "/api/aqi/hourly/99")
	get(h, "/api/aqi/hourly/99")
	require.Equal(t, int32(2), calls.Load())

	var textCalls atomic.Int32
	_, _, h = setup(t, jsonHandler(&textCalls, http.StatusOK, "not json"))
	get(h, "/api/aqi/wards")
	get(h, "/api/aqi/wards")
	require.Equal(t, int32(2), textCalls.Load())
}

func TestMiddleware_PassThrough(t *testing.T) {
	var calls atomic.Int32
	_, _, h := setup(t, jsonHandler(&calls, http.StatusOK, `{}`))

	rec := get(h, "/api/chat/messages")
	require.Empty(t, rec.Header().Get("X-Cache"))

	post := httptest.NewRecorder()
	h.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/api/aqi/wards", nil))
	require.Empty(t, post.Header().Get("X-Cache"))

	require.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_StoreDownFallsThrough(t *testing.T) {
	var calls atomic.Int32
	mr, _, h := setup(t, jsonHandler(&calls, http.StatusOK, `{"ok":true}`))
	mr.Close()

	rec := get(h, "/api/aqi/wards")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	require.Equal(t, int32(1), calls.Load())
}

func TestClear(t *testing.T) {
	var calls atomic.Int32
	mr, c, h := setup(t, jsonHandler(&calls, http.StatusOK, `{"ok":true}`))
	mr.Set("chat:session:u1", "keep")

	get(h, "/api/aqi/wards")
	get(h, "/api/aqi/feed/54")

	n, err := c.Clear(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, mr.Exists("chat:session:u1"))

	get(h, "/api/aqi/wards")
	require.Equal(t, int32(3), calls.Load())
}

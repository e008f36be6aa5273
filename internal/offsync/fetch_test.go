package offsync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchFixture struct {
	src     *ManualSource
	monitor *Monitor
	queue   *Queue
	fetcher *Fetcher
}

func newFetchFixture(t *testing.T, online bool) *fetchFixture {
	t.Helper()
	store := newTestStore(t)
	q, err := NewQueue(store, nil, nil)
	require.NoError(t, err)

	src := NewManualSource(online)
	m := NewMonitor(src)
	return &fetchFixture{
		src:     src,
		monitor: m,
		queue:   q,
		fetcher: NewFetcher(nil, m, q),
	}
}

func TestFetchOnlineGoesDirect(t *testing.T) {
	var gotBody string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer origin.Close()

	f := newFetchFixture(t, true)
	res, err := f.fetcher.Do(context.Background(), origin.URL+"/api/status",
		RequestOptions{Method: "POST", Body: `{"status":"dnd"}`}, true)
	require.NoError(t, err)

	assert.False(t, res.Queued)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, `{"ok":true}`, string(res.Body))
	assert.Equal(t, `{"status":"dnd"}`, gotBody)
	assert.Zero(t, f.queue.Len())
}

func TestFetchOfflineQueuesWhenOptedIn(t *testing.T) {
	f := newFetchFixture(t, false)

	res, err := f.fetcher.Do(context.Background(), "http://backend/api/status",
		RequestOptions{Method: "POST", Body: `{"status":"dnd"}`}, true)
	require.NoError(t, err)

	assert.True(t, res.Queued)
	require.Equal(t, 1, f.queue.Len())
	assert.Equal(t, "http://backend/api/status", f.queue.Items()[0].Endpoint)
}

func TestFetchOfflineWithoutOptInSeesRawError(t *testing.T) {
	f := newFetchFixture(t, false)

	// no listener on this address; the raw transport error must propagate
	_, err := f.fetcher.Do(context.Background(), "http://127.0.0.1:1/api/status",
		RequestOptions{Method: "POST"}, false)
	require.Error(t, err)
	assert.Zero(t, f.queue.Len())
}

func TestFetchRetroactiveEnqueueOnMidFlightDrop(t *testing.T) {
	f := newFetchFixture(t, true)

	// the connection drops mid-flight and the reachability signal flips
	// offline before the transport error surfaces
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.src.online.Store(false)
		f.monitor.set(false)
		panic(http.ErrAbortHandler)
	}))
	defer origin.Close()

	res, err := f.fetcher.Do(context.Background(), origin.URL+"/api/status",
		RequestOptions{Method: "POST", Body: `{"status":"dnd"}`}, true)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, 1, f.queue.Len())
}

func TestFetchHTTPErrorStatusIsNotQueued(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer origin.Close()

	f := newFetchFixture(t, true)
	res, err := f.fetcher.Do(context.Background(), origin.URL+"/api/status",
		RequestOptions{Method: "POST"}, true)
	require.NoError(t, err)

	// HTTP error statuses are a raw result, not a transport failure
	assert.False(t, res.Queued)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Zero(t, f.queue.Len())
}

func TestQueueDrainWithFetcherReplay(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	fail := true
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		if fail {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		bodies = append(bodies, string(b))
	}))
	defer origin.Close()

	f := newFetchFixture(t, false)
	_, err := f.fetcher.Do(context.Background(), origin.URL+"/api/status",
		RequestOptions{Method: "POST", Body: `{"status":"dnd"}`}, true)
	require.NoError(t, err)

	// replay against a failing origin retains the entry
	replayed, remaining := f.queue.Drain(context.Background(), f.fetcher.Replay)
	assert.Zero(t, replayed)
	assert.Equal(t, 1, remaining)

	mu.Lock()
	fail = false
	mu.Unlock()

	replayed, remaining = f.queue.Drain(context.Background(), f.fetcher.Replay)
	assert.Equal(t, 1, replayed)
	assert.Zero(t, remaining)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Equal(t, `{"status":"dnd"}`, bodies[0])
}

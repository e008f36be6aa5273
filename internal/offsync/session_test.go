package offsync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRecordQueuesWhileOffline(t *testing.T) {
	f := newFetchFixture(t, false)
	store := newTestStore(t)
	logbook := NewSessionLog(store, f.fetcher, "http://backend/api/sessions")

	sum := SessionSummary{StartedAt: 1000, CompletedAt: 61000, DurationSec: 60}
	res, err := logbook.Record(context.Background(), sum)
	require.NoError(t, err)
	assert.True(t, res.Queued)

	// exactly one pending mutation carrying the summary
	items := f.queue.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "http://backend/api/sessions", items[0].Endpoint)

	var queued SessionSummary
	require.NoError(t, json.Unmarshal([]byte(items[0].Options.Body), &queued))
	assert.Equal(t, sum, queued)

	// locally persisted regardless of connectivity
	list, err := logbook.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sum, list[0])
}

func TestSessionRecordWithoutEndpointOnlyPersists(t *testing.T) {
	f := newFetchFixture(t, true)
	store := newTestStore(t)
	logbook := NewSessionLog(store, f.fetcher, "")

	res, err := logbook.Record(context.Background(), SessionSummary{CompletedAt: 42})
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Zero(t, f.queue.Len())

	list, err := logbook.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

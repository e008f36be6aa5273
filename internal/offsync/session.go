package offsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// SessionLog persists completed countdown sessions and pushes them to the
// backend through the synchronized fetch façade. Summaries are only ever
// written after completion; in-flight timer state is never stored.
type SessionLog struct {
	store    *Store
	fetcher  *Fetcher
	endpoint string
}

func NewSessionLog(store *Store, fetcher *Fetcher, endpoint string) *SessionLog {
	return &SessionLog{store: store, fetcher: fetcher, endpoint: endpoint}
}

func sessionKey(sum SessionSummary) string {
	return fmt.Sprintf("session.%d", sum.CompletedAt)
}

// Record saves the summary locally and, when a sessions endpoint is
// configured, syncs it with queuing opted in, so a session completed
// offline becomes a pending mutation rather than a lost write.
func (l *SessionLog) Record(ctx context.Context, sum SessionSummary) (Result, error) {
	if err := l.store.Save(sessionKey(sum), sum); err != nil {
		return Result{}, err
	}
	if l.endpoint == "" || l.fetcher == nil {
		return Result{}, nil
	}

	body, err := json.Marshal(sum)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	res, err := l.fetcher.Do(ctx, l.endpoint, RequestOptions{
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(body),
	}, true)
	if err != nil {
		return Result{}, err
	}
	if res.Queued {
		log.Printf("session: sync queued until reconnect")
	}
	return res, nil
}

// List returns all recorded summaries in completion order.
func (l *SessionLog) List() ([]SessionSummary, error) {
	keys, err := l.store.Keys("session.")
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(keys))
	for _, k := range keys {
		var sum SessionSummary
		ok, err := l.store.Get(k, &sum)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sum)
		}
	}
	return out, nil
}

package offsync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Fetcher is the synchronized fetch façade: the one entry point feature
// code uses for mutating backend calls. While offline it queues opted-in
// calls instead of failing them.
type Fetcher struct {
	client  *http.Client
	monitor *Monitor
	queue   *Queue
}

func NewFetcher(client *http.Client, monitor *Monitor, queue *Queue) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, monitor: monitor, queue: queue}
}

// Do performs the mutation described by endpoint and opts.
//
// Offline with queueIfOffline set: the call is enqueued and the result
// carries Queued=true, success-pending rather than a failure. Online: the call
// goes straight out; a transport-level error (not an HTTP error status)
// is retroactively enqueued if the reachability signal flipped offline
// mid-flight and the caller opted in, otherwise it propagates. Callers
// that did not opt in always see the raw result or error.
func (f *Fetcher) Do(ctx context.Context, endpoint string, opts RequestOptions, queueIfOffline bool) (Result, error) {
	if !f.monitor.Online() && queueIfOffline {
		return f.enqueue(endpoint, opts)
	}

	resp, body, err := f.attempt(ctx, endpoint, opts)
	if err != nil {
		if queueIfOffline && !f.monitor.Online() {
			return f.enqueue(endpoint, opts)
		}
		return Result{}, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	return Result{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (f *Fetcher) enqueue(endpoint string, opts RequestOptions) (Result, error) {
	if _, err := f.queue.Enqueue(endpoint, opts); err != nil {
		return Result{}, err
	}
	return Result{Queued: true}, nil
}

func (f *Fetcher) attempt(ctx context.Context, endpoint string, opts RequestOptions) (*http.Response, []byte, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}
	var rd io.Reader
	if opts.Body != "" {
		rd = strings.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// Replay adapts the façade's network attempt to the queue's drain
// contract: only a 2xx response confirms removal.
func (f *Fetcher) Replay(ctx context.Context, qr QueuedRequest) error {
	resp, _, err := f.attempt(ctx, qr.Endpoint, qr.Options)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

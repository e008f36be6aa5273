package offsync

import "net/http"

// CacheEntry is one cached asset response inside a generation bucket.
type CacheEntry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
	Hash32   uint32
}

// RequestOptions is the opaque options bag for a backend mutation. The
// façade and queue never interpret the body.
type RequestOptions struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// QueuedRequest is one pending mutating call awaiting network
// availability. The payload fields are immutable once queued; Attempts is
// replay bookkeeping only.
type QueuedRequest struct {
	ID        string         `json:"id"`
	Endpoint  string         `json:"endpoint"`
	Options   RequestOptions `json:"options"`
	CreatedAt int64          `json:"createdAt"` // unix milliseconds
	Attempts  int            `json:"attempts"`
}

// Result is what the synchronized fetch façade resolves with. Queued means
// the call was accepted for later replay; callers must treat it as
// success-pending, never as a failure.
type Result struct {
	Queued bool
	Status int
	Header http.Header
	Body   []byte
}

// SessionSummary is persisted after a countdown session completes.
// Timer state itself is never persisted mid-flight.
type SessionSummary struct {
	StartedAt   int64 `json:"startedAt"`   // unix milliseconds
	CompletedAt int64 `json:"completedAt"` // unix milliseconds
	DurationSec int64 `json:"durationSec"`
}

package offsync

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/time/rate"
)

const bucketPrefix = "b:"

// AssetCache manages generational buckets of cached static responses and
// the stale-while-revalidate update path. A bucket is a leveldb key range
// b:<bucket>:<path>; exactly one bucket (the current manifest version) is
// live after Activate.
type AssetCache struct {
	db         *leveldb.DB
	origin     string
	httpClient *http.Client

	mu       sync.Mutex
	manifest AssetManifest
	live     string // bucket Match serves from; trails manifest until install succeeds

	// background revalidation
	reval  *rate.Limiter
	bgSem  chan struct{}
	wg     sync.WaitGroup
	stopCh chan struct{}

	stats  *statsCollector
	putLog *rateLimitedLogger
}

func newAssetCache(db *leveldb.DB, origin string, client *http.Client, manifest AssetManifest, stats *statsCollector) *AssetCache {
	return &AssetCache{
		db:         db,
		origin:     origin,
		httpClient: client,
		manifest:   manifest,
		live:       manifest.BucketName(),
		reval:      rate.NewLimiter(rate.Limit(10), 20),
		bgSem:      make(chan struct{}, 16),
		stopCh:     make(chan struct{}),
		stats:      stats,
		putLog:     newRateLimitedLogger(time.Minute),
	}
}

func (c *AssetCache) close() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *AssetCache) currentManifest() AssetManifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manifest
}

func (c *AssetCache) bucket() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// FallBackToNewestBucket points Match at the newest bucket already on
// disk. Used when starting offline: the new generation cannot install
// yet, so the previous one keeps serving until reconnect.
func (c *AssetCache) FallBackToNewestBucket() bool {
	names, err := c.Buckets()
	if err != nil || len(names) == 0 {
		return false
	}
	c.mu.Lock()
	c.live = names[len(names)-1]
	c.mu.Unlock()
	log.Printf("assets: serving existing bucket %s until install", names[len(names)-1])
	return true
}

func entryKey(bucket, path string) []byte {
	return []byte(bucketPrefix + bucket + ":" + path)
}

// Install populates the manifest's bucket in three waves. Every critical
// asset must fetch and store successfully or Install fails; secondary
// failures are logged per item; optional failures are silent.
func (c *AssetCache) Install(ctx context.Context, m AssetManifest) error {
	bucket := m.BucketName()

	for _, path := range m.Critical {
		if err := c.fetchAndPut(ctx, bucket, path); err != nil {
			return fmt.Errorf("install %s: critical asset %s: %w", bucket, path, err)
		}
	}
	for _, path := range m.Secondary {
		if err := c.fetchAndPut(ctx, bucket, path); err != nil {
			log.Printf("install %s: secondary asset %s: %v", bucket, path, err)
		}
	}
	for _, path := range m.Optional {
		// fail silently per item
		_ = c.fetchAndPut(ctx, bucket, path)
	}

	c.mu.Lock()
	c.manifest = m
	c.live = bucket
	c.mu.Unlock()

	log.Printf("install %s: %d critical, %d secondary, %d optional",
		bucket, len(m.Critical), len(m.Secondary), len(m.Optional))
	return nil
}

// Activate deletes every bucket whose name differs from the current
// manifest's. This is the only eviction policy: whole generations, never
// individual entries.
func (c *AssetCache) Activate() error {
	keep := c.bucket()

	it := c.db.NewIterator(util.BytesPrefix([]byte(bucketPrefix)), nil)
	defer it.Release()

	stale := 0
	batch := new(leveldb.Batch)
	for it.Next() {
		name, ok := bucketOf(it.Key())
		if !ok || name == keep {
			continue
		}
		batch.Delete(append([]byte(nil), it.Key()...))
		stale++
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("%w: activate scan: %v", ErrStorage, err)
	}
	if stale > 0 {
		if err := c.db.Write(batch, nil); err != nil {
			return fmt.Errorf("%w: activate purge: %v", ErrStorage, err)
		}
	}
	log.Printf("activate %s: purged %d stale entries", keep, stale)
	return nil
}

func bucketOf(key []byte) (string, bool) {
	rest := strings.TrimPrefix(string(key), bucketPrefix)
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return "", false
	}
	return rest[:i], true
}

// Buckets lists the distinct bucket names present on disk.
func (c *AssetCache) Buckets() ([]string, error) {
	it := c.db.NewIterator(util.BytesPrefix([]byte(bucketPrefix)), nil)
	defer it.Release()

	seen := map[string]struct{}{}
	for it.Next() {
		if name, ok := bucketOf(it.Key()); ok {
			seen[name] = struct{}{}
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("%w: bucket scan: %v", ErrStorage, err)
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Match looks up a request key (path plus any query string) in the
// current bucket. Absence is a normal outcome, not an error.
func (c *AssetCache) Match(key string) (CacheEntry, bool) {
	raw, err := c.db.Get(entryKey(c.bucket(), key), nil)
	if err != nil {
		return CacheEntry{}, false
	}
	var ent CacheEntry
	if err := decodeGob(raw, &ent); err != nil {
		return CacheEntry{}, false
	}
	return ent, true
}

func (c *AssetCache) put(bucket, path string, ent CacheEntry) error {
	buf, err := encodeGob(ent)
	if err != nil {
		return err
	}
	if err := c.db.Put(entryKey(bucket, path), buf, nil); err != nil {
		return fmt.Errorf("%w: cache put %s: %v", ErrStorage, path, err)
	}
	return nil
}

func (c *AssetCache) fetchAndPut(ctx context.Context, bucket, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.origin+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	ent := newEntry(resp, body)
	if !cacheableResponse(resp) {
		return fmt.Errorf("not cacheable: status %d", resp.StatusCode)
	}
	return c.put(bucket, path, ent)
}

func newEntry(resp *http.Response, body []byte) CacheEntry {
	ent := CacheEntry{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().Unix(),
		Hash32:   crc32.ChecksumIEEE(body),
	}
	ent.Header.Del("Content-Length")
	return ent
}

// cacheableResponse is the single gate for writing a response into a
// bucket: 200 only, never credentialed, and origin opt-outs respected.
func cacheableResponse(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(resp.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	if resp.Header.Get("Authorization") != "" {
		return false
	}
	cc := strings.ToLower(resp.Header.Get("Cache-Control"))
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "no-cache") {
		return false
	}
	return true
}

// CacheFromResponse stores a just-fetched response under its request key
// if it passes the cacheability gate. Used on the miss path.
func (c *AssetCache) CacheFromResponse(key string, resp *http.Response, body []byte) {
	if !cacheableResponse(resp) {
		return
	}
	if err := c.put(c.bucket(), key, newEntry(resp, body)); err != nil {
		c.putLog.Printf("cache put %s: %v", key, err)
	}
}

// RevalidateAsync refreshes a served-stale entry in the background. The
// detached task's failure can never surface to the caller that got the
// cached response; at worst the entry stays stale until the next request.
func (c *AssetCache) RevalidateAsync(key string) {
	if !c.reval.Allow() {
		return
	}
	select {
	case c.bgSem <- struct{}{}:
	default:
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.bgSem }()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.revalidateOnce(ctx, key)
	}()
}

func (c *AssetCache) revalidateOnce(ctx context.Context, key string) {
	select {
	case <-c.stopCh:
		return
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.origin+key, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if !cacheableResponse(resp) {
		return
	}

	newEnt := newEntry(resp, body)
	if cur, ok := c.Match(key); ok && cur.Hash32 == newEnt.Hash32 {
		return
	}
	if err := c.put(c.bucket(), key, newEnt); err != nil {
		c.putLog.Printf("revalidate put %s: %v", key, err)
		return
	}
	c.stats.revalidates.Add(1)
}

// Shell returns the cached app-shell document for navigation fallback.
func (c *AssetCache) Shell() (CacheEntry, bool) {
	return c.Match(c.currentManifest().Shell)
}

func encodeGob(ent CacheEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, out *CacheEntry) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(out)
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

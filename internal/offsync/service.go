package offsync

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/time/rate"
)

// Service wires the sync core together: store, asset cache, connectivity
// monitor, queue and façade, plus the HTTP handler that applies the
// fetch-routing rules in front of the origin.
type Service struct {
	cfg Config

	db      *leveldb.DB
	store   *Store
	assets  *AssetCache
	monitor *Monitor
	queue   *Queue
	fetcher *Fetcher
	session *SessionLog

	ownProbe *ProbeSource

	httpClient *http.Client

	stats          *statsCollector
	installPending atomic.Bool

	// manifestMu guards cfg.Assets: the manifest watcher replaces it while
	// the reconnect goroutine may be reading it for a deferred install.
	manifestMu sync.Mutex

	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func (s *Service) targetManifest() AssetManifest {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()
	return s.cfg.Assets
}

func (s *Service) setTargetManifest(m AssetManifest) {
	s.manifestMu.Lock()
	s.cfg.Assets = m
	s.manifestMu.Unlock()
}

func (s *Service) installAndActivate(ctx context.Context) error {
	if err := s.assets.Install(ctx, s.targetManifest()); err != nil {
		return err
	}
	return s.assets.Activate()
}

// installIfPending retries a startup-deferred install. Activation (and the
// purge of older generations) only happens once the new generation is
// fully installed.
func (s *Service) installIfPending(ctx context.Context) {
	if !s.installPending.Load() {
		return
	}
	if err := s.installAndActivate(ctx); err != nil {
		log.Printf("install %s: retry failed: %v", s.targetManifest().BucketName(), err)
		return
	}
	s.installPending.Store(false)
}

// NewService builds the core from config, constructing the configured
// reachability probe. Install+Activate of the manifest generation runs
// before the service is returned; a failed critical wave fails startup.
func NewService(cfg Config) (*Service, error) {
	var src Source
	var probe *ProbeSource
	switch cfg.Connectivity.Probe {
	case "dns":
		probe = NewDNSSource(cfg.Connectivity.Resolver, cfg.Connectivity.Host, cfg.Connectivity.everyDur)
	case "manual":
		src = NewManualSource(true)
	default:
		probe = NewHTTPSource(cfg.Connectivity.URL, cfg.Connectivity.everyDur)
	}
	if probe != nil {
		src = probe
	}

	svc, err := NewServiceWithSource(cfg, src)
	if err != nil {
		return nil, err
	}
	svc.ownProbe = probe
	if probe != nil {
		probe.Start()
	}
	return svc, nil
}

// NewServiceWithSource is NewService with an injected reachability source,
// the seam tests and embedders use to simulate transitions.
func NewServiceWithSource(cfg Config, src Source) (*Service, error) {
	if cfg.Queue.ReplayPerSec <= 0 {
		cfg.Queue.ReplayPerSec = 5
	}
	if cfg.Queue.ReplayBurst <= 0 {
		cfg.Queue.ReplayBurst = 5
	}
	if cfg.Assets.Shell == "" {
		cfg.Assets.Shell = "/index.html"
	}

	db, err := leveldb.OpenFile(cfg.Storage.Path, nil)
	if err != nil {
		return nil, err
	}

	stats := newStatsCollector()
	httpClient := &http.Client{Timeout: 30 * time.Second}
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:        cfg,
		db:         db,
		store:      NewStoreWithDB(db, cfg.Storage.maxValueBytes),
		monitor:    NewMonitor(src),
		httpClient: httpClient,
		stats:      stats,
		baseCtx:    baseCtx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}
	s.assets = newAssetCache(db, cfg.Server.Origin, httpClient, cfg.Assets, stats)

	limiter := rate.NewLimiter(rate.Limit(cfg.Queue.ReplayPerSec), cfg.Queue.ReplayBurst)
	s.queue, err = NewQueue(s.store, limiter, stats)
	if err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}
	s.fetcher = NewFetcher(httpClient, s.monitor, s.queue)
	s.session = NewSessionLog(s.store, s.fetcher, cfg.Sessions.Endpoint)

	s.monitor.OnReconnect(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// derived from baseCtx so Close aborts an in-flight replay
			ctx, cancel := context.WithTimeout(s.baseCtx, 2*time.Minute)
			defer cancel()
			s.installIfPending(ctx)
			s.queue.Drain(ctx, s.fetcher.Replay)
		}()
	})

	if s.monitor.Online() {
		installCtx, installCancel := context.WithTimeout(s.baseCtx, 2*time.Minute)
		err = s.installAndActivate(installCtx)
		installCancel()
		if err != nil {
			cancel()
			_ = db.Close()
			return nil, err
		}
	} else {
		// Starting offline: the new generation cannot install. Keep the
		// previous one serving and retry on reconnect.
		log.Printf("install %s: deferred, starting offline", cfg.Assets.BucketName())
		s.assets.FallBackToNewestBucket()
		s.installPending.Store(true)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(src, s.stopCh)
	}()

	if cfg.Logging.logStatsEveryDur > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.logStatsEveryDur)
		}()
	}

	return s, nil
}

func (s *Service) Close() {
	close(s.stopCh)
	s.cancel()
	if s.ownProbe != nil {
		s.ownProbe.Stop()
	}
	s.wg.Wait()
	s.assets.close()
	_ = s.db.Close()
}

func (s *Service) Store() *Store         { return s.store }
func (s *Service) Assets() *AssetCache   { return s.assets }
func (s *Service) Monitor() *Monitor     { return s.monitor }
func (s *Service) Queue() *Queue         { return s.queue }
func (s *Service) Fetcher() *Fetcher     { return s.fetcher }
func (s *Service) Sessions() *SessionLog { return s.session }

func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// handle applies the fetch-routing rules:
//
//	non-GET                -> pass through
//	API path prefix        -> network only, synthetic 503 JSON on failure
//	Authorization header   -> network only, never cached
//	anything else (GET)    -> cache-first with background revalidation,
//	                          shell fallback for failed navigations
func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.passThrough(w, r)
		return
	}

	if s.isAPIPath(r.URL.Path) {
		s.networkOnly(w, r, true)
		return
	}
	if r.Header.Get("Authorization") != "" {
		// credentialed requests never touch the cache
		s.networkOnly(w, r, false)
		return
	}

	// Entries are keyed by path plus query so URLs differing only in
	// query string never share a cached body.
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}

	if ent, ok := s.assets.Match(key); ok {
		s.stats.cacheHits.Add(1)
		writeEntry(w, ent, "hit")
		s.assets.RevalidateAsync(key)
		return
	}

	s.stats.cacheMisses.Add(1)
	resp, body, err := s.fetchOrigin(r)
	if err != nil {
		if isNavigation(r) {
			if shell, ok := s.assets.Shell(); ok {
				s.stats.shellServes.Add(1)
				writeEntry(w, shell, "shell")
				return
			}
		}
		setRouteHeader(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	s.assets.CacheFromResponse(key, resp, body)
	writeResponse(w, resp, body, "miss")
}

func (s *Service) isAPIPath(path string) bool {
	for _, p := range s.cfg.API.Prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// networkOnly proxies without ever consulting or writing the cache.
// syntheticFallback selects the API-style 503 JSON body on failure.
func (s *Service) networkOnly(w http.ResponseWriter, r *http.Request, syntheticFallback bool) {
	s.stats.networkOnly.Add(1)
	resp, body, err := s.fetchOrigin(r)
	if err != nil {
		if syntheticFallback {
			setRouteHeader(w.Header(), "offline")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"offline","queued":false}`))
			return
		}
		setRouteHeader(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeResponse(w, resp, body, "network")
}

func (s *Service) passThrough(w http.ResponseWriter, r *http.Request) {
	s.stats.passThrough.Add(1)

	var rd io.Reader
	if r.Body != nil {
		rd = r.Body
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, s.cfg.Server.Origin+r.URL.RequestURI(), rd)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		setRouteHeader(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		setRouteHeader(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeResponse(w, resp, body, "pass")
}

func (s *Service) fetchOrigin(r *http.Request) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.cfg.Server.Origin+r.URL.RequestURI(), nil)
	if err != nil {
		return nil, nil, err
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.httpClient.Do(req)
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

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeEntry(w http.ResponseWriter, ent CacheEntry, route string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, "x-offsync") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setRouteHeader(w.Header(), route)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func writeResponse(w http.ResponseWriter, resp *http.Response, body []byte, route string) {
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "x-offsync") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setRouteHeader(w.Header(), route)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

func setRouteHeader(h http.Header, route string) {
	if route != "" {
		h.Set("X-Offsync", route)
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			line := "stats: hits=%d misses=%d network=%d pass=%d shell=%d reval=%d queued=%d replayed=%d replayFailed=%d pending=%d"
			args := []any{
				ss.CacheHits, ss.CacheMisses, ss.NetworkOnly, ss.PassThrough,
				ss.ShellServes, ss.Revalidates, ss.Enqueued, ss.Replayed,
				ss.ReplayFailed, s.queue.Len(),
			}
			if rss, ok := processRSSBytes(); ok {
				line += " rss=%s"
				args = append(args, formatBytes(rss))
			}
			log.Printf(line, args...)
		}
	}
}

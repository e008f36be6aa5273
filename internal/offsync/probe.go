package offsync

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// ManualSource is a reachability source driven by explicit Set calls.
// Used by tests and by deployments that feed connectivity from outside.
type ManualSource struct {
	online atomic.Bool
	ch     chan bool
}

func NewManualSource(online bool) *ManualSource {
	s := &ManualSource{ch: make(chan bool, 8)}
	s.online.Store(online)
	return s
}

func (s *ManualSource) Online() bool        { return s.online.Load() }
func (s *ManualSource) Events() <-chan bool { return s.ch }

func (s *ManualSource) Set(online bool) {
	s.online.Store(online)
	s.ch <- online
}

// ProbeSource polls a check function on a fixed cadence and pushes every
// result; the monitor deduplicates non-transitions. The first check runs
// synchronously in the constructor so Online is meaningful immediately.
type ProbeSource struct {
	check    func(ctx context.Context) bool
	interval time.Duration
	online   atomic.Bool
	ch       chan bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newProbeSource(check func(ctx context.Context) bool, interval time.Duration) *ProbeSource {
	s := &ProbeSource{
		check:    check,
		interval: interval,
		ch:       make(chan bool, 8),
		stopCh:   make(chan struct{}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), interval)
	s.online.Store(check(ctx))
	cancel()
	return s
}

// NewDNSSource reports online while an A lookup for host against resolver
// succeeds. resolver is host:port, e.g. "1.1.1.1:53".
func NewDNSSource(resolver, host string, interval time.Duration) *ProbeSource {
	client := &dns.Client{Timeout: 2 * time.Second}
	check := func(ctx context.Context) bool {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
		_, _, err := client.ExchangeContext(ctx, msg, resolver)
		return err == nil
	}
	return newProbeSource(check, interval)
}

// NewHTTPSource reports online while a HEAD against url gets any response.
func NewHTTPSource(url string, interval time.Duration) *ProbeSource {
	client := &http.Client{Timeout: 3 * time.Second}
	check := func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
	return newProbeSource(check, interval)
}

func (s *ProbeSource) Online() bool        { return s.online.Load() }
func (s *ProbeSource) Events() <-chan bool { return s.ch }

func (s *ProbeSource) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				online := s.check(ctx)
				cancel()
				s.online.Store(online)
				select {
				case s.ch <- online:
				default:
					// monitor is behind; it will catch the next edge
				}
			}
		}
	}()
}

func (s *ProbeSource) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

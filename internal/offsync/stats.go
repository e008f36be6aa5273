package offsync

import "sync/atomic"

// statsCollector counts routing and queue outcomes for the periodic stats
// line. All counters are monotonic for the life of the process.
type statsCollector struct {
	cacheHits    atomic.Uint64
	cacheMisses  atomic.Uint64
	networkOnly  atomic.Uint64
	passThrough  atomic.Uint64
	shellServes  atomic.Uint64
	revalidates  atomic.Uint64
	enqueued     atomic.Uint64
	replayed     atomic.Uint64
	replayFailed atomic.Uint64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{}
}

type statsSnapshot struct {
	CacheHits    uint64
	CacheMisses  uint64
	NetworkOnly  uint64
	PassThrough  uint64
	ShellServes  uint64
	Revalidates  uint64
	Enqueued     uint64
	Replayed     uint64
	ReplayFailed uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	return statsSnapshot{
		CacheHits:    s.cacheHits.Load(),
		CacheMisses:  s.cacheMisses.Load(),
		NetworkOnly:  s.networkOnly.Load(),
		PassThrough:  s.passThrough.Load(),
		ShellServes:  s.shellServes.Load(),
		Revalidates:  s.revalidates.Load(),
		Enqueued:     s.enqueued.Load(),
		Replayed:     s.replayed.Load(),
		ReplayFailed: s.replayFailed.Load(),
	}
}

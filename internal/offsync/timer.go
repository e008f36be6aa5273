package offsync

import (
	"sync"
	"time"
)

// TimerState is the externally visible countdown state. It lives only in
// memory; a new run destroys and recreates it.
type TimerState struct {
	IsRunning     bool
	IsPaused      bool
	Elapsed       time.Duration
	Remaining     time.Duration
	TotalDuration time.Duration
}

// Timer is a countdown driven by a cooperative frame loop rather than a
// fixed one-second ticker: each frame measures the wall-clock delta, so a
// starved loop (the analog of a backgrounded tab) recovers with a single
// catch-up tick instead of drifting.
type Timer struct {
	mu sync.Mutex

	running bool
	paused  bool
	total   time.Duration
	elapsed time.Duration

	frame      time.Duration
	lastFrame  time.Time
	tickedSecs int64

	onTick     func(remaining time.Duration)
	onComplete func()

	stopCh chan struct{}
	wg     sync.WaitGroup
}

const defaultFrame = 100 * time.Millisecond

func NewTimer() *Timer {
	return &Timer{frame: defaultFrame}
}

// Start begins a fresh countdown, tearing down any run in progress.
// onTick fires at second granularity with the remaining duration; the
// frame loop is torn down before the single onComplete call.
func (t *Timer) Start(d time.Duration, onTick func(time.Duration), onComplete func()) error {
	if d <= 0 {
		return ErrNonPositiveDuration
	}

	t.Stop()

	t.mu.Lock()
	t.running = true
	t.paused = false
	t.total = d
	t.elapsed = 0
	t.tickedSecs = 0
	t.lastFrame = time.Now()
	t.onTick = onTick
	t.onComplete = onComplete
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()

	t.wg.Add(1)
	go t.loop(stopCh)
	return nil
}

func (t *Timer) loop(stopCh chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.frame)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			if done := t.frameStep(now); done {
				return
			}
		}
	}
}

// frameStep advances elapsed by the wall-clock delta and emits at most one
// tick per frame. Returns true when the countdown completed; completion
// resets the timer to idle before onComplete runs, so exactly one
// completion callback fires per run.
func (t *Timer) frameStep(now time.Time) bool {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return true
	}
	if t.paused {
		t.lastFrame = now
		t.mu.Unlock()
		return false
	}

	t.elapsed += now.Sub(t.lastFrame)
	t.lastFrame = now
	if t.elapsed > t.total {
		t.elapsed = t.total
	}

	var (
		tick     func(time.Duration)
		tickWith time.Duration
		complete func()
	)
	if t.elapsed >= t.total {
		tick = t.onTick
		tickWith = 0
		complete = t.onComplete
		t.running = false
		t.paused = false
		t.onTick = nil
		t.onComplete = nil
	} else if secs := int64(t.elapsed / time.Second); secs > t.tickedSecs {
		// single catch-up tick even if several seconds passed
		t.tickedSecs = secs
		tick = t.onTick
		tickWith = t.total - t.elapsed
	}
	t.mu.Unlock()

	if tick != nil {
		tick(tickWith)
	}
	if complete != nil {
		complete()
		return true
	}
	return false
}

// Pause reports false (not an error) if the timer is not running or is
// already paused.
func (t *Timer) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.paused {
		return false
	}
	t.paused = true
	return true
}

// Resume reports false if the timer is not in the paused state.
func (t *Timer) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || !t.paused {
		return false
	}
	t.paused = false
	t.lastFrame = time.Now()
	return true
}

// Stop always succeeds and resets to idle. No completion callback fires.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.paused = false
	t.onTick = nil
	t.onComplete = nil
	stopCh := t.stopCh
	t.stopCh = nil
	t.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	t.wg.Wait()
}

func (t *Timer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TimerState{
		IsRunning:     t.running,
		IsPaused:      t.paused,
		Elapsed:       t.elapsed,
		Remaining:     t.total - t.elapsed,
		TotalDuration: t.total,
	}
}

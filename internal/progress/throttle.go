package progress

import "sync"

// DefaultThreshold is the percentage a transfer must advance before the
// callback fires again.
const DefaultThreshold = 1.0

// Func receives progress for one named transfer: the expected total and
// the bytes written since the previous call.
type Func func(name string, total, delta int64)

// Throttle forwards progress to a Func at most once per Threshold percent.
// Reaching the total always flushes the remainder. A transfer of unknown
// size (total <= 0) is never reported.
type Throttle struct {
	name      string
	total     int64
	threshold float64
	fn        Func

	mu          sync.Mutex
	written     int64
	reported    int64
	lastPercent float64
}

// NewThrottle creates a throttle for a transfer of total bytes. With a nil
// fn it only counts.
func NewThrottle(name string, total int64, threshold float64, fn Func) *Throttle {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Throttle{name: name, total: total, threshold: threshold, fn: fn}
}

// Add records n transferred bytes.
func (t *Throttle) Add(n int64) {
	if n <= 0 {
		return
	}

	t.mu.Lock()
	t.written += n
	if t.fn == nil || t.total <= 0 {
		t.mu.Unlock()
		return
	}
	percent := float64(t.written) / float64(t.total) * 100
	if percent > 100 {
		percent = 100
	}
	done := t.written >= t.total && t.written > t.reported
	if !done && percent-t.lastPercent <= t.threshold {
		t.mu.Unlock()
		return
	}
	delta := t.written - t.reported
	t.reported = t.written
	t.lastPercent = percent
	t.mu.Unlock()

	t.fn(t.name, t.total, delta)
}

// Write implements io.Writer so a Throttle can sit in an io.MultiWriter.
func (t *Throttle) Write(p []byte) (int, error) {
	t.Add(int64(len(p)))
	return len(p), nil
}

// Written returns the bytes recorded so far.
func (t *Throttle) Written() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// Reset forgets all progress, for a transfer that restarts from zero.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = 0
	t.reported = 0
	t.lastPercent = 0
}

// Rollback withdraws everything reported so far with a negative delta and
// resets the throttle, for an attempt whose bytes were discarded.
func (t *Throttle) Rollback() {
	t.mu.Lock()
	reported := t.reported
	t.written = 0
	t.reported = 0
	t.lastPercent = 0
	t.mu.Unlock()

	if t.fn != nil && reported > 0 {
		t.fn(t.name, t.total, -reported)
	}
}

package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// Tasks is the number of transfers in the batch.
	Tasks int

	// Workers is the number of parallel workers (for display).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 2s
	UpdateInterval time.Duration
}

// Reporter prints aggregate progress for a batch of transfers.
type Reporter struct {
	opts Options

	bytes    atomic.Int64
	running  atomic.Int32
	done     atomic.Int32
	failed   atomic.Int32
	finished chan struct{}

	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	started    bool
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 2 * time.Second
	}

	return &Reporter{
		opts:     opts,
		stopCh:   make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.started = true
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[sceneslurp] Downloading %d products with %d workers\n", r.opts.Tasks, r.opts.Workers)

	go r.updateLoop()
}

// Stop ends periodic updates and prints the summary. It is safe to call
// more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.finished
	}
}

// TaskStarted marks a transfer as running.
func (r *Reporter) TaskStarted() {
	r.running.Add(1)
}

// TaskFinished marks a running transfer as done.
func (r *Reporter) TaskFinished(success bool) {
	r.running.Add(-1)
	r.done.Add(1)
	if !success {
		r.failed.Add(1)
	}
}

// BytesWritten adds n transferred bytes.
func (r *Reporter) BytesWritten(n int64) {
	r.bytes.Add(n)
}

// Func returns a callback that feeds per-transfer deltas into the reporter.
func (r *Reporter) Func() Func {
	return func(_ string, _, delta int64) {
		r.BytesWritten(delta)
	}
}

func (r *Reporter) updateLoop() {
	defer close(r.finished)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printSummary()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	written := r.bytes.Load()

	r.mu.Lock()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(written-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = written
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[sceneslurp] Tasks: %d/%d done | %d failed | %d running | %s | Speed: %s/s\n",
		r.done.Load(),
		r.opts.Tasks,
		r.failed.Load(),
		r.running.Load(),
		FormatBytes(written),
		FormatBytes(int64(speed)),
	)
}

func (r *Reporter) printSummary() {
	r.mu.Lock()
	duration := time.Since(r.startTime)
	r.mu.Unlock()

	done := r.done.Load()
	failed := r.failed.Load()
	fmt.Fprintf(r.opts.Output, "[sceneslurp] Finished %d tasks (%d ok, %d failed) | %s in %s\n",
		done,
		done-failed,
		failed,
		FormatBytes(r.bytes.Load()),
		formatDuration(duration),
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm %ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// FormatBytes formats b with IEC units ("256 MiB").
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable size. IEC suffixes ("256MiB") are
// powers of 1024, SI suffixes ("1MB") powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string %q: %w", s, err)
	}
	if n > 1<<63-1 {
		return 0, fmt.Errorf("byte string %q overflows", s)
	}
	return int64(n), nil
}

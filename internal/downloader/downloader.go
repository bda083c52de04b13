package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ligustah/sceneslurp/internal/catalog"
	acqhttp "github.com/ligustah/sceneslurp/internal/http"
	"github.com/ligustah/sceneslurp/internal/progress"
	"github.com/ligustah/sceneslurp/internal/retry"
)

// Status messages.
const (
	MessageSuccess       = "Download successful"
	MessageAlreadyExists = "Requested file to download already exists"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// URLResolver turns a product and format into a short-lived download URL.
// *catalog.Client and *order.Resolver implement it.
type URLResolver interface {
	ResolveURL(ctx context.Context, p catalog.Product, format string) (string, error)
}

// Task describes one file to retrieve.
type Task struct {
	Product catalog.Product
	Format  string

	// Dir is the destination directory. It is created if missing.
	Dir string

	// FileName overrides the derived name for formats without a naming
	// rule.
	FileName string

	// Progress receives throttled updates for this transfer.
	Progress progress.Func
}

// TaskStatus is the outcome of a Task. Path holds the written file on
// success.
type TaskStatus struct {
	Success  bool
	Message  string
	Path     string
	EntityID string
	Format   string
	State    State
	Attempts int
	Err      error
}

// Options configures the downloader.
type Options struct {
	HTTP *acqhttp.Client

	// ChunkSize is the read buffer size.
	// Default: 1 MiB
	ChunkSize int64

	// Attempts is the number of transfer attempts.
	// Default: 3
	Attempts int

	// Pause separates transfer attempts.
	// Default: 30s
	Pause time.Duration

	// Threshold is the progress percentage between callbacks.
	// Default: 1
	Threshold float64

	Sleep  retry.Sleeper
	Logger *slog.Logger
}

// Downloader performs Tasks.
type Downloader struct {
	resolver URLResolver
	opts     Options
	log      *slog.Logger
}

// New creates a Downloader that resolves URLs through resolver.
func New(resolver URLResolver, opts Options) *Downloader {
	if opts.HTTP == nil {
		opts.HTTP = acqhttp.NewClient(acqhttp.DefaultOptions())
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1 << 20
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Pause <= 0 {
		opts.Pause = 30 * time.Second
	}
	if opts.Threshold <= 0 {
		opts.Threshold = progress.DefaultThreshold
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("component", "downloader")
	}
	return &Downloader{resolver: resolver, opts: opts, log: log}
}

// Download performs the task and reports the outcome.
func (d *Downloader) Download(ctx context.Context, task Task) TaskStatus {
	status := TaskStatus{
		EntityID: task.Product.EntityID,
		Format:   task.Format,
		State:    StatePending,
	}
	log := d.log.With("entity_id", task.Product.EntityID, "format", task.Format)

	name, known := FileName(task.Product, task.Format)
	if !known && task.FileName != "" {
		name, known = cleanFileName(task.FileName), true
	}
	if known {
		path := filepath.Join(task.Dir, name)
		if exists(path) {
			log.Info("file already present", "path", path)
			return skipped(status, path)
		}
	}

	if err := os.MkdirAll(task.Dir, 0o755); err != nil {
		return failed(status, fmt.Errorf("create destination: %w", err))
	}

	url, err := d.resolver.ResolveURL(ctx, task.Product, task.Format)
	if err != nil {
		log.Warn("resolve download url", "error", err)
		return failed(status, fmt.Errorf("resolve url: %w", err))
	}

	policy := retry.Policy{
		Initial:     d.opts.Pause,
		Multiplier:  1,
		MaxAttempts: d.opts.Attempts,
		Sleep:       d.opts.Sleep,
	}

	var path string
	var alreadyPresent bool
	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		status.Attempts = attempt + 1
		if attempt > 0 {
			log.Info("retrying download", "attempt", attempt+1)
		}

		var err error
		path, alreadyPresent, err = d.transfer(ctx, task, url, name)
		if err != nil {
			log.Warn("download attempt failed", "attempt", attempt+1, "error", err)
			var se *acqhttp.StatusError
			if errors.As(err, &se) {
				return retry.Permanent(err)
			}
		}
		return err
	})
	if err != nil {
		return failed(status, err)
	}
	if alreadyPresent {
		log.Info("file already present", "path", path)
		return skipped(status, path)
	}

	log.Info("download complete", "path", path)
	status.Success = true
	status.Message = MessageSuccess
	status.Path = path
	status.State = StateSucceeded
	return status
}

// transfer streams url into the task directory. name may be empty, in
// which case the response's Content-Disposition or the URL decides.
func (d *Downloader) transfer(ctx context.Context, task Task, url, name string) (string, bool, error) {
	resp, err := d.opts.HTTP.Stream(ctx, url)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if name == "" {
		name = resp.Filename
	}
	if name == "" {
		name = acqhttp.URLFilename(url)
	}
	if name == "" {
		name = task.Product.EntityID
	}
	path := filepath.Join(task.Dir, name)
	if exists(path) {
		return path, true, nil
	}

	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", false, retry.Permanent(fmt.Errorf("create %s: %w", part, err))
	}

	throttle := progress.NewThrottle(name, resp.ContentLength, d.opts.Threshold, task.Progress)
	buf := make([]byte, d.opts.ChunkSize)
	_, err = io.CopyBuffer(io.MultiWriter(f, throttle), resp.Body, buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength > 0 && throttle.Written() != resp.ContentLength {
		err = fmt.Errorf("short transfer: %d of %d bytes", throttle.Written(), resp.ContentLength)
	}
	if err != nil {
		os.Remove(part)
		throttle.Rollback()
		return "", false, fmt.Errorf("transfer %s: %w", name, err)
	}

	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return "", false, retry.Permanent(fmt.Errorf("rename %s: %w", part, err))
	}
	return path, false, nil
}

func skipped(status TaskStatus, path string) TaskStatus {
	status.Success = true
	status.Message = MessageAlreadyExists
	status.Path = path
	status.State = StateSkipped
	return status
}

func failed(status TaskStatus, err error) TaskStatus {
	status.Success = false
	status.Message = fmt.Sprintf("download failed: %v", err)
	status.State = StateFailed
	status.Err = err
	return status
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

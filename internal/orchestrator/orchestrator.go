package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ligustah/sceneslurp/internal/catalog"
	"github.com/ligustah/sceneslurp/internal/downloader"
	"github.com/ligustah/sceneslurp/internal/progress"
	"github.com/ligustah/sceneslurp/internal/retry"
)

// ErrTaskTimeout marks a task that exceeded Options.TaskTimeout.
var ErrTaskTimeout = errors.New("orchestrator: task timed out")

// Downloader performs a single task. *downloader.Downloader implements it.
type Downloader interface {
	Download(ctx context.Context, task downloader.Task) downloader.TaskStatus
}

// Recorder persists task outcomes as they complete.
type Recorder interface {
	RecordTask(ctx context.Context, status downloader.TaskStatus) error
}

// Options configures an Orchestrator.
type Options struct {
	// Workers is the number of concurrent downloads.
	// Default: 4
	Workers int

	// Stagger separates consecutive task launches. Negative disables it.
	// Default: 5s
	Stagger time.Duration

	// TaskTimeout bounds a single task.
	// Default: 1h
	TaskTimeout time.Duration

	// Dir is the destination directory used by DownloadBatch.
	Dir string

	Recorder Recorder
	Reporter *progress.Reporter

	Sleep  retry.Sleeper
	Logger *slog.Logger
}

// Orchestrator fans tasks out over a worker pool.
type Orchestrator struct {
	d    Downloader
	opts Options
	log  *slog.Logger
}

// New creates an Orchestrator.
func New(d Downloader, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Stagger < 0 {
		opts.Stagger = 0
	} else if opts.Stagger == 0 {
		opts.Stagger = 5 * time.Second
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = time.Hour
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("component", "orchestrator")
	}
	return &Orchestrator{d: d, opts: opts, log: log}
}

// DownloadBatch downloads every product in format into Options.Dir.
func (o *Orchestrator) DownloadBatch(ctx context.Context, products []catalog.Product, format string) []downloader.TaskStatus {
	tasks := make([]downloader.Task, len(products))
	for i, p := range products {
		tasks[i] = downloader.Task{Product: p, Format: format, Dir: o.opts.Dir}
	}
	return o.Run(ctx, tasks)
}

type job struct {
	index int
	task  downloader.Task
}

// Run performs tasks and returns one status per task in input order. A
// failed or timed out task never stops the others. Tasks that were never
// launched because ctx ended are reported as failed.
func (o *Orchestrator) Run(ctx context.Context, tasks []downloader.Task) []downloader.TaskStatus {
	results := make([]downloader.TaskStatus, len(tasks))
	launched := make([]bool, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	o.log.Info("starting batch", "tasks", len(tasks), "workers", o.opts.Workers)

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = o.runTask(ctx, j.task)
			}
		}()
	}

	for i, t := range tasks {
		if i > 0 && o.opts.Stagger > 0 {
			if err := o.opts.Sleep(ctx, o.opts.Stagger); err != nil {
				break
			}
		}
		select {
		case jobs <- job{index: i, task: t}:
			launched[i] = true
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	for i, t := range tasks {
		if !launched[i] {
			results[i] = notLaunched(t, ctx.Err())
			o.record(results[i])
		}
	}

	failed := len(Failures(results))
	o.log.Info("batch finished", "tasks", len(tasks), "failed", failed)
	return results
}

// runTask performs one task under the hard deadline. If the downloader
// does not return by the deadline, the task is reported as timed out and
// its goroutine is abandoned with a cancelled context.
func (o *Orchestrator) runTask(ctx context.Context, task downloader.Task) downloader.TaskStatus {
	if o.opts.Reporter != nil {
		o.opts.Reporter.TaskStarted()
		if task.Progress == nil {
			task.Progress = o.opts.Reporter.Func()
		}
	}

	tctx, cancel := context.WithTimeout(ctx, o.opts.TaskTimeout)
	defer cancel()

	done := make(chan downloader.TaskStatus, 1)
	go func() {
		done <- o.d.Download(tctx, task)
	}()

	var (
		status   downloader.TaskStatus
		finished bool
	)
	select {
	case status = <-done:
		finished = true
	case <-tctx.Done():
		// A download that returned right at the deadline still counts.
		select {
		case status = <-done:
			finished = true
		default:
		}
	}

	switch {
	case !finished && ctx.Err() != nil:
		status = notLaunched(task, ctx.Err())
	case !finished:
		status = timedOut(task, 0, o.opts.TaskTimeout)
	case !status.Success && errors.Is(tctx.Err(), context.DeadlineExceeded):
		status = timedOut(task, status.Attempts, o.opts.TaskTimeout)
	}

	if o.opts.Reporter != nil {
		o.opts.Reporter.TaskFinished(status.Success)
	}
	if !status.Success {
		o.log.Warn("task failed", "entity_id", task.Product.EntityID, "format", task.Format, "message", status.Message)
	}
	o.record(status)
	return status
}

func (o *Orchestrator) record(status downloader.TaskStatus) {
	if o.opts.Recorder == nil {
		return
	}
	// Recording outlives the batch context.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.opts.Recorder.RecordTask(ctx, status); err != nil {
		o.log.Warn("record task", "entity_id", status.EntityID, "error", err)
	}
}

func timedOut(task downloader.Task, attempts int, after time.Duration) downloader.TaskStatus {
	err := fmt.Errorf("%w after %s", ErrTaskTimeout, after)
	return downloader.TaskStatus{
		Message:  err.Error(),
		EntityID: task.Product.EntityID,
		Format:   task.Format,
		State:    downloader.StateFailed,
		Attempts: attempts,
		Err:      err,
	}
}

func notLaunched(task downloader.Task, err error) downloader.TaskStatus {
	if err == nil {
		err = context.Canceled
	}
	return downloader.TaskStatus{
		Message:  fmt.Sprintf("download not completed: %v", err),
		EntityID: task.Product.EntityID,
		Format:   task.Format,
		State:    downloader.StateFailed,
		Err:      err,
	}
}

// Failures returns the unsuccessful statuses.
func Failures(statuses []downloader.TaskStatus) []downloader.TaskStatus {
	var out []downloader.TaskStatus
	for _, s := range statuses {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/sceneslurp/internal/archive"
	"github.com/ligustah/sceneslurp/internal/auth"
	"github.com/ligustah/sceneslurp/internal/catalog"
	"github.com/ligustah/sceneslurp/internal/config"
	"github.com/ligustah/sceneslurp/internal/downloader"
	acqhttp "github.com/ligustah/sceneslurp/internal/http"
	"github.com/ligustah/sceneslurp/internal/ledger"
	"github.com/ligustah/sceneslurp/internal/orchestrator"
	"github.com/ligustah/sceneslurp/internal/order"
	"github.com/ligustah/sceneslurp/internal/progress"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	config   string
	api      string
	dir      string
	ledger   string
	archive  string
	workers  int
	progress bool
	verbose  bool
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	f := &commonFlags{}
	fs.StringVar(&f.config, "config", "", "Path to a YAML config file")
	fs.StringVar(&f.api, "api", "", "Catalog API: m2m or legacy")
	fs.StringVar(&f.dir, "dir", "", "Download directory")
	fs.StringVar(&f.ledger, "ledger", "", "SQLite ledger path ('none' disables it)")
	fs.StringVar(&f.archive, "archive", "", "Bucket URL to mirror finished downloads into")
	fs.IntVar(&f.workers, "workers", 0, "Number of parallel downloads")
	fs.BoolVar(&f.progress, "progress", false, "Print aggregate download progress")
	fs.BoolVar(&f.verbose, "v", false, "Verbose logging")
	return f
}

// load resolves the effective configuration: file, then environment, then
// flags.
func (f *commonFlags) load() (config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.config); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(config.Config{
		API:      f.api,
		Dir:      f.dir,
		Ledger:   f.ledger,
		Archive:  f.archive,
		Workers:  f.workers,
		Progress: f.progress,
	})
	if cfg.Ledger == "none" {
		cfg.Ledger = ""
	}
	return cfg, nil
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[sceneslurp] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// app holds the components shared by all commands.
type app struct {
	cfg     config.Config
	http    *acqhttp.Client
	tokens  *auth.TokenCache
	catalog *catalog.Client
	ledger  *ledger.Ledger
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, http: acqhttp.NewClient(acqhttp.DefaultOptions())}

	popts := catalog.ProtocolOptions{
		BaseURL:           cfg.BaseURL,
		Username:          cfg.Username,
		Password:          cfg.Password,
		HTTP:              a.http,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
	var proto catalog.Protocol
	if cfg.API == config.APILegacy {
		proto = catalog.NewLegacy(popts)
	} else {
		proto = catalog.NewM2M(popts)
	}

	store, err := a.tokenStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tokens = auth.NewTokenCache(proto, auth.Options{
		Window: proto.TokenWindow(),
		Store:  store,
	})
	a.catalog = catalog.NewClient(proto, a.tokens, catalog.Options{
		RateLimitDelay:   cfg.RateLimit.Delay,
		RateLimitRetries: cfg.RateLimit.Retries,
	})

	if cfg.Ledger != "" {
		l, err := ledger.Open(ctx, cfg.Ledger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("%w: %v", errStorage, err)
		}
		a.ledger = l
		a.closers = append(a.closers, l.Close)
	}
	return a, nil
}

// tokenStore opens the configured token cache. Values containing "://"
// are bucket URLs whose path names the object.
func (a *app) tokenStore(ctx context.Context) (auth.Store, error) {
	loc := a.cfg.TokenCache
	if !strings.Contains(loc, "://") {
		return &auth.FileStore{Path: loc}, nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("%w: token_cache: %v", config.ErrConfigProblem, err)
	}
	var key string
	if u.Scheme == "file" {
		key = path.Base(u.Path)
		u.Path = path.Dir(u.Path)
	} else {
		key = strings.TrimPrefix(u.Path, "/")
		u.Path = ""
	}
	if key == "" || key == "." || key == "/" {
		key = "token.yaml"
	}
	bucket, err := blob.OpenBucket(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: open token bucket: %v", errStorage, err)
	}
	a.closers = append(a.closers, bucket.Close)
	return &auth.BucketStore{Bucket: bucket, Key: key}, nil
}

func (a *app) orders() *order.Manager {
	return order.NewManager(a.tokens, order.Options{
		BaseURL:    a.cfg.Order.BaseURL,
		Username:   a.cfg.Order.Username,
		Password:   a.cfg.Order.Password,
		HTTP:       a.http,
		BatchSize:  a.cfg.Order.BatchSize,
		BatchPause: a.cfg.Order.BatchPause,
		Format:     a.cfg.Order.Format,
		Collection: a.cfg.Order.Collection,
		Products:   a.cfg.Order.Products,
	})
}

// recordOrder stores the manager's view of id in the ledger, if any.
func (a *app) recordOrder(ctx context.Context, m *order.Manager, id string) {
	if a.ledger == nil {
		return
	}
	o, ok := m.Tracked(id)
	if !ok {
		return
	}
	if err := a.ledger.RecordOrder(ctx, o); err != nil {
		slog.Warn("record order", "order_id", id, "error", err)
	}
}

// download runs products through the worker pool using resolver, then
// mirrors the results when an archive is configured.
func (a *app) download(ctx context.Context, resolver downloader.URLResolver, products []catalog.Product, format string) ([]downloader.TaskStatus, error) {
	d := downloader.New(resolver, downloader.Options{
		HTTP:      a.http,
		ChunkSize: a.cfg.ChunkSize,
		Attempts:  a.cfg.Download.Attempts,
		Pause:     a.cfg.Download.Pause,
	})

	opts := orchestrator.Options{
		Workers:     a.cfg.Workers,
		Stagger:     a.cfg.Stagger,
		TaskTimeout: a.cfg.TaskTimeout,
		Dir:         a.cfg.Dir,
	}
	if a.cfg.Stagger == 0 {
		opts.Stagger = -1
	}
	if a.ledger != nil {
		opts.Recorder = a.ledger
	}
	if a.cfg.Progress {
		reporter := progress.NewReporter(progress.Options{Tasks: len(products), Workers: a.cfg.Workers})
		reporter.Start()
		defer reporter.Stop()
		opts.Reporter = reporter
	}

	statuses := orchestrator.New(d, opts).DownloadBatch(ctx, products, format)

	if a.cfg.Archive == "" {
		return statuses, nil
	}
	mirror, err := archive.Open(ctx, a.cfg.Archive, archive.Options{})
	if err != nil {
		return statuses, fmt.Errorf("%w: %v", errStorage, err)
	}
	defer mirror.Close()
	entries, err := mirror.Mirror(ctx, statuses)
	if err != nil {
		return statuses, fmt.Errorf("%w: %v", errStorage, err)
	}
	fmt.Fprintf(os.Stderr, "[sceneslurp] Mirrored %d files to %s\n", len(entries), a.cfg.Archive)
	return statuses, nil
}

// Close releases the ledger and any opened buckets.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close", "error", err)
		}
	}
	a.closers = nil
}

var errStorage = errors.New("storage error")

// exitCode maps an error onto the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, config.ErrConfigProblem):
		return ExitConfigProblem
	case errors.Is(err, auth.ErrAuthFailure), errors.Is(err, acqhttp.ErrUnauthorized):
		return ExitAuthFailure
	case errors.Is(err, catalog.ErrRateLimited):
		return ExitRateLimited
	case errors.Is(err, catalog.ErrInvalidQuery):
		return ExitInvalidArgs
	case errors.Is(err, errStorage):
		return ExitStorageError
	default:
		return ExitGeneralError
	}
}

// fail prints err and returns its exit code.
func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}

// statusCode summarizes a batch of task outcomes.
func statusCode(statuses []downloader.TaskStatus) int {
	failures := orchestrator.Failures(statuses)
	for _, s := range failures {
		fmt.Fprintf(os.Stderr, "[sceneslurp] %s (%s): %s\n", s.EntityID, s.Format, s.Message)
	}
	if len(failures) > 0 {
		fmt.Fprintf(os.Stderr, "[sceneslurp] %d of %d downloads failed\n", len(failures), len(statuses))
		return ExitPartialFailure
	}
	return ExitSuccess
}

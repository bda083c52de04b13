package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/sceneslurp/internal/downloader"
)

// DefaultManifest is the manifest object name below the prefix.
const DefaultManifest = "manifest.json"

// Entry describes one mirrored file.
type Entry struct {
	Key        string    `json:"key"`
	EntityID   string    `json:"entity_id"`
	Format     string    `json:"format"`
	Size       int64     `json:"size"`
	MirroredAt time.Time `json:"mirrored_at"`
}

// Options configures a Mirror.
type Options struct {
	// Prefix is prepended to every object key.
	Prefix string

	// Manifest names the manifest object below Prefix.
	// Default: manifest.json
	Manifest string

	Now    func() time.Time
	Logger *slog.Logger
}

// Mirror copies completed downloads into a bucket.
type Mirror struct {
	bucket *blob.Bucket
	opts   Options
	log    *slog.Logger
}

// Open opens the bucket at url and returns a Mirror that owns it.
func Open(ctx context.Context, url string, opts Options) (*Mirror, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return New(bucket, opts), nil
}

// New wraps an open bucket.
func New(bucket *blob.Bucket, opts Options) *Mirror {
	if opts.Manifest == "" {
		opts.Manifest = DefaultManifest
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("component", "archive")
	}
	return &Mirror{bucket: bucket, opts: opts, log: log}
}

// Close closes the underlying bucket.
func (m *Mirror) Close() error {
	return m.bucket.Close()
}

// Mirror uploads the file of every successful status that is not yet in
// the bucket and merges the uploads into the manifest. It returns the
// entries written by this call.
func (m *Mirror) Mirror(ctx context.Context, statuses []downloader.TaskStatus) ([]Entry, error) {
	var added []Entry
	for _, s := range statuses {
		if !s.Success || s.Path == "" {
			continue
		}

		key := m.key(filepath.Base(s.Path))
		present, err := m.exists(ctx, key)
		if err != nil {
			return added, err
		}
		if present {
			m.log.Debug("object already mirrored", "key", key)
			continue
		}

		size, err := m.upload(ctx, key, s.Path)
		if err != nil {
			return added, err
		}
		m.log.Info("mirrored", "key", key, "size", size)
		added = append(added, Entry{
			Key:        key,
			EntityID:   s.EntityID,
			Format:     s.Format,
			Size:       size,
			MirroredAt: m.opts.Now().UTC(),
		})
	}

	if len(added) == 0 {
		return nil, nil
	}
	if err := m.appendManifest(ctx, added); err != nil {
		return added, err
	}
	return added, nil
}

// Manifest returns the manifest entries sorted by key. A missing manifest
// yields no entries.
func (m *Mirror) Manifest(ctx context.Context) ([]Entry, error) {
	data, err := m.bucket.ReadAll(ctx, m.key(m.opts.Manifest))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return entries, nil
}

func (m *Mirror) appendManifest(ctx context.Context, added []Entry) error {
	existing, err := m.Manifest(ctx)
	if err != nil {
		return err
	}

	byKey := make(map[string]Entry, len(existing)+len(added))
	for _, e := range existing {
		byKey[e.Key] = e
	}
	for _, e := range added {
		byKey[e.Key] = e
	}
	entries := make([]Entry, 0, len(byKey))
	for _, e := range byKey {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return m.bucket.WriteAll(ctx, m.key(m.opts.Manifest), data, &blob.WriterOptions{ContentType: "application/json"})
}

func (m *Mirror) exists(ctx context.Context, key string) (bool, error) {
	_, err := m.bucket.Attributes(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case gcerrors.Code(err) == gcerrors.NotFound:
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
}

func (m *Mirror) upload(ctx context.Context, key, src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	// Cancelling the writer context discards a partial object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := m.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", key, err)
	}
	n, err := io.Copy(w, f)
	if err != nil {
		cancel()
		w.Close()
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return n, nil
}

func (m *Mirror) key(name string) string {
	if m.opts.Prefix == "" {
		return name
	}
	return path.Join(m.opts.Prefix, name)
}

package downloader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ligustah/sceneslurp/internal/catalog"
	acqhttp "github.com/ligustah/sceneslurp/internal/http"
	"github.com/ligustah/sceneslurp/internal/retry"
)

type resolverFunc func(ctx context.Context, p catalog.Product, format string) (string, error)

func (f resolverFunc) ResolveURL(ctx context.Context, p catalog.Product, format string) (string, error) {
	return f(ctx, p, format)
}

func staticResolver(url string, calls *atomic.Int32) URLResolver {
	return resolverFunc(func(context.Context, catalog.Product, string) (string, error) {
		calls.Add(1)
		return url, nil
	})
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func newTestDownloader(resolver URLResolver, rec *sleepRecorder) *Downloader {
	httpOpts := acqhttp.DefaultOptions()
	httpOpts.Retry = retry.Policy{MaxAttempts: 1}
	return New(resolver, Options{
		HTTP:      acqhttp.NewClient(httpOpts),
		ChunkSize: 64 * 1024,
		Sleep:     rec.Sleep,
	})
}

var landsat = catalog.Product{
	EntityID:    "LC80270272020124LGN00",
	DisplayName: "LC08_L1TP_027027_20200503_20200509_01_T1",
	DatasetName: "LANDSAT_8_C1",
	Platform:    catalog.PlatformLandsat8,
}

func TestFileName(t *testing.T) {
	sentinel := catalog.Product{DisplayName: "L1C_T14ULU_A025123_20200503T174233", DatasetName: "SENTINEL_2A"}
	unknown := catalog.Product{DisplayName: "scene", DatasetName: "ASTER_L1T"}

	tests := []struct {
		product catalog.Product
		format  string
		want    string
		ok      bool
	}{
		{landsat, "FR_BUND", landsat.DisplayName + "_FR_BUND.zip", true},
		{landsat, "FR_THERM", landsat.DisplayName + "_FR_THERM.jpg", true},
		{landsat, "FR_QB", landsat.DisplayName + "_FR_QB.jpg", true},
		{landsat, "fr_refl", landsat.DisplayName + "_FR_REFL.jpg", true},
		{landsat, "STANDARD", landsat.DisplayName + ".tar.gz", true},
		{landsat, "BUNDLE", "", false},
		{sentinel, "STANDARD", sentinel.DisplayName + ".zip", true},
		{sentinel, "FRB", sentinel.DisplayName + "_FRB.jpg", true},
		{sentinel, "FR_BUND", "", false},
		{unknown, "STANDARD", "", false},
		{catalog.Product{EntityID: "E1", Platform: catalog.PlatformLandsat8}, "STANDARD", "E1.tar.gz", true},
	}

	for _, tt := range tests {
		got, ok := FileName(tt.product, tt.format)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FileName(%s, %s) = %q, %v; want %q, %v", tt.product.DisplayName, tt.format, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDownloadSuccess(t *testing.T) {
	data := testData(3*1024*1024 + 17)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	var calls atomic.Int32
	rec := &sleepRecorder{}
	d := newTestDownloader(staticResolver(server.URL+"/signed?token=x", &calls), rec)

	var updates int
	var reported int64
	dir := filepath.Join(t.TempDir(), "scenes")
	status := d.Download(context.Background(), Task{
		Product: landsat,
		Format:  "STANDARD",
		Dir:     dir,
		Progress: func(name string, total, delta int64) {
			if total != int64(len(data)) {
				t.Errorf("total = %d, want %d", total, len(data))
			}
			updates++
			reported += delta
		},
	})

	if !status.Success {
		t.Fatalf("download failed: %s", status.Message)
	}
	if status.Message != MessageSuccess || status.State != StateSucceeded || status.Attempts != 1 {
		t.Errorf("unexpected status: %+v", status)
	}
	want := filepath.Join(dir, landsat.DisplayName+".tar.gz")
	if status.Path != want {
		t.Errorf("Path = %q, want %q", status.Path, want)
	}

	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded data mismatch")
	}
	if _, err := os.Stat(want + ".part"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}

	if updates == 0 || updates > 100 {
		t.Errorf("expected between 1 and 100 progress updates, got %d", updates)
	}
	if reported > int64(len(data)) {
		t.Errorf("reported %d bytes, more than transferred", reported)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one resolution, got %d", calls.Load())
	}
	if len(rec.delays) != 0 {
		t.Errorf("unexpected pauses: %v", rec.delays)
	}
}

func TestDownloadExistingFileSkipsResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, landsat.DisplayName+"_FR_BUND.zip")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	d := newTestDownloader(staticResolver("http://unused.invalid/", &calls), &sleepRecorder{})

	status := d.Download(context.Background(), Task{Product: landsat, Format: "FR_BUND", Dir: dir})
	if !status.Success || status.Message != MessageAlreadyExists || status.State != StateSkipped {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.Path != path {
		t.Errorf("Path = %q, want %q", status.Path, path)
	}
	if calls.Load() != 0 {
		t.Errorf("URL resolved %d times for an existing file", calls.Load())
	}

	got, _ := os.ReadFile(path)
	if string(got) != "existing" {
		t.Error("existing file was overwritten")
	}
}

// truncatingServer declares the full length but sends only a prefix for the
// first failures requests.
func truncatingServer(data []byte, failures int32) (*httptest.Server, *atomic.Int32) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if n <= failures {
			w.Write(data[:len(data)/3])
			return
		}
		w.Write(data)
	}))
	return server, &requests
}

func TestDownloadRetriesAfterTransportError(t *testing.T) {
	data := testData(512 * 1024)
	server, requests := truncatingServer(data, 2)
	defer server.Close()

	var calls atomic.Int32
	rec := &sleepRecorder{}
	d := newTestDownloader(staticResolver(server.URL+"/scene.tar.gz", &calls), rec)

	dir := t.TempDir()
	status := d.Download(context.Background(), Task{Product: landsat, Format: "STANDARD", Dir: dir})
	if !status.Success {
		t.Fatalf("download failed: %s", status.Message)
	}
	if status.Attempts != 3 || requests.Load() != 3 {
		t.Errorf("attempts = %d, requests = %d; want 3", status.Attempts, requests.Load())
	}
	if calls.Load() != 1 {
		t.Errorf("URL resolved %d times, want once", calls.Load())
	}
	want := []time.Duration{30 * time.Second, 30 * time.Second}
	if len(rec.delays) != 2 || rec.delays[0] != want[0] || rec.delays[1] != want[1] {
		t.Errorf("pauses = %v, want %v", rec.delays, want)
	}

	got, _ := os.ReadFile(status.Path)
	if !bytes.Equal(got, data) {
		t.Error("downloaded data mismatch")
	}
}

func TestDownloadRetryDoesNotDoubleCountProgress(t *testing.T) {
	data := testData(512 * 1024)
	server, _ := truncatingServer(data, 1)
	defer server.Close()

	var calls atomic.Int32
	d := newTestDownloader(staticResolver(server.URL+"/scene.tar.gz", &calls), &sleepRecorder{})

	var reported int64
	var withdrawn bool
	status := d.Download(context.Background(), Task{
		Product: landsat,
		Format:  "STANDARD",
		Dir:     t.TempDir(),
		Progress: func(name string, total, delta int64) {
			if delta < 0 {
				withdrawn = true
			}
			reported += delta
		},
	})

	if !status.Success || status.Attempts != 2 {
		t.Fatalf("expected success on the second attempt, got %+v", status)
	}
	if !withdrawn {
		t.Error("expected the failed attempt's bytes to be withdrawn")
	}
	if reported != int64(len(data)) {
		t.Errorf("reported %d bytes, want %d", reported, len(data))
	}
}

func TestDownloadExhaustedRemovesPartialFile(t *testing.T) {
	data := testData(512 * 1024)
	server, requests := truncatingServer(data, 100)
	defer server.Close()

	var calls atomic.Int32
	rec := &sleepRecorder{}
	d := newTestDownloader(staticResolver(server.URL+"/scene.tar.gz", &calls), rec)

	dir := t.TempDir()
	status := d.Download(context.Background(), Task{Product: landsat, Format: "STANDARD", Dir: dir})
	if status.Success || status.State != StateFailed {
		t.Fatalf("expected failure, got %+v", status)
	}
	if status.Attempts != 3 || requests.Load() != 3 {
		t.Errorf("attempts = %d, requests = %d; want 3", status.Attempts, requests.Load())
	}
	var exhausted *retry.ExhaustedError
	if !errors.As(status.Err, &exhausted) {
		t.Errorf("expected ExhaustedError, got %v", status.Err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty destination, found %d entries", len(entries))
	}
}

func TestDownloadNotFoundIsNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	var calls atomic.Int32
	rec := &sleepRecorder{}
	d := newTestDownloader(staticResolver(server.URL+"/gone", &calls), rec)

	status := d.Download(context.Background(), Task{Product: landsat, Format: "STANDARD", Dir: t.TempDir()})
	if status.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(status.Err, acqhttp.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", status.Err)
	}
	if requests.Load() != 1 || len(rec.delays) != 0 {
		t.Errorf("requests = %d, pauses = %v; want a single attempt", requests.Load(), rec.delays)
	}
}

func TestDownloadNameFromResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/with-disposition" {
			w.Header().Set("Content-Disposition", `attachment; filename="LC08_bundle.tif"`)
		}
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	tests := []struct {
		name     string
		path     string
		override string
		want     string
	}{
		{"disposition", "/with-disposition", "", "LC08_bundle.tif"},
		{"url basename", "/orders/LC08_item.tar.gz", "", "LC08_item.tar.gz"},
		{"override", "/with-disposition", "custom.bin", "custom.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			d := newTestDownloader(staticResolver(server.URL+tt.path, &calls), &sleepRecorder{})
			dir := t.TempDir()

			status := d.Download(context.Background(), Task{Product: landsat, Format: "BUNDLE", Dir: dir, FileName: tt.override})
			if !status.Success {
				t.Fatalf("download failed: %s", status.Message)
			}
			if want := filepath.Join(dir, tt.want); status.Path != want {
				t.Errorf("Path = %q, want %q", status.Path, want)
			}
		})
	}
}

func TestDownloadExistingFileFromResponseName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="bundle.tif"`)
		w.Write([]byte("new"))
	}))
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.tif")
	os.WriteFile(path, []byte("old"), 0o644)

	var calls atomic.Int32
	d := newTestDownloader(staticResolver(server.URL, &calls), &sleepRecorder{})
	status := d.Download(context.Background(), Task{Product: landsat, Format: "BUNDLE", Dir: dir})

	if !status.Success || status.Message != MessageAlreadyExists {
		t.Errorf("unexpected status: %+v", status)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "old" {
		t.Error("existing file was overwritten")
	}
}

func TestDownloadResolveFailure(t *testing.T) {
	d := newTestDownloader(resolverFunc(func(context.Context, catalog.Product, string) (string, error) {
		return "", catalog.ErrNotAvailable
	}), &sleepRecorder{})

	status := d.Download(context.Background(), Task{Product: landsat, Format: "STANDARD", Dir: t.TempDir()})
	if status.Success || status.Attempts != 0 {
		t.Errorf("unexpected status: %+v", status)
	}
	if !errors.Is(status.Err, catalog.ErrNotAvailable) {
		t.Errorf("expected ErrNotAvailable, got %v", status.Err)
	}
}

//go:build integration

package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ligustah/sceneslurp/internal/catalog"
	"github.com/ligustah/sceneslurp/internal/config"
	acqhttp "github.com/ligustah/sceneslurp/internal/http"
	"github.com/ligustah/sceneslurp/internal/ledger"
	"github.com/ligustah/sceneslurp/internal/testutils"
)

type productServer string

func (s productServer) ResolveURL(_ context.Context, p catalog.Product, _ string) (string, error) {
	return string(s) + "/download/" + p.EntityID + ".tar", nil
}

func TestCLIDownloadMirrorsToMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	files := []testutils.TestFile{
		{Name: "LC08_L1TP_026027_20200101_20200113_01_T1.tar", Size: 512 * 1024},
		{Name: "LC08_L1TP_026027_20200117_20200128_01_T1.tar", Size: 2 * 1024 * 1024},
	}
	products := make([]catalog.Product, len(files))
	for i := range files {
		files[i].Data = testutils.GenerateTestData(t, files[i].Size)
		products[i] = catalog.Product{EntityID: strings.TrimSuffix(files[i].Name, ".tar")}
	}

	server := testutils.StartProductServer(t, files)

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "cli-scenes")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	work := t.TempDir()
	cfg := config.Default()
	cfg.Dir = filepath.Join(work, "scenes")
	cfg.Stagger = 0
	cfg.Progress = true
	cfg.Archive = minio.BucketURL

	l, err := ledger.Open(ctx, filepath.Join(work, "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	a := &app{cfg: cfg, http: acqhttp.NewClient(acqhttp.DefaultOptions()), ledger: l}
	a.closers = append(a.closers, l.Close)
	defer a.Close()

	statuses, err := a.download(ctx, productServer(server.URL), products, "")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if code := statusCode(statuses); code != ExitSuccess {
		t.Fatalf("download failed with exit code %d", code)
	}

	bucket, err := minio.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	for _, f := range files {
		r, err := bucket.NewReader(ctx, f.Name, nil)
		if err != nil {
			t.Fatalf("open mirrored %s: %v", f.Name, err)
		}
		testutils.CompareReaderToData(t, r, f.Data)
		r.Close()
	}

	// A second run finds every file on disk and mirrors nothing new.
	statuses, err = a.download(ctx, productServer(server.URL), products, "")
	if err != nil {
		t.Fatalf("second download failed: %v", err)
	}
	for _, s := range statuses {
		if s.Path == "" || !s.Success {
			t.Errorf("%s: expected skipped success, got %+v", s.EntityID, s)
		}
	}
}

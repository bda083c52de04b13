//go:build integration

package archive_test

import (
	"context"
	"testing"
	"time"

	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/sceneslurp/internal/archive"
	"github.com/ligustah/sceneslurp/internal/catalog"
	"github.com/ligustah/sceneslurp/internal/downloader"
	"github.com/ligustah/sceneslurp/internal/orchestrator"
	"github.com/ligustah/sceneslurp/internal/testutils"
)

type serverResolver string

func (s serverResolver) ResolveURL(_ context.Context, p catalog.Product, _ string) (string, error) {
	return string(s) + "/download/" + p.DisplayName + ".bin", nil
}

func TestIntegrationDownloadAndMirrorToMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	files := []testutils.TestFile{
		{Name: "tiny.bin", Size: 1024},
		{Name: "small.bin", Size: 1024 * 1024},
		{Name: "medium.bin", Size: 24 * 1024 * 1024},
	}
	products := make([]catalog.Product, len(files))
	for i := range files {
		files[i].Data = testutils.GenerateTestData(t, files[i].Size)
		name := files[i].Name[:len(files[i].Name)-len(".bin")]
		products[i] = catalog.Product{EntityID: name, DisplayName: name}
	}

	server := testutils.StartProductServer(t, files)
	env := testutils.StartMinioContainer(t, ctx, "scenes")
	defer func() {
		if err := env.Close(ctx); err != nil {
			t.Logf("terminate minio: %v", err)
		}
	}()

	d := downloader.New(serverResolver(server.URL), downloader.Options{})
	o := orchestrator.New(d, orchestrator.Options{Dir: t.TempDir(), Stagger: -1})
	statuses := o.DownloadBatch(ctx, products, "BUNDLE")
	if failed := orchestrator.Failures(statuses); len(failed) > 0 {
		t.Fatalf("downloads failed: %+v", failed)
	}

	m, err := archive.Open(ctx, env.BucketURL, archive.Options{Prefix: "landsat"})
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	defer m.Close()

	added, err := m.Mirror(ctx, statuses)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if len(added) != len(files) {
		t.Fatalf("mirrored %d files, want %d", len(added), len(files))
	}

	bucket, err := env.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	for _, f := range files {
		r, err := bucket.NewReader(ctx, "landsat/"+f.Name, nil)
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		testutils.CompareReaderToData(t, r, f.Data)
		r.Close()
	}

	again, err := m.Mirror(ctx, statuses)
	if err != nil {
		t.Fatalf("second mirror: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second mirror uploaded %d files, want none", len(again))
	}
}

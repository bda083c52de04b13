//go:build integration

// Package testutils holds the MinIO and product-server fixtures shared by
// integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// TestFile is a payload served by StartProductServer under
// /download/<Name>.
type TestFile struct {
	Name string
	Size int64
	Data []byte
}

// GenerateTestData returns size random bytes.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("generate test data: %v", err)
	}
	return data
}

// StartProductServer serves files the way the catalog's signed download
// URLs do: a plain GET with Content-Length and, when the name has no
// extension-derived rule, a Content-Disposition filename.
func StartProductServer(t *testing.T, files []TestFile) *httptest.Server {
	t.Helper()

	fileMap := make(map[string]TestFile)
	for _, f := range files {
		fileMap["/download/"+f.Name] = f
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := fileMap[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(int64(len(f.Data)), 10))
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, f.Name))
		w.Write(f.Data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// MinioEnv is a running MinIO server with one bucket.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens the bucket through the s3blob driver.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts MinIO with bucketName created and points the
// AWS credential variables at it for the rest of the test.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	env := &MinioEnv{AccessKey: "minioadmin", SecretKey: "minioadmin"}

	netName := fmt.Sprintf("sceneslurp-minio-%d", time.Now().UnixNano())
	net, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: netName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { net.Remove(ctx) })

	env.Container = runContainer(t, ctx, "minio", testcontainers.ContainerRequest{
		Image:          "minio/minio:latest",
		ExposedPorts:   []string{"9000/tcp"},
		Networks:       []string{netName},
		NetworkAliases: map[string][]string{netName: {"minio"}},
		Env: map[string]string{
			"MINIO_ROOT_USER":     env.AccessKey,
			"MINIO_ROOT_PASSWORD": env.SecretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	})

	// The mc client reaches the server through its network alias.
	script := fmt.Sprintf("mc alias set local http://minio:9000 %s %s && mc mb --ignore-existing local/%s",
		env.AccessKey, env.SecretKey, bucketName)
	mc := runContainer(t, ctx, "mc", testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{netName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd:        []string{script},
		WaitingFor: wait.ForExit(),
	})
	mc.Terminate(ctx)

	host, err := env.Container.Host(ctx)
	if err != nil {
		t.Fatalf("minio host: %v", err)
	}
	port, err := env.Container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("minio port: %v", err)
	}
	env.Endpoint = host + ":" + port.Port()
	env.BucketURL = "s3://" + bucketName +
		"?endpoint=http://" + env.Endpoint +
		"&use_path_style=true&disable_https=true&region=us-east-1"

	t.Setenv("AWS_ACCESS_KEY_ID", env.AccessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", env.SecretKey)
	return env
}

func runContainer(t *testing.T, ctx context.Context, name string, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s container: %v", name, err)
	}
	return c
}

// CompareReaderToData fails the test unless reader yields exactly expected.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read after %d bytes: %v", len(got), err)
	}
	if len(got) != len(expected) {
		t.Fatalf("read %d bytes, want %d", len(got), len(expected))
	}
	if !bytes.Equal(got, expected) {
		for i := range got {
			if got[i] != expected[i] {
				t.Fatalf("data mismatch at offset %d", i)
			}
		}
	}
}

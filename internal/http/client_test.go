package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ligustah/sceneslurp/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testOptions() Options {
	opts := DefaultOptions()
	opts.Retry = retry.Policy{Initial: time.Millisecond, MaxAttempts: 3, Sleep: noSleep}
	return opts
}

func TestJSONPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Auth-Token"); got != "tok" {
			t.Errorf("expected auth header 'tok', got %q", got)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	}))
	defer server.Close()

	client := NewClient(testOptions())
	var out map[string]string
	err := client.JSON(context.Background(), http.MethodPost, server.URL, map[string]string{"name": "landsat"}, &out,
		WithHeader("X-Auth-Token", "tok"))
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if out["echo"] != "landsat" {
		t.Errorf("expected echo 'landsat', got %q", out["echo"])
	}
}

func TestJSONForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("jsonRequest"); got != `{"a":1}` {
			t.Errorf("unexpected form value %q", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(testOptions())
	err := client.JSON(context.Background(), http.MethodPost, server.URL, nil, nil,
		WithForm(url.Values{"jsonRequest": {`{"a":1}`}}))
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
}

func TestJSONQueryAndBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("jsonRequest"); got != "x" {
			t.Errorf("expected query jsonRequest=x, got %q", got)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			t.Errorf("unexpected basic auth %q %q %v", user, pass, ok)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(testOptions())
	var out []string
	err := client.JSON(context.Background(), http.MethodGet, server.URL, nil, &out,
		WithQuery(url.Values{"jsonRequest": {"x"}}), WithBasicAuth("u", "p"))
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
}

func TestJSONNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorCode":"NOT_FOUND"}`))
	}))
	defer server.Close()

	client := NewClient(testOptions())
	err := client.JSON(context.Background(), http.MethodGet, server.URL, nil, &struct{}{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %T", err)
	}
	if string(se.Body) != `{"errorCode":"NOT_FOUND"}` {
		t.Errorf("unexpected body %q", se.Body)
	}
}

func TestJSONRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(testOptions())
	var out struct{ OK bool }
	if err := client.JSON(context.Background(), http.MethodGet, server.URL, nil, &out); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !out.OK {
		t.Error("expected ok response")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestJSONServerErrorExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testOptions())
	err := client.JSON(context.Background(), http.MethodGet, server.URL, nil, nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Fatalf("expected exhausted after 3 attempts, got %v", err)
	}
}

func TestStream(t *testing.T) {
	data := []byte("Hello, World! This is test data for streaming.")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="LC08_scene.tar.gz"`)
		w.Write(data)
	}))
	defer server.Close()

	client := NewClient(testOptions())
	resp, err := client.Stream(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != string(data) {
		t.Errorf("unexpected body %q", body)
	}
	if resp.ContentLength != int64(len(data)) {
		t.Errorf("expected content length %d, got %d", len(data), resp.ContentLength)
	}
	if resp.Filename != "LC08_scene.tar.gz" {
		t.Errorf("expected filename from disposition, got %q", resp.Filename)
	}
}

func TestStreamForbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(testOptions())
	_, err := client.Stream(context.Background(), server.URL)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestDispositionFilename(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{`attachment; filename="a.zip"`, "a.zip"},
		{`attachment; filename=b.tar.gz`, "b.tar.gz"},
		{`filename="c.jpg"`, "c.jpg"},
		{`attachment; filename="../../etc/passwd"`, "passwd"},
		{``, ""},
		{`inline`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := DispositionFilename(tt.header); got != tt.want {
				t.Errorf("DispositionFilename(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestURLFilename(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://edclpdsftp.cr.usgs.gov/orders/espa-1/LC08_sr.tar.gz", "LC08_sr.tar.gz"},
		{"https://example.com/file.zip?sig=abc", "file.zip"},
		{"https://example.com/", ""},
	}
	for _, tt := range tests {
		if got := URLFilename(tt.url); got != tt.want {
			t.Errorf("URLFilename(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ligustah/sceneslurp/internal/auth"
	acqhttp "github.com/ligustah/sceneslurp/internal/http"
	"github.com/ligustah/sceneslurp/internal/retry"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (auth.Token, error) {
	return auth.Token{Value: string(s), IssuedAt: time.Now()}, nil
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

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"errorCode": nil, "error": "", "data": data})
}

func writeError(w http.ResponseWriter, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"errorCode": code, "errorMessage": msg, "data": nil})
}

// jsonBody decodes an M2M POST body.
func jsonBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request body: %v", err)
	}
	return body
}

// jsonRequest decodes a legacy jsonRequest query parameter.
func jsonRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(r.URL.Query().Get("jsonRequest")), &body); err != nil {
		t.Errorf("decode jsonRequest: %v", err)
	}
	return body
}

func protocolOptions(t *testing.T, handler http.Handler, rec *sleepRecorder) ProtocolOptions {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	httpOpts := acqhttp.DefaultOptions()
	httpOpts.Retry = retry.Policy{MaxAttempts: 1}
	return ProtocolOptions{
		BaseURL:           srv.URL + "/",
		Username:          "user",
		Password:          "secret",
		HTTP:              acqhttp.NewClient(httpOpts),
		RequestsPerSecond: 1000,
		Sleep:             rec.Sleep,
	}
}

func newM2MClient(t *testing.T, handler http.Handler) (*Client, *sleepRecorder) {
	rec := &sleepRecorder{}
	proto := NewM2M(protocolOptions(t, handler, rec))
	return NewClient(proto, staticTokens("tok"), Options{Sleep: rec.Sleep}), rec
}

func newLegacyClient(t *testing.T, handler http.Handler) (*Client, *sleepRecorder) {
	rec := &sleepRecorder{}
	proto := NewLegacy(protocolOptions(t, handler, rec))
	return NewClient(proto, staticTokens("tok"), Options{Sleep: rec.Sleep}), rec
}

const polygonJSON = `{"type":"Polygon","coordinates":[[[-76,45],[-75,45],[-75,46],[-76,46],[-76,45]]]}`

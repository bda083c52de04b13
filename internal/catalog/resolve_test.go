package catalog

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyResolveURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		body := jsonRequest(t, r)
		assert.Equal(t, []any{"E1"}, body["entityIds"])
		assert.Equal(t, []any{"FR_BUND"}, body["products"])
		writeData(w, []map[string]string{{"url": "https://dl/E1_FR_BUND.zip", "entityId": "E1", "product": "FR_BUND"}})
	})
	client, _ := newLegacyClient(t, mux)

	u, err := client.ResolveURL(context.Background(), Product{EntityID: "E1", DatasetName: "LANDSAT_8_C1"}, "FR_BUND")
	require.NoError(t, err)
	assert.Equal(t, "https://dl/E1_FR_BUND.zip", u)
}

func TestLegacyResolveURLMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []any{})
	})
	client, _ := newLegacyClient(t, mux)

	_, err := client.ResolveURL(context.Background(), Product{EntityID: "E1", DatasetName: "LANDSAT_8_C1"}, "STANDARD")
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func m2mDownloadMux(t *testing.T, readyAfter int32, labels *[]string) *http.ServeMux {
	var retrieves atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/download-options", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []map[string]any{
			{"id": "p-unavail", "entityId": "E1", "productName": "Full Resolution Browse", "productCode": "FR_BUND", "available": false},
			{"id": "p-std", "entityId": "E1", "productName": "Level-1 GeoTIFF Data Product", "productCode": "D557", "available": true},
		})
	})
	mux.HandleFunc("/download-request", func(w http.ResponseWriter, r *http.Request) {
		body := jsonBody(t, r)
		downloads := body["downloads"].([]any)
		assert.Equal(t, map[string]any{"entityId": "E1", "productId": "p-std"}, downloads[0])
		*labels = append(*labels, body["label"].(string))
		writeData(w, map[string]any{"availableDownloads": []any{}, "preparingDownloads": []any{map[string]string{"entityId": "E1"}}})
	})
	mux.HandleFunc("/download-retrieve", func(w http.ResponseWriter, r *http.Request) {
		*labels = append(*labels, jsonBody(t, r)["label"].(string))
		if retrieves.Add(1) < readyAfter {
			writeData(w, map[string]any{"available": []any{}, "requested": []any{}})
			return
		}
		writeData(w, map[string]any{"available": []map[string]string{
			{"entityId": "E1", "displayId": "LC08_x", "url": "https://dl/E1.tar"},
		}})
	})
	return mux
}

func TestM2MResolveURLPolls(t *testing.T) {
	var labels []string
	client, rec := newM2MClient(t, m2mDownloadMux(t, 2, &labels))

	u, err := client.ResolveURL(context.Background(), Product{EntityID: "E1", DatasetName: "landsat_ot_c2_l1"}, "STANDARD")
	require.NoError(t, err)
	assert.Equal(t, "https://dl/E1.tar", u)

	require.Len(t, labels, 3)
	_, err = uuid.Parse(labels[0])
	assert.NoError(t, err)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, []time.Duration{time.Minute}, rec.Delays())
}

func TestM2MResolveURLNeverStaged(t *testing.T) {
	var labels []string
	client, rec := newM2MClient(t, m2mDownloadMux(t, 100, &labels))

	_, err := client.ResolveURL(context.Background(), Product{EntityID: "E1", DatasetName: "landsat_ot_c2_l1"}, "")
	assert.True(t, errors.Is(err, ErrNotAvailable))
	assert.Len(t, labels, 6, "one request plus five polls")
	assert.Len(t, rec.Delays(), 4)
}

func TestM2MResolveURLUnavailableFormat(t *testing.T) {
	var labels []string
	client, _ := newM2MClient(t, m2mDownloadMux(t, 1, &labels))

	_, err := client.ResolveURL(context.Background(), Product{EntityID: "E1", DatasetName: "landsat_ot_c2_l1"}, "FR_BUND")
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Empty(t, labels)
}

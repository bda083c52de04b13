package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	acqhttp "github.com/ligustah/sceneslurp/internal/http"
)

// LegacyBaseURL is the root of the v1.4.1 inventory API.
const LegacyBaseURL = "https://earthexplorer.usgs.gov/inventory/json/v/1.4.1/"

var _ Protocol = (*LegacyProtocol)(nil)

// LegacyProtocol speaks the v1.4.1 API: every call is a GET carrying a
// jsonRequest query parameter, and the token travels as apiKey.
type LegacyProtocol struct {
	caller
	crit criteria
}

// NewLegacy returns the legacy protocol.
func NewLegacy(opts ProtocolOptions) *LegacyProtocol {
	opts = opts.withDefaults(LegacyBaseURL, "legacy")
	return &LegacyProtocol{caller: newCaller(opts), crit: criteria{idKey: "fieldId"}}
}

func (p *LegacyProtocol) Name() string { return "legacy" }

// TokenWindow is one hour for the legacy API.
func (p *LegacyProtocol) TokenWindow() time.Duration { return time.Hour }

// Login posts the credentials as a form-encoded jsonRequest.
func (p *LegacyProtocol) Login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"username":  p.opts.Username,
		"password":  p.opts.Password,
		"authType":  "EROS",
		"catalogId": "EE",
	})
	if err != nil {
		return "", err
	}

	var token string
	err = p.do(ctx, "login", http.MethodPost, nil, &token,
		acqhttp.WithForm(url.Values{"jsonRequest": {string(payload)}}))
	return token, err
}

// EncodeCloudCover maps a percentage onto the dataset's cloud field.
// Sentinel-2 stores cloud cover in deciles: floor(pct/10) - 1.
func (p *LegacyProtocol) EncodeCloudCover(dataset string, pct int) int {
	if PlatformOf(dataset) == PlatformSentinel2 {
		return int(math.Floor(float64(pct)/10)) - 1
	}
	return pct
}

func (p *LegacyProtocol) SearchRequest(q Query, token string, start int) Request {
	body := map[string]any{
		"datasetName":              q.Dataset(),
		"apiKey":                   token,
		"maxCloudCover":            q.CloudCeiling(),
		"includeUnknownCloudCover": false,
		"maxResults":               q.MaxResults(),
		"startingNumber":           start,
	}

	if b, ok := q.Bound(); ok {
		body["spatialFilter"] = mbrFilter(b)
	}
	if !q.Start().IsZero() && !q.End().IsZero() {
		body["temporalFilter"] = map[string]any{
			"startDate": q.Start().Format(dateLayout),
			"endDate":   q.End().Format(dateLayout),
		}
	}

	var children []map[string]any
	encoded := strconv.Itoa(p.EncodeCloudCover(q.Dataset(), q.CloudCeiling()))
	switch q.Platform() {
	case PlatformLandsat8:
		children = append(children, p.crit.between(fieldLandsatCloud, "0", encoded))
	case PlatformSentinel2:
		children = append(children, p.crit.between(fieldSentinelCloud, "0", encoded))
	}
	if f := p.crit.tiles(q.Platform(), q.Tiles()); f != nil {
		children = append(children, f)
	}
	if f := p.crit.names(q.Platform(), q.Names()); f != nil {
		children = append(children, f)
	}
	if len(children) > 0 {
		body["additionalCriteria"] = group("and", children)
	}

	return Request{Endpoint: "search", Body: body}
}

func (p *LegacyProtocol) MetadataRequest(dataset string, ids []string, token string) Request {
	return Request{Endpoint: "metadata", Body: map[string]any{
		"datasetName": dataset,
		"apiKey":      token,
		"entityIds":   ids,
	}}
}

func (p *LegacyProtocol) DatasetsRequest(term, token string) Request {
	return Request{Endpoint: "datasets", Body: map[string]any{
		"datasetName": term,
		"apiKey":      token,
	}}
}

func (p *LegacyProtocol) DatasetFieldsRequest(dataset, token string) Request {
	return Request{Endpoint: "datasetfields", Body: map[string]any{
		"datasetName": dataset,
		"apiKey":      token,
	}}
}

// Call sends req as GET ?jsonRequest=<body>.
func (p *LegacyProtocol) Call(ctx context.Context, _ string, req Request, out any) error {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", req.Endpoint, err)
	}
	return p.do(ctx, req.Endpoint, http.MethodGet, nil, out,
		acqhttp.WithQuery(url.Values{"jsonRequest": {string(payload)}}))
}

type legacyRecord struct {
	EntityID         string          `json:"entityId"`
	DisplayID        string          `json:"displayId"`
	AcquisitionDate  string          `json:"acquisitionDate"`
	SpatialFootprint json.RawMessage `json:"spatialFootprint"`
	BrowseURL        string          `json:"browseUrl"`
	DataAccessURL    string          `json:"dataAccessUrl"`
	DownloadURL      string          `json:"downloadUrl"`
	OrderURL         string          `json:"orderUrl"`
	MetadataURL      string          `json:"metadataUrl"`
	ModifiedDate     string          `json:"modifiedDate"`
	BulkOrdered      bool            `json:"bulkOrdered"`
	Summary          string          `json:"summary"`
	CloudCover       json.RawMessage `json:"cloudCover"`
}

type legacyPage struct {
	TotalHits  int            `json:"totalHits"`
	NextRecord int            `json:"nextRecord"`
	Results    []legacyRecord `json:"results"`
}

func (p *LegacyProtocol) DecodeSearch(data json.RawMessage, dataset string) (Page, error) {
	var raw legacyPage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Page{}, fmt.Errorf("decode search: %w", err)
	}

	page := Page{TotalHits: raw.TotalHits, NextRecord: raw.NextRecord}
	for _, r := range raw.Results {
		prod := Product{
			EntityID:    r.EntityID,
			DatasetName: dataset,
			DisplayName: r.DisplayID,
			Platform:    PlatformOf(dataset),
			PreviewURL:  r.BrowseURL,
			MetadataURL: r.MetadataURL,
			DownloadURL: r.DownloadURL,
			OrderURL:    r.OrderURL,
			BulkOrdered: r.BulkOrdered,
			Summary:     r.Summary,
		}
		if prod.DownloadURL == "" {
			prod.DownloadURL = r.DataAccessURL
		}
		prod.Footprint, prod.Bound = footprint(r.SpatialFootprint)
		prod.AcquisitionStart = parseTime(r.AcquisitionDate, dateLayout)
		prod.PublishedAt = parseTime(r.ModifiedDate, "2006-01-02T15:04:05", "2006-01-02 15:04:05")
		prod.CloudPercent = parsePercent(rawString(r.CloudCover))
		page.Products = append(page.Products, prod)
	}
	return page, nil
}

func (p *LegacyProtocol) DecodeMetadata(data json.RawMessage) (map[string][]MetadataField, error) {
	return decodeMetadata(data)
}

func (p *LegacyProtocol) DecodeDatasets(data json.RawMessage) ([]Dataset, error) {
	return decodeDatasets(data)
}

func (p *LegacyProtocol) DecodeFields(data json.RawMessage) ([]Field, error) {
	return decodeFields(data)
}

// ResolveURL asks the download endpoint for a URL for one product code.
func (p *LegacyProtocol) ResolveURL(ctx context.Context, token string, prod Product, format string) (string, error) {
	req := Request{Endpoint: "download", Body: map[string]any{
		"datasetName": prod.DatasetName,
		"apiKey":      token,
		"entityIds":   []string{prod.EntityID},
		"products":    []string{format},
	}}

	var results []struct {
		URL      string `json:"url"`
		EntityID string `json:"entityId"`
		Product  string `json:"product"`
	}
	if err := p.Call(ctx, token, req, &results); err != nil {
		return "", err
	}
	for _, r := range results {
		if r.URL != "" && (r.EntityID == "" || r.EntityID == prod.EntityID) {
			return r.URL, nil
		}
	}
	return "", fmt.Errorf("%w: %s %s", ErrNotAvailable, prod.EntityID, format)
}

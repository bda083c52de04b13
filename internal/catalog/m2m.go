package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	acqhttp "github.com/ligustah/sceneslurp/internal/http"
)

// M2MBaseURL is the root of the machine-to-machine API.
const M2MBaseURL = "https://m2m.cr.usgs.gov/api/api/json/stable/"

const previewBrowseName = "LandsatLook Natural Color Preview Image"

var _ Protocol = (*M2MProtocol)(nil)

// M2MProtocol speaks the M2M API: JSON POST bodies with the token in the
// X-Auth-Token header.
type M2MProtocol struct {
	caller
	crit criteria
}

// NewM2M returns the M2M protocol.
func NewM2M(opts ProtocolOptions) *M2MProtocol {
	opts = opts.withDefaults(M2MBaseURL, "m2m")
	return &M2MProtocol{caller: newCaller(opts), crit: criteria{idKey: "filterId"}}
}

func (p *M2MProtocol) Name() string { return "m2m" }

// TokenWindow is two hours for M2M.
func (p *M2MProtocol) TokenWindow() time.Duration { return 2 * time.Hour }

func (p *M2MProtocol) Login(ctx context.Context) (string, error) {
	var token string
	err := p.do(ctx, "login", http.MethodPost, map[string]string{
		"username": p.opts.Username,
		"password": p.opts.Password,
	}, &token)
	return token, err
}

// EncodeCloudCover passes the percentage through unchanged.
func (p *M2MProtocol) EncodeCloudCover(_ string, pct int) int {
	return pct
}

func (p *M2MProtocol) SearchRequest(q Query, _ string, start int) Request {
	filter := map[string]any{
		"cloudCoverFilter": map[string]any{
			"min":            0,
			"max":            p.EncodeCloudCover(q.Dataset(), q.CloudCeiling()),
			"includeUnknown": true,
		},
	}

	if poly := q.Polygon(); poly != nil {
		filter["spatialFilter"] = map[string]any{
			"filterType": "geojson",
			"geoJson":    geojson.NewGeometry(poly),
		}
	} else if b, ok := q.Bound(); ok {
		filter["spatialFilter"] = mbrFilter(b)
	}

	if !q.Start().IsZero() && !q.End().IsZero() {
		filter["acquisitionFilter"] = map[string]any{
			"start": q.Start().Format(dateLayout),
			"end":   q.End().Format(dateLayout),
		}
	}

	var children []map[string]any
	if f := p.crit.tiles(q.Platform(), q.Tiles()); f != nil {
		children = append(children, f)
	}
	if f := p.crit.names(q.Platform(), q.Names()); f != nil {
		children = append(children, f)
	}
	switch len(children) {
	case 0:
	case 1:
		filter["metadataFilter"] = children[0]
	default:
		filter["metadataFilter"] = group("and", children)
	}

	return Request{Endpoint: "scene-search", Body: map[string]any{
		"datasetName":    q.Dataset(),
		"maxResults":     q.MaxResults(),
		"startingNumber": start,
		"metadataType":   "full",
		"sceneFilter":    filter,
	}}
}

func (p *M2MProtocol) MetadataRequest(dataset string, ids []string, _ string) Request {
	return Request{Endpoint: "scene-metadata-list", Body: map[string]any{
		"datasetName":  dataset,
		"entityIds":    ids,
		"metadataType": "full",
	}}
}

func (p *M2MProtocol) DatasetsRequest(term, _ string) Request {
	return Request{Endpoint: "dataset-search", Body: map[string]any{"datasetName": term}}
}

func (p *M2MProtocol) DatasetFieldsRequest(dataset, _ string) Request {
	return Request{Endpoint: "dataset-filters", Body: map[string]any{"datasetName": dataset}}
}

// Call posts req.Body as JSON.
func (p *M2MProtocol) Call(ctx context.Context, token string, req Request, out any) error {
	return p.do(ctx, req.Endpoint, http.MethodPost, req.Body, out,
		acqhttp.WithHeader("X-Auth-Token", token))
}

type m2mRecord struct {
	EntityID        string          `json:"entityId"`
	DisplayID       string          `json:"displayId"`
	SpatialCoverage json.RawMessage `json:"spatialCoverage"`
	Browse          []struct {
		BrowseName    string `json:"browseName"`
		BrowsePath    string `json:"browsePath"`
		ThumbnailPath string `json:"thumbnailPath"`
	} `json:"browse"`
	Options          map[string]bool `json:"options"`
	PublishDate      string          `json:"publishDate"`
	CloudCover       json.RawMessage `json:"cloudCover"`
	TemporalCoverage struct {
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	} `json:"temporalCoverage"`
	Metadata []MetadataField `json:"metadata"`
}

type m2mPage struct {
	TotalHits  int         `json:"totalHits"`
	NextRecord int         `json:"nextRecord"`
	Results    []m2mRecord `json:"results"`
}

var m2mTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999-07",
	dateLayout,
}

func (p *M2MProtocol) DecodeSearch(data json.RawMessage, dataset string) (Page, error) {
	var raw m2mPage
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
		}
		prod.Footprint, prod.Bound = footprint(r.SpatialCoverage)

		for i, b := range r.Browse {
			if i == 0 || b.BrowseName == previewBrowseName {
				prod.PreviewURL = b.BrowsePath
				prod.ThumbnailURL = b.ThumbnailPath
			}
			if b.BrowseName == previewBrowseName {
				break
			}
		}
		for name, on := range r.Options {
			if on {
				prod.Options = append(prod.Options, name)
			}
		}
		sort.Strings(prod.Options)

		prod.PublishedAt = parseTime(r.PublishDate, m2mTimeLayouts...)
		prod.AcquisitionStart = parseTime(r.TemporalCoverage.StartDate, m2mTimeLayouts...)
		prod.AcquisitionEnd = parseTime(r.TemporalCoverage.EndDate, m2mTimeLayouts...)
		prod.CloudPercent = parsePercent(rawString(r.CloudCover))

		// Full metadata rides along with scene-search results.
		if len(r.Metadata) > 0 {
			applyMetadata(&prod, r.Metadata)
		}
		page.Products = append(page.Products, prod)
	}
	return page, nil
}

func (p *M2MProtocol) DecodeMetadata(data json.RawMessage) (map[string][]MetadataField, error) {
	return decodeMetadata(data)
}

func (p *M2MProtocol) DecodeDatasets(data json.RawMessage) ([]Dataset, error) {
	return decodeDatasets(data)
}

func (p *M2MProtocol) DecodeFields(data json.RawMessage) ([]Field, error) {
	return decodeFields(data)
}

type m2mOption struct {
	ID                 string      `json:"id"`
	EntityID           string      `json:"entityId"`
	ProductName        string      `json:"productName"`
	ProductCode        string      `json:"productCode"`
	Available          bool        `json:"available"`
	SecondaryDownloads []m2mOption `json:"secondaryDownloads"`
}

type m2mDownload struct {
	EntityID string `json:"entityId"`
	URL      string `json:"url"`
}

// ResolveURL runs download-options, download-request and, while the file
// is still being staged, download-retrieve.
func (p *M2MProtocol) ResolveURL(ctx context.Context, token string, prod Product, format string) (string, error) {
	var options []m2mOption
	err := p.Call(ctx, token, Request{Endpoint: "download-options", Body: map[string]any{
		"datasetName": prod.DatasetName,
		"entityIds":   []string{prod.EntityID},
	}}, &options)
	if err != nil {
		return "", err
	}

	opt, ok := pickOption(options, format)
	if !ok {
		return "", fmt.Errorf("%w: no available option %q for %s", ErrNotAvailable, format, prod.EntityID)
	}
	entityID := opt.EntityID
	if entityID == "" {
		entityID = prod.EntityID
	}

	label := uuid.NewString()
	var requested struct {
		AvailableDownloads []m2mDownload `json:"availableDownloads"`
	}
	err = p.Call(ctx, token, Request{Endpoint: "download-request", Body: map[string]any{
		"downloads": []map[string]string{{"entityId": entityID, "productId": opt.ID}},
		"label":     label,
	}}, &requested)
	if err != nil {
		return "", err
	}
	if u := pickDownload(requested.AvailableDownloads, entityID); u != "" {
		return u, nil
	}

	for i := 0; i < p.opts.RetrievePolls; i++ {
		if i > 0 {
			if err := p.opts.Sleep(ctx, p.opts.RetrieveInterval); err != nil {
				return "", err
			}
		}
		var retrieved struct {
			Available []m2mDownload `json:"available"`
		}
		err := p.Call(ctx, token, Request{Endpoint: "download-retrieve", Body: map[string]any{
			"label": label,
		}}, &retrieved)
		if err != nil {
			return "", err
		}
		if u := pickDownload(retrieved.Available, entityID); u != "" {
			return u, nil
		}
		p.opts.Logger.Info("download still staging", "entity_id", entityID, "poll", i+1)
	}
	return "", fmt.Errorf("%w: %s not staged after %d polls", ErrNotAvailable, entityID, p.opts.RetrievePolls)
}

// pickOption selects the available option named by format. An empty or
// STANDARD format takes the first available primary option.
func pickOption(options []m2mOption, format string) (m2mOption, bool) {
	standard := format == "" || strings.EqualFold(format, "STANDARD")
	for _, o := range options {
		if !o.Available {
			continue
		}
		if standard || strings.EqualFold(o.ProductCode, format) || strings.EqualFold(o.ProductName, format) {
			return o, true
		}
	}
	if standard {
		return m2mOption{}, false
	}
	for _, o := range options {
		if s, ok := pickOption(o.SecondaryDownloads, format); ok {
			return s, true
		}
	}
	return m2mOption{}, false
}

func pickDownload(downloads []m2mDownload, entityID string) string {
	for _, d := range downloads {
		if d.URL != "" && (d.EntityID == "" || d.EntityID == entityID) {
			return d.URL
		}
	}
	return ""
}

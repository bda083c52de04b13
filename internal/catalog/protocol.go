package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	acqhttp "github.com/ligustah/sceneslurp/internal/http"
	"github.com/ligustah/sceneslurp/internal/retry"
)

// Request is a protocol-encoded call: an endpoint name relative to the
// base URL and its JSON parameters.
type Request struct {
	Endpoint string
	Body     map[string]any
}

// Page is one decoded page of search results.
type Page struct {
	Products   []Product
	TotalHits  int
	NextRecord int
}

// Dataset describes a searchable collection.
type Dataset struct {
	Name  string
	Title string
}

// Field describes a dataset search field.
type Field struct {
	ID     string
	Name   string
	Values []FieldValue
}

// FieldValue is one allowed value of a Field.
type FieldValue struct {
	Value string
	Name  string
}

// Protocol encodes queries for one API flavour and talks to it.
// Builders are pure; Call and ResolveURL do network I/O.
type Protocol interface {
	// Login exchanges credentials for a session token.
	Login(ctx context.Context) (string, error)

	Name() string

	// TokenWindow is how long the service honours a token.
	TokenWindow() time.Duration

	// EncodeCloudCover converts a 0..100 ceiling into the value the
	// dataset's cloud filter expects.
	EncodeCloudCover(dataset string, pct int) int

	SearchRequest(q Query, token string, start int) Request
	MetadataRequest(dataset string, ids []string, token string) Request
	DatasetsRequest(term, token string) Request
	DatasetFieldsRequest(dataset, token string) Request

	// Call sends req and decodes the envelope's data into out.
	Call(ctx context.Context, token string, req Request, out any) error

	DecodeSearch(data json.RawMessage, dataset string) (Page, error)
	DecodeMetadata(data json.RawMessage) (map[string][]MetadataField, error)
	DecodeDatasets(data json.RawMessage) ([]Dataset, error)
	DecodeFields(data json.RawMessage) ([]Field, error)

	// ResolveURL returns a short-lived URL for product in format.
	ResolveURL(ctx context.Context, token string, p Product, format string) (string, error)
}

// ProtocolOptions configures either protocol.
type ProtocolOptions struct {
	// BaseURL overrides the service root. It must end in "/".
	BaseURL string

	Username string
	Password string

	// HTTP is the client used for all calls. Default: acqhttp.NewClient(acqhttp.DefaultOptions()).
	HTTP *acqhttp.Client

	// RequestsPerSecond paces outgoing calls.
	// Default: 4
	RequestsPerSecond float64

	// RetrievePolls bounds how often a pending M2M download is polled.
	// Default: 5
	RetrievePolls int

	// RetrieveInterval is the wait between polls.
	// Default: 60s
	RetrieveInterval time.Duration

	// Sleep waits between polls. Default: retry.Sleep.
	Sleep retry.Sleeper

	Logger *slog.Logger
}

func (o ProtocolOptions) withDefaults(baseURL, name string) ProtocolOptions {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.HTTP == nil {
		o.HTTP = acqhttp.NewClient(acqhttp.DefaultOptions())
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 4
	}
	if o.RetrievePolls <= 0 {
		o.RetrievePolls = 5
	}
	if o.RetrieveInterval <= 0 {
		o.RetrieveInterval = time.Minute
	}
	if o.Sleep == nil {
		o.Sleep = retry.Sleep
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "catalog", "protocol", name)
	}
	return o
}

// caller holds what both protocols share: the HTTP client, the request
// limiter and envelope decoding.
type caller struct {
	opts    ProtocolOptions
	limiter *rate.Limiter
}

func newCaller(opts ProtocolOptions) caller {
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return caller{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
	}
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	ErrorCode    *string         `json:"errorCode"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

func (e envelope) err(endpoint string) error {
	if e.ErrorCode == nil || *e.ErrorCode == "" {
		return nil
	}
	msg := e.ErrorMessage
	if msg == "" {
		msg = e.Error
	}
	return &APIError{Endpoint: endpoint, Code: *e.ErrorCode, Message: msg}
}

// do waits for the limiter, performs the request and unwraps the envelope.
func (c caller) do(ctx context.Context, endpoint, method string, body any, out any, opts ...acqhttp.RequestOption) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var env envelope
	err := c.opts.HTTP.JSON(ctx, method, c.opts.BaseURL+endpoint, body, &env, opts...)
	if err != nil {
		var se *acqhttp.StatusError
		if !errors.As(err, &se) {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
		if se.Code == http.StatusTooManyRequests {
			return &APIError{Endpoint: endpoint, Code: codeRateLimit, Message: se.Status}
		}
		// Error statuses usually still carry an envelope.
		if json.Unmarshal(se.Body, &env) != nil || env.err(endpoint) == nil {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
	}
	if err := env.err(endpoint); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = env.Data
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", endpoint, err)
	}
	return nil
}

// metadataRecord is a per-scene metadata bundle. Legacy responses use
// metadataFields, M2M responses use metadata.
type metadataRecord struct {
	EntityID       string          `json:"entityId"`
	MetadataFields []MetadataField `json:"metadataFields"`
	Metadata       []MetadataField `json:"metadata"`
}

func decodeMetadata(data json.RawMessage) (map[string][]MetadataField, error) {
	var records []metadataRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	out := make(map[string][]MetadataField, len(records))
	for _, r := range records {
		fields := r.MetadataFields
		if len(fields) == 0 {
			fields = r.Metadata
		}
		out[r.EntityID] = fields
	}
	return out, nil
}

type rawDataset struct {
	DatasetName     string `json:"datasetName"`
	DatasetAlias    string `json:"datasetAlias"`
	DatasetFullName string `json:"datasetFullName"`
	CollectionName  string `json:"collectionName"`
}

func decodeDatasets(data json.RawMessage) ([]Dataset, error) {
	var raws []rawDataset
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode datasets: %w", err)
	}
	out := make([]Dataset, 0, len(raws))
	for _, r := range raws {
		d := Dataset{Name: r.DatasetName, Title: r.DatasetFullName}
		if r.DatasetAlias != "" {
			d.Name = r.DatasetAlias
		}
		if r.CollectionName != "" {
			d.Title = r.CollectionName
		}
		out = append(out, d)
	}
	return out, nil
}

type rawField struct {
	FieldID    json.RawMessage `json:"fieldId"`
	ID         json.RawMessage `json:"id"`
	Name       string          `json:"name"`
	FieldLabel string          `json:"fieldLabel"`
	ValueList  []struct {
		Value json.RawMessage `json:"value"`
		Name  string          `json:"name"`
	} `json:"valueList"`
}

func decodeFields(data json.RawMessage) ([]Field, error) {
	var raws []rawField
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	out := make([]Field, 0, len(raws))
	for _, r := range raws {
		f := Field{ID: rawString(r.FieldID), Name: r.Name}
		if f.ID == "" {
			f.ID = rawString(r.ID)
		}
		if f.Name == "" {
			f.Name = r.FieldLabel
		}
		for _, v := range r.ValueList {
			f.Values = append(f.Values, FieldValue{Value: rawString(v.Value), Name: v.Name})
		}
		out = append(out, f)
	}
	return out, nil
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/ligustah/sceneslurp/internal/auth"
	"github.com/ligustah/sceneslurp/internal/retry"
)

// TokenSource yields a currently valid session token.
type TokenSource interface {
	Token(ctx context.Context) (auth.Token, error)
}

// Options configures a Client.
type Options struct {
	// RateLimitDelay is the pause after a RATE_LIMIT answer.
	// Default: 5m
	RateLimitDelay time.Duration

	// RateLimitRetries bounds retries after RATE_LIMIT answers.
	// Default: 3
	RateLimitRetries int

	// Sleep waits out rate limits. Default: retry.Sleep.
	Sleep retry.Sleeper

	Logger *slog.Logger
}

// Client searches the catalog through a Protocol.
type Client struct {
	proto  Protocol
	tokens TokenSource
	opts   Options
	log    *slog.Logger
}

// NewClient creates a client. tokens is usually an *auth.TokenCache built
// on proto.
func NewClient(proto Protocol, tokens TokenSource, opts Options) *Client {
	if opts.RateLimitDelay <= 0 {
		opts.RateLimitDelay = 5 * time.Minute
	}
	if opts.RateLimitRetries <= 0 {
		opts.RateLimitRetries = 3
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("component", "catalog")
	}
	return &Client{proto: proto, tokens: tokens, opts: opts, log: log}
}

// Protocol returns the protocol the client speaks.
func (c *Client) Protocol() Protocol {
	return c.proto
}

// SearchOption adjusts what Search does with the raw results.
type SearchOption func(*searchConfig)

type searchConfig struct {
	enrich bool
	tiers  map[string]bool
	filter FootprintFilter
	aoi    orb.Polygon
}

// WithEnrich fills detailed metadata before returning.
func WithEnrich() SearchOption {
	return func(s *searchConfig) { s.enrich = true }
}

// WithTiers keeps only Landsat scenes in the given collection tiers.
// Scenes of untiered platforms pass unchanged.
func WithTiers(tiers ...string) SearchOption {
	return func(s *searchConfig) {
		s.tiers = make(map[string]bool, len(tiers))
		for _, t := range tiers {
			s.tiers[t] = true
		}
	}
}

// WithFootprintFilter drops scenes whose footprint f says does not
// intersect aoi.
func WithFootprintFilter(f FootprintFilter, aoi orb.Polygon) SearchOption {
	return func(s *searchConfig) {
		s.filter = f
		s.aoi = aoi
	}
}

// Search runs q and returns normalized products.
//
// When the service keeps answering RATE_LIMIT past the retry budget,
// Search returns an empty, non-nil slice and a *RateLimitedError.
func (c *Client) Search(ctx context.Context, q Query, opts ...SearchOption) ([]Product, error) {
	var cfg searchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	products, err := c.search(ctx, q)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			c.log.Error("giving up search", "dataset", q.Dataset(), "error", err)
			return []Product{}, err
		}
		return nil, err
	}

	if cfg.enrich && len(products) > 0 {
		products, err = NewEnricher(c).Enrich(ctx, products)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				return []Product{}, err
			}
			return nil, err
		}
	}

	if cfg.tiers != nil {
		products = filterProducts(products, func(p Product) bool {
			return p.Platform != PlatformLandsat8 || cfg.tiers[p.Tier()]
		})
	}
	if cfg.filter != nil {
		products = filterProducts(products, func(p Product) bool {
			return cfg.filter.Intersects(p.Footprint, cfg.aoi)
		})
	}

	c.log.Info("search complete", "dataset", q.Dataset(), "products", len(products))
	return products, nil
}

func (c *Client) search(ctx context.Context, q Query) ([]Product, error) {
	start := 1
	var all []Product

	for {
		var raw json.RawMessage
		err := c.call(ctx, func(token string) Request {
			return c.proto.SearchRequest(q, token, start)
		}, &raw)
		if err != nil {
			return nil, err
		}

		page, err := c.proto.DecodeSearch(raw, q.Dataset())
		if err != nil {
			return nil, err
		}
		all = append(all, page.Products...)

		if len(all) >= q.MaxResults() {
			if page.TotalHits > q.MaxResults() || len(all) > q.MaxResults() {
				c.log.Warn("search results truncated",
					"dataset", q.Dataset(), "total_hits", page.TotalHits, "max_results", q.MaxResults())
			}
			return all[:q.MaxResults()], nil
		}
		if len(page.Products) == 0 || page.NextRecord <= start ||
			(page.TotalHits > 0 && page.NextRecord > page.TotalHits) {
			break
		}
		start = page.NextRecord
	}

	if all == nil {
		all = []Product{}
	}
	return all, nil
}

// SearchByTiles resolves the query's area to grid tiles and searches by
// tile instead of by shape. q must carry a polygon or bound.
func (c *Client) SearchByTiles(ctx context.Context, q Query, resolver TileResolver, opts ...SearchOption) ([]Product, error) {
	aoi := q.Polygon()
	if aoi == nil {
		b, ok := q.Bound()
		if !ok {
			return nil, fmt.Errorf("%w: tile search needs an area", ErrInvalidQuery)
		}
		aoi = b.ToPolygon()
	}

	var tiles []string
	var err error
	switch q.Platform() {
	case PlatformSentinel2:
		var zones []string
		zones, err = resolver.GridZones(aoi)
		if err == nil {
			tiles, err = resolver.SentinelTiles(aoi, zones)
		}
	case PlatformLandsat8:
		tiles, err = resolver.PathRows(aoi)
	default:
		return nil, fmt.Errorf("%w: no tiling for dataset %s", ErrInvalidQuery, q.Dataset())
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tiles: %w", err)
	}
	if len(tiles) == 0 {
		return []Product{}, nil
	}

	with := []QueryOption{WithBound(aoi.Bound()), WithTiles(tiles...)}
	if q.Platform() == PlatformLandsat8 && c.proto.Name() == "legacy" {
		with = append(with, WithCloudCeiling(ceilDecile(q.CloudCeiling())))
	}
	tq, err := q.With(with...)
	if err != nil {
		return nil, err
	}
	c.log.Debug("searching by tiles", "dataset", q.Dataset(), "tiles", tiles)
	return c.Search(ctx, tq, opts...)
}

// ceilDecile rounds a Landsat cloud ceiling up to the next multiple of ten,
// the granularity legacy tile searches filter on.
func ceilDecile(pct int) int {
	if pct <= 0 {
		return 0
	}
	d := (pct + 9) / 10 * 10
	if d > 100 {
		return 100
	}
	return d
}

// ResolveURL returns a download URL for p in format (a product code such
// as "STANDARD" or "FR_BUND").
func (c *Client) ResolveURL(ctx context.Context, p Product, format string) (string, error) {
	var u string
	err := c.withToken(ctx, func(token string) error {
		var err error
		u, err = c.proto.ResolveURL(ctx, token, p, format)
		return err
	})
	return u, err
}

// Datasets lists datasets matching term.
func (c *Client) Datasets(ctx context.Context, term string) ([]Dataset, error) {
	var raw json.RawMessage
	err := c.call(ctx, func(token string) Request {
		return c.proto.DatasetsRequest(term, token)
	}, &raw)
	if err != nil {
		return nil, err
	}
	return c.proto.DecodeDatasets(raw)
}

// DatasetFields lists the search fields of dataset.
func (c *Client) DatasetFields(ctx context.Context, dataset string) ([]Field, error) {
	var raw json.RawMessage
	err := c.call(ctx, func(token string) Request {
		return c.proto.DatasetFieldsRequest(dataset, token)
	}, &raw)
	if err != nil {
		return nil, err
	}
	return c.proto.DecodeFields(raw)
}

func (c *Client) call(ctx context.Context, build func(token string) Request, out any) error {
	return c.withToken(ctx, func(token string) error {
		return c.proto.Call(ctx, token, build(token), out)
	})
}

// withToken runs fn with a fresh token, backing off on RATE_LIMIT.
func (c *Client) withToken(ctx context.Context, fn func(token string) error) error {
	for retries := 0; ; retries++ {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		err = fn(tok.Value)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.RateLimited() {
			return err
		}
		if retries >= c.opts.RateLimitRetries {
			return &RateLimitedError{Retries: retries, Err: err}
		}

		c.log.Warn("rate limited, backing off", "delay", c.opts.RateLimitDelay, "retry", retries+1)
		if err := c.opts.Sleep(ctx, c.opts.RateLimitDelay); err != nil {
			return err
		}
	}
}

func filterProducts(products []Product, keep func(Product) bool) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

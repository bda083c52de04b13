package catalog

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// DefaultMaxResults caps a search when the query does not.
const DefaultMaxResults = 1000

// Query is an immutable search description. Build it with NewQuery.
type Query struct {
	dataset    string
	bound      *orb.Bound
	polygon    orb.Polygon
	tiles      []string
	start, end time.Time
	cloud      int
	names      []string
	maxResults int
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// WithBound restricts the search to a lon/lat bounding box.
func WithBound(b orb.Bound) QueryOption {
	return func(q *Query) {
		q.bound = &b
		q.polygon = nil
	}
}

// WithPolygon restricts the search to a polygon. Protocols that cannot
// express polygons fall back to its bounding box.
func WithPolygon(p orb.Polygon) QueryOption {
	return func(q *Query) {
		b := p.Bound()
		q.bound = &b
		q.polygon = p.Clone()
	}
}

// WithTiles restricts the search to grid tiles: six-digit WRS-2 path/row
// ids ("026027") for Landsat, MGRS tiles ("17TNJ") for Sentinel-2.
func WithTiles(tiles ...string) QueryOption {
	return func(q *Query) {
		q.tiles = append([]string(nil), tiles...)
	}
}

// WithDates restricts acquisition to [start, end].
func WithDates(start, end time.Time) QueryOption {
	return func(q *Query) {
		q.start, q.end = start, end
	}
}

// WithCloudCeiling sets the maximum cloud cover percentage. Default: 100.
func WithCloudCeiling(pct int) QueryOption {
	return func(q *Query) {
		q.cloud = pct
	}
}

// WithNames restricts the search to explicit display names.
func WithNames(names ...string) QueryOption {
	return func(q *Query) {
		q.names = append([]string(nil), names...)
	}
}

// WithMaxResults caps the number of returned products.
func WithMaxResults(n int) QueryOption {
	return func(q *Query) {
		q.maxResults = n
	}
}

// NewQuery builds and validates a query for dataset.
func NewQuery(dataset string, opts ...QueryOption) (Query, error) {
	q := Query{dataset: dataset, cloud: 100, maxResults: DefaultMaxResults}
	for _, opt := range opts {
		opt(&q)
	}

	if q.dataset == "" {
		return Query{}, fmt.Errorf("%w: dataset is required", ErrInvalidQuery)
	}
	if q.cloud < 0 || q.cloud > 100 {
		return Query{}, fmt.Errorf("%w: cloud ceiling %d outside 0..100", ErrInvalidQuery, q.cloud)
	}
	if !q.start.IsZero() && !q.end.IsZero() && q.end.Before(q.start) {
		return Query{}, fmt.Errorf("%w: end date before start date", ErrInvalidQuery)
	}
	if q.maxResults <= 0 {
		return Query{}, fmt.Errorf("%w: max results must be positive", ErrInvalidQuery)
	}
	if q.bound == nil && len(q.tiles) == 0 && len(q.names) == 0 {
		return Query{}, fmt.Errorf("%w: need a bound, polygon, tiles or names", ErrInvalidQuery)
	}
	return q, nil
}

func (q Query) Dataset() string { return q.dataset }

// Bound returns the bounding box, if any.
func (q Query) Bound() (orb.Bound, bool) {
	if q.bound == nil {
		return orb.Bound{}, false
	}
	return *q.bound, true
}

// Polygon returns the polygon, or nil when the query uses a plain bound.
func (q Query) Polygon() orb.Polygon { return q.polygon.Clone() }

func (q Query) Tiles() []string { return append([]string(nil), q.tiles...) }

func (q Query) Start() time.Time { return q.start }

func (q Query) End() time.Time { return q.end }

func (q Query) CloudCeiling() int { return q.cloud }

func (q Query) Names() []string { return append([]string(nil), q.names...) }

func (q Query) MaxResults() int { return q.maxResults }

// Platform is PlatformOf(q.Dataset()).
func (q Query) Platform() string { return PlatformOf(q.dataset) }

// With returns a copy of q with opts applied and validated again.
func (q Query) With(opts ...QueryOption) (Query, error) {
	c := q
	c.tiles = q.Tiles()
	c.names = q.Names()
	c.polygon = q.Polygon()
	if q.bound != nil {
		b := *q.bound
		c.bound = &b
	}
	all := []QueryOption{func(n *Query) { *n = c }}
	return NewQuery(q.dataset, append(all, opts...)...)
}

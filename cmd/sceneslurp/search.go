package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/ligustah/sceneslurp/internal/catalog"
)

// searchFlags describe a catalog query on the command line.
type searchFlags struct {
	dataset string
	bbox    string
	aoi     string
	tiles   string
	names   string
	start   string
	end     string
	cloud   int
	max     int
	tiers   string
	enrich  bool
}

func registerSearch(fs *flag.FlagSet) *searchFlags {
	f := &searchFlags{}
	fs.StringVar(&f.dataset, "dataset", "", "Dataset name, e.g. landsat_ot_c2_l1 or sentinel_2a")
	fs.StringVar(&f.bbox, "bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat")
	fs.StringVar(&f.aoi, "aoi", "", "GeoJSON file with the area of interest polygon")
	fs.StringVar(&f.tiles, "tiles", "", "Comma-separated WRS-2 path/rows or MGRS tiles")
	fs.StringVar(&f.names, "names", "", "Comma-separated product display names")
	fs.StringVar(&f.start, "start", "", "Earliest acquisition date (YYYY-MM-DD)")
	fs.StringVar(&f.end, "end", "", "Latest acquisition date (YYYY-MM-DD)")
	fs.IntVar(&f.cloud, "cloud", 100, "Maximum cloud cover percentage")
	fs.IntVar(&f.max, "max", catalog.DefaultMaxResults, "Maximum number of results")
	fs.StringVar(&f.tiers, "tiers", "", "Comma-separated Landsat collection tiers to keep (T1,T2,RT)")
	fs.BoolVar(&f.enrich, "enrich", false, "Fetch detailed metadata for every product")
	return f
}

func (f *searchFlags) set() bool {
	return f.dataset != ""
}

// query builds the catalog query and search options.
func (f *searchFlags) query() (catalog.Query, []catalog.SearchOption, error) {
	opts := []catalog.QueryOption{
		catalog.WithCloudCeiling(f.cloud),
		catalog.WithMaxResults(f.max),
	}
	var searchOpts []catalog.SearchOption

	if f.bbox != "" {
		b, err := parseBBox(f.bbox)
		if err != nil {
			return catalog.Query{}, nil, err
		}
		opts = append(opts, catalog.WithBound(b))
	}
	if f.aoi != "" {
		poly, err := readAOI(f.aoi)
		if err != nil {
			return catalog.Query{}, nil, err
		}
		opts = append(opts, catalog.WithPolygon(poly))
		searchOpts = append(searchOpts, catalog.WithFootprintFilter(catalog.FootprintFilterFunc(boundsIntersect), poly))
	}
	if f.tiles != "" {
		opts = append(opts, catalog.WithTiles(splitList(f.tiles)...))
	}
	if f.names != "" {
		opts = append(opts, catalog.WithNames(splitList(f.names)...))
	}
	if f.start != "" || f.end != "" {
		start, err := parseDate(f.start)
		if err != nil {
			return catalog.Query{}, nil, err
		}
		end, err := parseDate(f.end)
		if err != nil {
			return catalog.Query{}, nil, err
		}
		if !end.IsZero() {
			end = end.Add(24*time.Hour - time.Second)
		}
		opts = append(opts, catalog.WithDates(start, end))
	}
	if f.tiers != "" {
		searchOpts = append(searchOpts, catalog.WithTiers(splitList(f.tiers)...))
	}
	if f.enrich {
		searchOpts = append(searchOpts, catalog.WithEnrich())
	}

	q, err := catalog.NewQuery(f.dataset, opts...)
	return q, searchOpts, err
}

func runSearch(args []string) int {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	common := registerCommon(fs)
	search := registerSearch(fs)
	output := fs.String("output", "", "Write products to this file instead of stdout")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: sceneslurp search -dataset <name> [options]

Query the USGS catalog. Products are printed as a JSON array that
'sceneslurp download -products' and 'sceneslurp order submit -products'
accept.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if !search.set() {
		fmt.Fprintln(os.Stderr, "Error: -dataset is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	setupLogging(common.verbose)

	cfg, err := common.load()
	if err != nil {
		return fail(err)
	}
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	products, err := a.search(ctx, search)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(os.Stderr, "[sceneslurp] Found %d products\n", len(products))

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fail(err)
		}
		defer f.Close()
		w = f
	}
	if err := writeProducts(w, products); err != nil {
		return fail(err)
	}
	return ExitSuccess
}

func (a *app) search(ctx context.Context, f *searchFlags) ([]catalog.Product, error) {
	q, opts, err := f.query()
	if err != nil {
		return nil, err
	}
	return a.catalog.Search(ctx, q, opts...)
}

func writeProducts(w io.Writer, products []catalog.Product) error {
	if products == nil {
		products = []catalog.Product{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(products)
}

func readProducts(path string) ([]catalog.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read products: %w", err)
	}
	var products []catalog.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parse products %s: %w", path, err)
	}
	return products, nil
}

func parseBBox(s string) (orb.Bound, error) {
	parts := splitList(s)
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("%w: bbox needs four numbers, got %q", catalog.ErrInvalidQuery, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%w: bbox: %v", catalog.ErrInvalidQuery, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("%w: bbox min exceeds max", catalog.ErrInvalidQuery)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// readAOI loads the first polygon from a GeoJSON geometry, feature or
// feature collection.
func readAOI(path string) (orb.Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aoi: %w", err)
	}
	return parseAOI(data)
}

func parseAOI(data []byte) (orb.Polygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: aoi: %v", catalog.ErrInvalidQuery, err)
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: aoi: %v", catalog.ErrInvalidQuery, err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: aoi: %v", catalog.ErrInvalidQuery, err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: aoi: %v", catalog.ErrInvalidQuery, err)
		}
		geoms = append(geoms, g.Geometry())
	}

	for _, g := range geoms {
		switch g := g.(type) {
		case orb.Polygon:
			return g, nil
		case orb.MultiPolygon:
			if len(g) > 0 {
				return g[0], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: aoi contains no polygon", catalog.ErrInvalidQuery)
}

// boundsIntersect keeps scenes whose footprint box overlaps the area of
// interest. Scenes without a footprint are kept.
func boundsIntersect(footprint, aoi orb.Polygon) bool {
	if len(footprint) == 0 {
		return true
	}
	return footprint.Bound().Intersects(aoi.Bound())
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", catalog.ErrInvalidQuery, s, err)
	}
	return t, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// products reads the product list from path or, when path is empty, runs
// the search described by f.
func (a *app) products(ctx context.Context, f *searchFlags, path string) ([]catalog.Product, error) {
	if path != "" {
		return readProducts(path)
	}
	return a.search(ctx, f)
}

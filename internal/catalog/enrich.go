package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Enricher fills per-scene attributes from the detailed metadata
// endpoint. It issues one lookup per distinct dataset, never one per
// product.
type Enricher struct {
	client *Client
}

// NewEnricher returns an Enricher that calls through c.
func NewEnricher(c *Client) *Enricher {
	return &Enricher{client: c}
}

// Enrich returns copies of products with detailed attributes filled in.
// Products the service returns no bundle for come back unchanged. On a
// failed lookup the input is returned as-is together with the error.
func (e *Enricher) Enrich(ctx context.Context, products []Product) ([]Product, error) {
	out := make([]Product, len(products))
	copy(out, products)

	var datasets []string
	members := make(map[string][]int)
	for i, p := range out {
		if _, ok := members[p.DatasetName]; !ok {
			datasets = append(datasets, p.DatasetName)
		}
		members[p.DatasetName] = append(members[p.DatasetName], i)
	}

	for _, ds := range datasets {
		idx := members[ds]
		ids := make([]string, len(idx))
		for j, i := range idx {
			ids[j] = out[i].EntityID
		}

		var raw json.RawMessage
		err := e.client.call(ctx, func(token string) Request {
			return e.client.proto.MetadataRequest(ds, ids, token)
		}, &raw)
		if err != nil {
			return products, fmt.Errorf("metadata for %s: %w", ds, err)
		}
		bundles, err := e.client.proto.DecodeMetadata(raw)
		if err != nil {
			return products, fmt.Errorf("metadata for %s: %w", ds, err)
		}

		for _, i := range idx {
			fields, ok := bundles[out[i].EntityID]
			if !ok {
				e.client.log.Debug("no metadata bundle", "entity_id", out[i].EntityID)
				continue
			}
			applyMetadata(&out[i], fields)
		}
	}
	return out, nil
}

func applyMetadata(p *Product, fields []MetadataField) {
	p.DetailedMetadata = append([]MetadataField(nil), fields...)
	switch p.Platform {
	case PlatformLandsat8:
		applyLandsat(p, fields)
	case PlatformSentinel2:
		applySentinel(p, fields)
	}
}

// landsatTimeLayout parses "2017:135:18:29:18.4577340" (year, day of year).
const landsatTimeLayout = "2006:002:15:04:05.999999999"

func applyLandsat(p *Product, fields []MetadataField) {
	if v, ok := Lookup(fields, "UTM Zone"); ok {
		if zone, ok := parseInt(v); ok {
			p.UTMZone = zone
			if lat, ok := Lookup(fields, "Center Latitude"); ok {
				if southern(lat) {
					p.EPSGCode = 32700 + zone
				} else {
					p.EPSGCode = 32600 + zone
				}
			}
		}
	}
	if v, ok := Lookup(fields, "Collection Category"); ok {
		p.CollectionCategory = strings.TrimSpace(v)
	}
	if v, ok := Lookup(fields, "Start Time"); ok {
		if t := parseTime(v, landsatTimeLayout); t != nil {
			p.AcquisitionStart = t
		}
	}
	if v, ok := Lookup(fields, "Stop Time"); ok {
		if t := parseTime(v, landsatTimeLayout); t != nil {
			p.AcquisitionEnd = t
		}
	}

	path, okPath := Lookup(fields, "WRS Path")
	row, okRow := Lookup(fields, "WRS Row")
	if okPath && okRow {
		pn, ok1 := parseInt(path)
		rn, ok2 := parseInt(row)
		if ok1 && ok2 {
			p.PathRow = fmt.Sprintf("%03d%03d", pn, rn)
		}
	}

	if v, ok := Lookup(fields, "Land Cloud Cover"); ok {
		p.LandCloudPercent = parsePercent(v)
	}
	if v, ok := Lookup(fields, "Scene Cloud Cover"); ok {
		if pct := parsePercent(v); pct != nil {
			p.CloudPercent = pct
		}
	}
	if v, ok := Lookup(fields, "Sensor Identifier"); ok {
		p.Instrument = strings.TrimSpace(v)
	}
	p.VendorName = p.DisplayName
}

func applySentinel(p *Product, fields []MetadataField) {
	if v, ok := Lookup(fields, "EPSG Code"); ok {
		if code, ok := parseInt(v); ok {
			p.EPSGCode = code
		}
	}
	if v, ok := Lookup(fields, "Acquisition Start Date"); ok {
		if t := parseTime(v, m2mTimeLayouts...); t != nil {
			p.AcquisitionStart = t
		}
	}
	if v, ok := Lookup(fields, "Acquisition End Date"); ok {
		if t := parseTime(v, m2mTimeLayouts...); t != nil {
			p.AcquisitionEnd = t
		}
	}
	if v, ok := Lookup(fields, "Cloud Cover"); ok {
		if pct := parsePercent(v); pct != nil {
			p.CloudPercent = pct
		}
	}
	if v, ok := Lookup(fields, "Tile Number"); ok {
		p.MGRS = strings.TrimSpace(v)
	}

	p.VendorName = p.DisplayName
	// The stored product id carries the datastrip's tile; swap in the
	// scene's own tile.
	if v, ok := Lookup(fields, "Vendor Product ID"); ok && v != "" {
		parts := strings.Split(v, "_")
		if len(parts) > 5 && p.MGRS != "" {
			tile := p.MGRS
			if !strings.HasPrefix(tile, "T") {
				tile = "T" + tile
			}
			parts[5] = tile
		}
		p.VendorName = strings.Join(parts, "_")
	}
}

// southern reports whether a latitude such as `45°26'48.67"S` or
// "-45.44" lies south of the equator.
func southern(lat string) bool {
	lat = strings.TrimSpace(lat)
	if lat == "" {
		return false
	}
	switch lat[len(lat)-1] {
	case 'S', 's':
		return true
	case 'N', 'n':
		return false
	}
	f, err := strconv.ParseFloat(lat, 64)
	return err == nil && f < 0
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

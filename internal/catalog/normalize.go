package catalog

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const dateLayout = "2006-01-02"

func mbrFilter(b orb.Bound) map[string]any {
	return map[string]any{
		"filterType": "mbr",
		"lowerLeft":  map[string]float64{"latitude": b.Min.Lat(), "longitude": b.Min.Lon()},
		"upperRight": map[string]float64{"latitude": b.Max.Lat(), "longitude": b.Max.Lon()},
	}
}

// footprint decodes a GeoJSON geometry. Multi-polygons keep their first
// member as the footprint; the bound always covers the whole geometry.
func footprint(raw json.RawMessage) (orb.Polygon, orb.Bound) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, orb.Bound{}
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil || g.Geometry() == nil {
		return nil, orb.Bound{}
	}

	geom := g.Geometry()
	switch v := geom.(type) {
	case orb.Polygon:
		return v, v.Bound()
	case orb.MultiPolygon:
		if len(v) > 0 {
			return v[0], v.Bound()
		}
	}
	return nil, geom.Bound()
}

func parseTime(value string, layouts ...string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parsePercent(value string) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		return nil
	}
	return &f
}

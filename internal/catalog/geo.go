package catalog

import "github.com/paulmach/orb"

// TileResolver maps an area of interest onto grid tiles. Implementations
// live outside this module.
type TileResolver interface {
	// GridZones returns the coarse MGRS grid zones (e.g. "17T").
	GridZones(aoi orb.Polygon) ([]string, error)

	// SentinelTiles returns the 100 km MGRS tiles inside zones.
	SentinelTiles(aoi orb.Polygon, zones []string) ([]string, error)

	// PathRows returns six-digit WRS-2 path/row ids.
	PathRows(aoi orb.Polygon) ([]string, error)
}

// FootprintFilter decides whether a scene footprint truly intersects the
// area of interest.
type FootprintFilter interface {
	Intersects(footprint, aoi orb.Polygon) bool
}

// FootprintFilterFunc adapts a function to FootprintFilter.
type FootprintFilterFunc func(footprint, aoi orb.Polygon) bool

func (f FootprintFilterFunc) Intersects(footprint, aoi orb.Polygon) bool {
	return f(footprint, aoi)
}

package catalog

import (
	"strconv"
	"strings"
)

// Search field ids.
const (
	fieldLandsatCloud     = 20522
	fieldLandsatName      = 20520
	fieldWRSPath          = 20514
	fieldWRSRow           = 20516
	fieldSentinelCloud    = 18696
	fieldSentinelTile     = 18701
	fieldSentinelProduct  = 18702
	fieldSentinelTileName = 18699
)

// criteria builds filter trees. The legacy API keys field ids as
// "fieldId", M2M as "filterId".
type criteria struct {
	idKey string
}

func (c criteria) value(field int, value, operand string) map[string]any {
	return map[string]any{
		"filterType": "value",
		c.idKey:      field,
		"value":      value,
		"operand":    operand,
	}
}

func (c criteria) between(field int, first, second string) map[string]any {
	return map[string]any{
		"filterType":  "between",
		c.idKey:       field,
		"firstValue":  first,
		"secondValue": second,
	}
}

func group(kind string, children []map[string]any) map[string]any {
	return map[string]any{"filterType": kind, "childFilters": children}
}

// tiles returns an or-group matching any of the tiles, or nil.
func (c criteria) tiles(platform string, tiles []string) map[string]any {
	var children []map[string]any
	for _, t := range tiles {
		switch platform {
		case PlatformLandsat8:
			path, row, ok := splitPathRow(t)
			if !ok {
				continue
			}
			children = append(children, group("and", []map[string]any{
				c.value(fieldWRSPath, " "+path, "="),
				c.value(fieldWRSRow, " "+row, "="),
			}))
		case PlatformSentinel2:
			children = append(children, c.value(fieldSentinelTile, t, "like"))
		}
	}
	if len(children) == 0 {
		return nil
	}
	return group("or", children)
}

// names returns an or-group matching any of the display names, or nil.
// Sentinel-2 product ids are matched on both the product id prefix and
// the derived L1C tile id, since the catalog stores the product id with
// the datastrip's tile.
func (c criteria) names(platform string, names []string) map[string]any {
	var children []map[string]any
	for _, n := range names {
		switch platform {
		case PlatformLandsat8:
			children = append(children, c.value(fieldLandsatName, n, "like"))
		case PlatformSentinel2:
			parts := strings.Split(n, "_")
			if strings.HasPrefix(n, "S2") && len(parts) > 5 {
				prefix := n
				if len(prefix) > 27 {
					prefix = prefix[:27]
				}
				children = append(children, group("and", []map[string]any{
					c.value(fieldSentinelProduct, prefix, "like"),
					c.value(fieldSentinelTileName, "L1C_"+parts[5], "like"),
				}))
			} else {
				children = append(children, c.value(fieldSentinelTileName, n, "like"))
			}
		}
	}
	if len(children) == 0 {
		return nil
	}
	return group("or", children)
}

// splitPathRow splits "026027" into "026", "027".
func splitPathRow(s string) (path, row string, ok bool) {
	if len(s) != 6 {
		return "", "", false
	}
	if _, err := strconv.Atoi(s); err != nil {
		return "", "", false
	}
	return s[:3], s[3:], true
}

package catalog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Platform names.
const (
	PlatformLandsat8  = "Landsat-8"
	PlatformSentinel2 = "Sentinel-2"
	PlatformUnknown   = "Unknown"
)

// PlatformOf infers the platform from a dataset name such as
// "LANDSAT_8_C1", "landsat_ot_c2_l1" or "SENTINEL_2A".
func PlatformOf(dataset string) string {
	d := strings.ToLower(dataset)
	switch {
	case strings.Contains(d, "landsat"):
		return PlatformLandsat8
	case strings.Contains(d, "sentinel"):
		return PlatformSentinel2
	default:
		return PlatformUnknown
	}
}

// MetadataField is one named attribute of a scene's detailed metadata.
type MetadataField struct {
	FieldName string `json:"fieldName"`
	Value     string `json:"value"`
}

// UnmarshalJSON accepts string, numeric and null values.
func (f *MetadataField) UnmarshalJSON(data []byte) error {
	var raw struct {
		FieldName string          `json:"fieldName"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.FieldName = raw.FieldName
	f.Value = rawString(raw.Value)
	return nil
}

// Lookup returns the value of the first field called name.
func Lookup(fields []MetadataField, name string) (string, bool) {
	for _, f := range fields {
		if f.FieldName == name {
			return f.Value, true
		}
	}
	return "", false
}

// Product is one catalog scene. Optional attributes that the service did
// not report are nil or empty.
type Product struct {
	EntityID    string
	DatasetName string
	DisplayName string
	Platform    string

	Footprint orb.Polygon
	Bound     orb.Bound

	PreviewURL   string
	ThumbnailURL string
	MetadataURL  string
	DownloadURL  string
	OrderURL     string

	AcquisitionStart *time.Time
	AcquisitionEnd   *time.Time
	PublishedAt      *time.Time

	CloudPercent     *float64
	LandCloudPercent *float64

	PathRow            string
	MGRS               string
	UTMZone            int
	EPSGCode           int
	CollectionCategory string
	Instrument         string
	VendorName         string
	Summary            string
	Options            []string
	BulkOrdered        bool

	DetailedMetadata []MetadataField
}

var tiers = map[string]bool{"T1": true, "T2": true, "RT": true}

// Tier returns the collection tier (T1, T2, RT). When the scene has not
// been enriched it falls back to the suffix of the Landsat display id.
func (p Product) Tier() string {
	if p.CollectionCategory != "" {
		return p.CollectionCategory
	}
	if i := strings.LastIndex(p.DisplayName, "_"); i >= 0 {
		if s := p.DisplayName[i+1:]; tiers[s] {
			return s
		}
	}
	return ""
}

// rawString renders a JSON scalar as a string. Strings are unquoted,
// null becomes "", anything else keeps its JSON text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

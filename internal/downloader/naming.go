package downloader

import (
	"path"
	"strings"

	"github.com/ligustah/sceneslurp/internal/catalog"
)

// FileName derives the local file name for a product in the given
// download format. It reports false when the format has no naming rule and
// the name must come from the response instead.
func FileName(p catalog.Product, format string) (string, bool) {
	base := p.DisplayName
	if base == "" {
		base = p.EntityID
	}
	base = cleanFileName(base)
	if base == "" {
		return "", false
	}

	platform := p.Platform
	if platform == "" || platform == catalog.PlatformUnknown {
		platform = catalog.PlatformOf(p.DatasetName)
	}

	format = strings.ToUpper(format)
	switch platform {
	case catalog.PlatformLandsat8:
		switch format {
		case "FR_BUND":
			return base + "_FR_BUND.zip", true
		case "FR_THERM", "FR_QB", "FR_REFL":
			return base + "_" + format + ".jpg", true
		case "STANDARD":
			return base + ".tar.gz", true
		}
	case catalog.PlatformSentinel2:
		switch format {
		case "STANDARD":
			return base + ".zip", true
		case "FRB":
			return base + "_FRB.jpg", true
		}
	}
	return "", false
}

func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

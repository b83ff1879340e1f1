// Package crs identifies coordinate reference systems attached to vector
// layers and checks that layers which are compared share the same one.
package crs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrMismatch is returned by Match when two layers use different systems.
	ErrMismatch = eris.New("crs: coordinate reference systems do not match")
	// ErrUnknown is returned by Match when either side has no known system.
	ErrUnknown = eris.New("crs: unknown coordinate reference system")
)

// CRS is a coordinate reference system. EPSG is zero when the code could not
// be determined; Name and WKT are kept as read from the source.
type CRS struct {
	EPSG int    `json:"epsg,omitempty" yaml:"epsg,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	WKT  string `json:"-" yaml:"-"`
}

// Well-known systems used by the sample datasets.
var (
	WGS84           = CRS{EPSG: 4326, Name: "WGS 84"}
	WebMercator     = CRS{EPSG: 3857, Name: "WGS 84 / Pseudo-Mercator"}
	BritishNatGrid  = CRS{EPSG: 27700, Name: "OSGB 1936 / British National Grid"}
	geographicCodes = map[int]bool{4326: true, 4258: true, 4277: true, 4269: true}
)

// knownNames maps normalised PROJCS/GEOGCS names, as written by ESRI and
// OGC tooling, to EPSG codes.
var knownNames = map[string]int{
	"britishnationalgrid":               27700,
	"osgb1936britishnationalgrid":       27700,
	"osgb36britishnationalgrid":         27700,
	"gcswgs1984":                        4326,
	"wgs84":                             4326,
	"wgs1984":                           4326,
	"gcsosgb1936":                       4277,
	"osgb1936":                          4277,
	"wgs84pseudomercator":               3857,
	"wgs1984webmercatorauxiliarysphere": 3857,
	"webmercator":                       3857,
	"gcsetrs1989":                       4258,
	"gcsnorthamerican1983":              4269,
}

var (
	nameRe      = regexp.MustCompile(`^\s*(PROJCS|GEOGCS|PROJCRS|GEOGCRS|GEODCRS)\s*\[\s*"([^"]*)"`)
	authorityRe = regexp.MustCompile(`(?:AUTHORITY|ID)\s*\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]\s*\]*\s*$`)
	epsgRe      = regexp.MustCompile(`^(?i:epsg:)?(\d+)$`)
)

// FromEPSG returns the CRS for an EPSG code, filling in the name for
// well-known codes.
func FromEPSG(code int) CRS {
	for _, c := range []CRS{WGS84, WebMercator, BritishNatGrid} {
		if c.EPSG == code {
			return c
		}
	}
	return CRS{EPSG: code, Name: fmt.Sprintf("EPSG:%d", code)}
}

// Parse accepts "EPSG:27700", "27700" or a WKT string.
func Parse(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, nil
	}
	if m := epsgRe.FindStringSubmatch(s); m != nil {
		code, err := strconv.Atoi(m[1])
		if err != nil {
			return CRS{}, eris.Wrapf(err, "crs: parse code %q", s)
		}
		return FromEPSG(code), nil
	}
	return ParsePRJ(s)
}

// ParsePRJ reads the WKT found in a shapefile .prj sidecar. The top-level
// name is always kept; the EPSG code comes from a trailing AUTHORITY clause
// or, failing that, from the well-known name table.
func ParsePRJ(wkt string) (CRS, error) {
	wkt = strings.TrimSpace(strings.TrimPrefix(wkt, "\ufeff"))
	m := nameRe.FindStringSubmatch(wkt)
	if m == nil {
		return CRS{}, eris.Errorf("crs: unrecognised WKT %q", truncate(wkt, 40))
	}
	c := CRS{Name: strings.ReplaceAll(m[2], "_", " "), WKT: wkt}

	if a := authorityRe.FindStringSubmatch(wkt); a != nil {
		code, err := strconv.Atoi(a[1])
		if err == nil {
			c.EPSG = code
			return c, nil
		}
	}
	if code, ok := knownNames[normalise(m[2])]; ok {
		c.EPSG = code
	}
	return c, nil
}

// IsZero reports whether nothing is known about the system.
func (c CRS) IsZero() bool {
	return c.EPSG == 0 && c.Name == "" && c.WKT == ""
}

// Equal compares by EPSG code when both are known, by normalised name
// otherwise.
func (c CRS) Equal(o CRS) bool {
	if c.EPSG != 0 && o.EPSG != 0 {
		return c.EPSG == o.EPSG
	}
	if c.Name == "" || o.Name == "" {
		return false
	}
	return normalise(c.Name) == normalise(o.Name)
}

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (c CRS) IsGeographic() bool {
	if c.EPSG != 0 {
		return geographicCodes[c.EPSG]
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(c.WKT)), "GEOGCS")
}

// Units returns the linear unit of the coordinates.
func (c CRS) Units() string {
	if c.IsGeographic() {
		return "degree"
	}
	return "metre"
}

func (c CRS) String() string {
	switch {
	case c.EPSG != 0:
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	case c.Name != "":
		return c.Name
	default:
		return "unknown"
	}
}

// Match returns nil when a and b describe the same system.
func Match(a, b CRS) error {
	if a.IsZero() || b.IsZero() {
		return eris.Wrapf(ErrUnknown, "%s vs %s", a, b)
	}
	if !a.Equal(b) {
		return eris.Wrapf(ErrMismatch, "%s vs %s", a, b)
	}
	return nil
}

func normalise(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// esriWKT holds .prj contents for systems geolab writes without a source WKT.
var esriWKT = map[int]string{
	4326:  `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`,
	27700: `PROJCS["British_National_Grid",GEOGCS["GCS_OSGB_1936",DATUM["D_OSGB_1936",SPHEROID["Airy_1830",6377563.396,299.3249646]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",400000.0],PARAMETER["False_Northing",-100000.0],PARAMETER["Central_Meridian",-2.0],PARAMETER["Scale_Factor",0.9996012717],PARAMETER["Latitude_Of_Origin",49.0],UNIT["Meter",1.0]]`,
	3857:  `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`,
}

// PRJ returns WKT suitable for a .prj sidecar: the source WKT when known,
// otherwise a built-in definition for common EPSG codes. The second result is
// false when neither is available.
func (c CRS) PRJ() (string, bool) {
	if c.WKT != "" {
		return c.WKT, true
	}
	wkt, ok := esriWKT[c.EPSG]
	return wkt, ok
}

// URN returns the OGC URN used by the legacy GeoJSON "crs" member.
func (c CRS) URN() string {
	if c.EPSG == 0 {
		return ""
	}
	return fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", c.EPSG)
}

// ParseURN reads "urn:ogc:def:crs:EPSG::27700", "EPSG:27700" or the CRS84
// alias used by GeoJSON.
func ParseURN(urn string) (CRS, error) {
	u := strings.TrimSpace(urn)
	if strings.HasSuffix(strings.ToUpper(u), "CRS84") {
		return WGS84, nil
	}
	if i := strings.LastIndex(u, ":"); i >= 0 && strings.Contains(strings.ToUpper(u), "EPSG") {
		code, err := strconv.Atoi(u[i+1:])
		if err != nil {
			return CRS{}, eris.Wrapf(err, "crs: parse urn %q", urn)
		}
		return FromEPSG(code), nil
	}
	return Parse(u)
}

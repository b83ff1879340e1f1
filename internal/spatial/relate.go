package spatial

import (
	"strings"

	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

// Predicate names a binary spatial relation.
type Predicate string

// Supported predicates.
const (
	Intersects Predicate = "intersects"
	Disjoint   Predicate = "disjoint"
	Within     Predicate = "within"
	Contains   Predicate = "contains"
	Overlaps   Predicate = "overlaps"
	Touches    Predicate = "touches"
	Crosses    Predicate = "crosses"
	Covers     Predicate = "covers"
	CoveredBy  Predicate = "covered_by"
	Equals     Predicate = "equals"
)

// Predicates lists every supported predicate.
var Predicates = []Predicate{Intersects, Disjoint, Within, Contains, Overlaps, Touches, Crosses, Covers, CoveredBy, Equals}

// ParsePredicate accepts a predicate name, case-insensitively, with
// "coveredby" and "covered-by" as aliases of covered_by.
func ParsePredicate(s string) (Predicate, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if norm == "coveredby" {
		norm = string(CoveredBy)
	}
	for _, p := range Predicates {
		if string(p) == norm {
			return p, nil
		}
	}
	return "", eris.Errorf("spatial: unknown predicate %q", s)
}

// Relate returns the DE-9IM intersection matrix of a and b as a 9-character
// string (interior, boundary, exterior of a by those of b).
func Relate(a, b geom.T) (string, error) {
	sa, sb, err := pair(a, b)
	if err != nil {
		return "", err
	}
	m, err := sf.Relate(sa, sb)
	if err != nil {
		return "", eris.Wrap(err, "spatial: relate")
	}
	return m, nil
}

// RelateMatch reports whether matrix m satisfies pattern. Pattern cells are
// T (non-empty), F (empty), * (any) or a dimension 0, 1, 2.
func RelateMatch(m, pattern string) (bool, error) {
	if len(m) != 9 || len(pattern) != 9 {
		return false, eris.Errorf("spatial: DE-9IM matrix %q and pattern %q must have 9 cells", m, pattern)
	}
	for i := 0; i < 9; i++ {
		cell, want := m[i], pattern[i]
		switch want {
		case '*':
		case 'T', 't':
			if cell == 'F' {
				return false, nil
			}
		case 'F', 'f':
			if cell != 'F' {
				return false, nil
			}
		case '0', '1', '2':
			if cell != want {
				return false, nil
			}
		default:
			return false, eris.Errorf("spatial: invalid DE-9IM pattern cell %q", want)
		}
	}
	return true, nil
}

func matchAny(m string, patterns ...string) bool {
	for _, p := range patterns {
		if ok, _ := RelateMatch(m, p); ok {
			return true
		}
	}
	return false
}

// Dimension returns the topological dimension of g: 0 points, 1 lines,
// 2 polygons, the maximum over collections and -1 when empty.
func Dimension(g geom.T) int {
	if IsEmpty(g) {
		return -1
	}
	switch t := g.(type) {
	case *geom.Point, *geom.MultiPoint:
		return 0
	case *geom.LineString, *geom.MultiLineString, *geom.LinearRing:
		return 1
	case *geom.Polygon, *geom.MultiPolygon:
		return 2
	case *geom.GeometryCollection:
		d := -1
		for _, sub := range t.Geoms() {
			d = max(d, Dimension(sub))
		}
		return d
	default:
		return -1
	}
}

// Eval evaluates pred on (a, b). Empty or nil geometries relate to nothing:
// every predicate but Disjoint is false for them.
func Eval(pred Predicate, a, b geom.T) (bool, error) {
	if IsEmpty(a) || IsEmpty(b) {
		return pred == Disjoint, nil
	}
	if !boundsIntersect(a, b) {
		return pred == Disjoint, nil
	}
	m, err := Relate(a, b)
	if err != nil {
		return false, err
	}
	return evalMatrix(pred, m, Dimension(a), Dimension(b))
}

func evalMatrix(pred Predicate, m string, da, db int) (bool, error) {
	switch pred {
	case Intersects:
		return !matchAny(m, "FF*FF****"), nil
	case Disjoint:
		return matchAny(m, "FF*FF****"), nil
	case Within:
		return matchAny(m, "T*F**F***"), nil
	case Contains:
		return matchAny(m, "T*****FF*"), nil
	case Covers:
		return matchAny(m, "T*****FF*", "*T****FF*", "***T**FF*", "****T*FF*"), nil
	case CoveredBy:
		return matchAny(m, "T*F**F***", "*TF**F***", "**FT*F***", "**F*TF***"), nil
	case Touches:
		if da == 0 && db == 0 {
			return false, nil
		}
		return matchAny(m, "FT*******", "F**T*****", "F***T****"), nil
	case Equals:
		return matchAny(m, "T*F**FFF*"), nil
	case Overlaps:
		switch {
		case da != db:
			return false, nil
		case da == 1:
			return matchAny(m, "1*T***T**"), nil
		default:
			return matchAny(m, "T*T***T**"), nil
		}
	case Crosses:
		switch {
		case da < db:
			return matchAny(m, "T*T******"), nil
		case da > db:
			return matchAny(m, "T*****T**"), nil
		case da == 1:
			return matchAny(m, "0********"), nil
		default:
			return false, nil
		}
	default:
		return false, eris.Errorf("spatial: unknown predicate %q", pred)
	}
}

// boundsIntersect is a cheap envelope prefilter.
func boundsIntersect(a, b geom.T) bool {
	return a.Bounds().Overlaps(geom.XY, b.Bounds())
}

// Distance returns the planar minimum distance between a and b, 0 when they
// intersect.
func Distance(a, b geom.T) (float64, error) {
	if IsEmpty(a) || IsEmpty(b) {
		return 0, eris.New("spatial: distance to an empty geometry")
	}
	sa, sb, err := pair(a, b)
	if err != nil {
		return 0, err
	}
	d, ok := sf.Distance(sa, sb)
	if !ok {
		return 0, eris.New("spatial: distance undefined")
	}
	return d, nil
}

// DistanceMatrix returns the distance from every feature of a (rows) to every
// feature of b (columns). Both layers must share a CRS.
func DistanceMatrix(a, b *layer.Layer) ([][]float64, error) {
	if err := crs.Match(a.CRS, b.CRS); err != nil {
		return nil, eris.Wrapf(err, "spatial: distance matrix %s x %s", a.Name, b.Name)
	}
	bs := make([]sf.Geometry, len(b.Features))
	for j, f := range b.Features {
		g, err := toSF(f.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: %s feature %d", b.Name, j)
		}
		bs[j] = g
	}

	out := make([][]float64, len(a.Features))
	for i, f := range a.Features {
		ga, err := toSF(f.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: %s feature %d", a.Name, i)
		}
		row := make([]float64, len(bs))
		for j, gb := range bs {
			d, ok := sf.Distance(ga, gb)
			if !ok {
				return nil, eris.Errorf("spatial: distance %s[%d] to %s[%d] undefined", a.Name, i, b.Name, j)
			}
			row[j] = d
		}
		out[i] = row
	}
	return out, nil
}

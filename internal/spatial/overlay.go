package spatial

import (
	"fmt"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/crs"
	"github.com/sells-group/geolab/internal/layer"
)

// How selects the pieces an overlay keeps.
type How string

// Overlay modes.
const (
	OverlayIntersection        How = "intersection"
	OverlayUnion               How = "union"
	OverlayDifference          How = "difference"
	OverlaySymmetricDifference How = "symmetric_difference"
	OverlayIdentity            How = "identity"
)

// ParseHow validates an overlay mode name.
func ParseHow(s string) (How, error) {
	switch h := How(s); h {
	case OverlayIntersection, OverlayUnion, OverlayDifference, OverlaySymmetricDifference, OverlayIdentity:
		return h, nil
	}
	return "", eris.Errorf("spatial: unknown overlay mode %q", s)
}

// Overlay combines two polygon layers. Output rows carry the attributes of
// the features that produced them; columns present in both layers get the
// suffixes _1 and _2. Empty pieces are dropped.
func Overlay(a, b *layer.Layer, how How) (*layer.Layer, error) {
	if _, err := ParseHow(string(how)); err != nil {
		return nil, err
	}
	if err := crs.Match(a.CRS, b.CRS); err != nil {
		return nil, eris.Wrapf(err, "spatial: overlay %s with %s", a.Name, b.Name)
	}
	for _, l := range []*layer.Layer{a, b} {
		if k := l.GeometryKind(); k != layer.KindPolygon && k != layer.KindEmpty {
			return nil, eris.Errorf("spatial: overlay needs polygon layers, %s is %s", l.Name, k)
		}
	}

	out, namesA, namesB := overlaySchema(a, b)
	out.Name = fmt.Sprintf("%s_%s_%s", a.Name, how, b.Name)

	emit := func(g geom.T, fa, fb *layer.Feature) {
		g = Polygonal(g)
		if IsEmpty(g) {
			return
		}
		props := make(map[string]any, len(out.Fields))
		if fa != nil {
			for k, v := range fa.Props {
				if n, ok := namesA[k]; ok {
					props[n] = v
				}
			}
		}
		if fb != nil {
			for k, v := range fb.Props {
				if n, ok := namesB[k]; ok {
					props[n] = v
				}
			}
		}
		out.Append(&layer.Feature{Props: props, Geom: g})
	}

	if how != OverlayDifference && how != OverlaySymmetricDifference {
		if err := overlayPairs(a, b, emit); err != nil {
			return nil, err
		}
	}
	if how == OverlayDifference || how == OverlaySymmetricDifference || how == OverlayUnion || how == OverlayIdentity {
		if err := overlayRemainder(a, b, func(g geom.T, f *layer.Feature) { emit(g, f, nil) }); err != nil {
			return nil, err
		}
	}
	if how == OverlaySymmetricDifference || how == OverlayUnion {
		if err := overlayRemainder(b, a, func(g geom.T, f *layer.Feature) { emit(g, nil, f) }); err != nil {
			return nil, err
		}
	}

	zap.L().Debug("spatial: overlay",
		zap.String("how", string(how)),
		zap.String("left", a.Name),
		zap.String("right", b.Name),
		zap.Int("pieces", out.Len()),
	)
	return out, nil
}

// overlaySchema builds the output schema and the per-side column renames.
func overlaySchema(a, b *layer.Layer) (*layer.Layer, map[string]string, map[string]string) {
	out := layer.New("", a.CRS)
	namesA := make(map[string]string, len(a.Fields))
	namesB := make(map[string]string, len(b.Fields))
	for _, f := range a.Fields {
		n := f.Name
		if b.HasColumn(f.Name) {
			n += "_1"
		}
		namesA[f.Name] = n
		out.Fields = append(out.Fields, layer.Field{Name: n, Type: f.Type})
	}
	for _, f := range b.Fields {
		n := f.Name
		if a.HasColumn(f.Name) {
			n += "_2"
		}
		namesB[f.Name] = n
		out.Fields = append(out.Fields, layer.Field{Name: n, Type: f.Type})
	}
	return out, namesA, namesB
}

// overlayPairs emits the intersection of every intersecting pair.
func overlayPairs(a, b *layer.Layer, emit func(geom.T, *layer.Feature, *layer.Feature)) error {
	for i, fa := range a.Features {
		if IsEmpty(fa.Geom) {
			continue
		}
		for j, fb := range b.Features {
			if IsEmpty(fb.Geom) || !boundsIntersect(fa.Geom, fb.Geom) {
				continue
			}
			g, err := Intersection(fa.Geom, fb.Geom)
			if err != nil {
				return eris.Wrapf(err, "spatial: overlay %s[%d] with %s[%d]", a.Name, i, b.Name, j)
			}
			emit(g, fa, fb)
		}
	}
	return nil
}

// overlayRemainder emits the part of every feature of a not covered by b.
func overlayRemainder(a, b *layer.Layer, emit func(geom.T, *layer.Feature)) error {
	for i, fa := range a.Features {
		if IsEmpty(fa.Geom) {
			continue
		}
		var hits []geom.T
		for _, fb := range b.Features {
			if !IsEmpty(fb.Geom) && boundsIntersect(fa.Geom, fb.Geom) {
				hits = append(hits, fb.Geom)
			}
		}
		cover, err := UnionAll(hits)
		if err != nil {
			return eris.Wrapf(err, "spatial: overlay %s[%d]", a.Name, i)
		}
		g, err := Difference(fa.Geom, cover)
		if err != nil {
			return eris.Wrapf(err, "spatial: overlay %s[%d]", a.Name, i)
		}
		emit(g, fa)
	}
	return nil
}

// Dissolve unions geometries grouped by the value of column by, or all
// geometries when by is empty. Output rows are ordered by group key and carry
// the key column and a count column.
func Dissolve(l *layer.Layer, by string) (*layer.Layer, error) {
	out := layer.New(l.Name+"_dissolved", l.CRS)
	if by != "" {
		fd, err := l.Field(by)
		if err != nil {
			return nil, eris.Wrap(err, "spatial: dissolve")
		}
		out.Fields = append(out.Fields, fd)
	}
	out.Fields = append(out.Fields, layer.Field{Name: "count", Type: layer.Int})

	type group struct {
		key   any
		geoms []geom.T
	}
	groups := map[string]*group{}
	var keys []string
	for _, f := range l.Features {
		var key any
		if by != "" {
			key = f.Get(by)
		}
		k := fmt.Sprint(key)
		g, ok := groups[k]
		if !ok {
			g = &group{key: key}
			groups[k] = g
			keys = append(keys, k)
		}
		g.geoms = append(g.geoms, f.Geom)
	}

	slices.SortFunc(keys, func(x, y string) int { return layer.CompareValues(groups[x].key, groups[y].key) })

	for _, k := range keys {
		g := groups[k]
		u, err := UnionAll(g.geoms)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: dissolve %s=%s", by, k)
		}
		props := map[string]any{"count": int64(len(g.geoms))}
		if by != "" {
			props[by] = g.key
		}
		out.Append(&layer.Feature{Props: props, Geom: u})
	}
	return out, nil
}

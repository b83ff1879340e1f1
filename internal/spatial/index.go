package spatial

import (
	"slices"

	"github.com/dhconnelly/rtreego"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolab/internal/layer"
)

// minExtent keeps point envelopes from collapsing to zero-size rectangles,
// which rtreego rejects.
const minExtent = 1e-9

// Index is an R-tree over the envelopes of a layer's features. Features with
// no geometry are not indexed.
type Index struct {
	tree *rtreego.Rtree
	size int
}

type indexEntry struct {
	idx  int
	rect rtreego.Rect
}

func (e *indexEntry) Bounds() rtreego.Rect { return e.rect }

// NewIndex bulk-loads the feature envelopes of l.
func NewIndex(l *layer.Layer) *Index {
	objs := make([]rtreego.Spatial, 0, l.Len())
	for i, f := range l.Features {
		if IsEmpty(f.Geom) {
			continue
		}
		r, ok := envelopeRect(f.Geom.Bounds(), 0)
		if !ok {
			continue
		}
		objs = append(objs, &indexEntry{idx: i, rect: r})
	}
	return &Index{tree: rtreego.NewTree(2, 25, 50, objs...), size: len(objs)}
}

// Len returns the number of indexed features.
func (ix *Index) Len() int { return ix.size }

// Candidates returns, in ascending order, the indexes of features whose
// envelope meets the envelope of g grown by pad. Touching envelopes count.
func (ix *Index) Candidates(g geom.T, pad float64) []int {
	if IsEmpty(g) || ix.size == 0 {
		return nil
	}
	r, ok := envelopeRect(g.Bounds(), pad+minExtent)
	if !ok {
		return nil
	}
	hits := ix.tree.SearchIntersect(r)
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*indexEntry).idx)
	}
	slices.Sort(out)
	return out
}

func envelopeRect(b *geom.Bounds, pad float64) (rtreego.Rect, bool) {
	x, y := b.Min(0)-pad, b.Min(1)-pad
	w := max(b.Max(0)-b.Min(0)+2*pad, minExtent)
	h := max(b.Max(1)-b.Min(1)+2*pad, minExtent)
	r, err := rtreego.NewRect(rtreego.Point{x, y}, []float64{w, h})
	if err != nil {
		return rtreego.Rect{}, false
	}
	return r, true
}

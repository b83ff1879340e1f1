// Package plot renders layers as SVG maps.
package plot

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	svg "github.com/ajstarks/svgo"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/geolab/internal/classify"
	"github.com/sells-group/geolab/internal/layer"
)

// Canvas defaults.
const (
	DefaultWidth  = 800
	DefaultHeight = 800
	DefaultMargin = 40
	titleHeight   = 28
	legendRow     = 18
)

// Style is how a layer's geometries are drawn.
type Style struct {
	Fill        string  `yaml:"fill" mapstructure:"fill"`
	Stroke      string  `yaml:"stroke" mapstructure:"stroke"`
	StrokeWidth float64 `yaml:"stroke_width" mapstructure:"stroke_width"`
	Opacity     float64 `yaml:"opacity" mapstructure:"opacity"`
	// Radius of point markers in pixels.
	Radius float64 `yaml:"radius" mapstructure:"radius"`
}

func (s Style) withDefaults() Style {
	if s.Fill == "" {
		s.Fill = "#9ecae1"
	}
	if s.Stroke == "" {
		s.Stroke = "#333333"
	}
	if s.StrokeWidth == 0 {
		s.StrokeWidth = 0.8
	}
	if s.Opacity == 0 {
		s.Opacity = 1
	}
	if s.Radius == 0 {
		s.Radius = 4
	}
	return s
}

func (s Style) css(fill string) string {
	return fmt.Sprintf("fill:%s;stroke:%s;stroke-width:%g;fill-opacity:%g", fill, s.Stroke, s.StrokeWidth, s.Opacity)
}

// Layer is one layer of a map, drawn in order.
type Layer struct {
	Data  *layer.Layer
	Style Style
	// GeometryColumn draws a geometry-typed column instead of the feature
	// geometries.
	GeometryColumn string
	// Label names a column whose values are written beside each feature.
	Label string
	// Column colours features by class. Classification defaults to equal
	// intervals with one bin per palette colour.
	Column         string
	Classification *classify.Classification
	Palette        []string
	// Legend titles the legend; empty derives it from Column.
	Legend string
}

// Map is an SVG map of one or more layers sharing a CRS.
type Map struct {
	Title      string
	Width      int
	Height     int
	Margin     int
	Background string
	Layers     []Layer
}

// projection maps CRS coordinates to canvas pixels, y flipped.
type projection struct {
	minX, maxY float64
	scale      float64
	offX, offY float64
}

func (p projection) xy(x, y float64) (float64, float64) {
	return p.offX + (x-p.minX)*p.scale, p.offY + (p.maxY-y)*p.scale
}

func (m *Map) defaults() {
	if m.Width <= 0 {
		m.Width = DefaultWidth
	}
	if m.Height <= 0 {
		m.Height = DefaultHeight
	}
	if m.Margin < 0 {
		m.Margin = 0
	} else if m.Margin == 0 {
		m.Margin = DefaultMargin
	}
	if m.Background == "" {
		m.Background = "white"
	}
}

func (m *Map) bounds() (*geom.Bounds, error) {
	var b *geom.Bounds
	for _, ml := range m.Layers {
		for _, g := range geometries(ml) {
			if g == nil || g.Empty() {
				continue
			}
			if b == nil {
				b = geom.NewBounds(geom.XY)
			}
			b.Extend(g)
		}
	}
	if b == nil {
		return nil, eris.New("plot: nothing to draw")
	}
	return b, nil
}

func (m *Map) project(b *geom.Bounds) projection {
	top := float64(m.Margin)
	if m.Title != "" {
		top += titleHeight
	}
	w := float64(m.Width - 2*m.Margin)
	h := float64(m.Height) - top - float64(m.Margin)
	dx, dy := b.Max(0)-b.Min(0), b.Max(1)-b.Min(1)

	scale := 1.0
	switch {
	case dx > 0 && dy > 0:
		scale = math.Min(w/dx, h/dy)
	case dx > 0:
		scale = w / dx
	case dy > 0:
		scale = h / dy
	}
	return projection{
		minX:  b.Min(0),
		maxY:  b.Max(1),
		scale: scale,
		offX:  float64(m.Margin) + (w-dx*scale)/2,
		offY:  top + (h-dy*scale)/2,
	}
}

// Render writes the map as an SVG document.
func (m *Map) Render(w io.Writer) error {
	m.defaults()
	if len(m.Layers) == 0 {
		return eris.New("plot: map has no layers")
	}
	b, err := m.bounds()
	if err != nil {
		return err
	}
	proj := m.project(b)

	canvas := svg.New(w)
	canvas.Start(m.Width, m.Height)
	if m.Title != "" {
		canvas.Title(m.Title)
	}
	canvas.Rect(0, 0, m.Width, m.Height, "fill:"+m.Background)
	if m.Title != "" {
		canvas.Text(m.Width/2, m.Margin/2+titleHeight/2, m.Title,
			"text-anchor:middle;font-family:sans-serif;font-size:18px")
	}

	legendY := m.Margin
	if m.Title != "" {
		legendY += titleHeight
	}
	for i := range m.Layers {
		ml := &m.Layers[i]
		if err := m.drawLayer(canvas, proj, ml); err != nil {
			return eris.Wrapf(err, "plot: layer %d", i)
		}
		if ml.Classification != nil {
			legendY = drawLegend(canvas, m.Margin, legendY, ml)
		}
	}
	canvas.End()
	return nil
}

func geometries(ml Layer) []geom.T {
	if ml.Data == nil {
		return nil
	}
	out := make([]geom.T, len(ml.Data.Features))
	for i, f := range ml.Data.Features {
		if ml.GeometryColumn == "" {
			out[i] = f.Geom
			continue
		}
		if g, ok := f.Get(ml.GeometryColumn).(geom.T); ok {
			out[i] = g
		}
	}
	return out
}

func (m *Map) drawLayer(canvas *svg.SVG, proj projection, ml *Layer) error {
	if ml.Data == nil {
		return eris.New("plot: layer has no data")
	}
	style := ml.Style.withDefaults()

	var fills []string
	if ml.Column != "" {
		var err error
		if fills, err = classFills(ml); err != nil {
			return err
		}
	}

	canvas.Gid(ml.Data.Name)
	for i, g := range geometries(*ml) {
		if g == nil || g.Empty() {
			continue
		}
		fill := style.Fill
		if fills != nil {
			fill = fills[i]
		}
		drawGeom(canvas, proj, g, style, fill)
	}
	if ml.Label != "" {
		if !ml.Data.HasColumn(ml.Label) {
			return eris.Wrapf(layer.ErrNoColumn, "plot: label %s.%s", ml.Data.Name, ml.Label)
		}
		for _, f := range ml.Data.Features {
			drawLabel(canvas, proj, f, ml.Label, style)
		}
	}
	canvas.Gend()
	zap.L().Debug("plot: drew layer", zap.String("layer", ml.Data.Name), zap.Int("features", ml.Data.Len()))
	return nil
}

// classFills resolves the palette colour of every feature.
func classFills(ml *Layer) ([]string, error) {
	values, err := ml.Data.Floats(ml.Column)
	if err != nil {
		return nil, eris.Wrap(err, "plot")
	}
	if len(ml.Palette) == 0 {
		k := 5
		if ml.Classification != nil {
			k = ml.Classification.K()
		}
		ml.Palette = Palette(DefaultPalette, k)
	}
	if ml.Classification == nil {
		if ml.Classification, err = classify.EqualInterval(values, len(ml.Palette)); err != nil {
			return nil, eris.Wrap(err, "plot")
		}
	}
	if len(ml.Palette) < ml.Classification.K() {
		ml.Palette = Palette(DefaultPalette, ml.Classification.K())
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = ml.Palette[ml.Classification.Class(v)]
	}
	return out, nil
}

func drawGeom(canvas *svg.SVG, proj projection, g geom.T, style Style, fill string) {
	switch t := g.(type) {
	case *geom.Point:
		x, y := proj.xy(t.X(), t.Y())
		canvas.Circle(round(x), round(y), round(style.Radius), style.css(fill))
	case *geom.MultiPoint:
		for i := 0; i < t.NumPoints(); i++ {
			drawGeom(canvas, proj, t.Point(i), style, fill)
		}
	case *geom.LineString:
		canvas.Path(pathData(proj, t.FlatCoords(), t.Stride(), false), lineCSS(style))
	case *geom.MultiLineString:
		for i := 0; i < t.NumLineStrings(); i++ {
			drawGeom(canvas, proj, t.LineString(i), style, fill)
		}
	case *geom.Polygon:
		var d strings.Builder
		for i := 0; i < t.NumLinearRings(); i++ {
			lr := t.LinearRing(i)
			d.WriteString(pathData(proj, lr.FlatCoords(), lr.Stride(), true))
		}
		canvas.Path(d.String(), style.css(fill)+";fill-rule:evenodd")
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			drawGeom(canvas, proj, t.Polygon(i), style, fill)
		}
	case *geom.GeometryCollection:
		for _, sub := range t.Geoms() {
			drawGeom(canvas, proj, sub, style, fill)
		}
	}
}

func lineCSS(s Style) string {
	return fmt.Sprintf("fill:none;stroke:%s;stroke-width:%g", s.Stroke, s.StrokeWidth)
}

func pathData(proj projection, flat []float64, stride int, closed bool) string {
	var b strings.Builder
	for i := 0; i+1 < len(flat); i += stride {
		x, y := proj.xy(flat[i], flat[i+1])
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		fmt.Fprintf(&b, "%s%.2f %.2f ", cmd, x, y)
	}
	if closed {
		b.WriteString("Z ")
	}
	return b.String()
}

func drawLabel(canvas *svg.SVG, proj projection, f *layer.Feature, column string, style Style) {
	v := f.Get(column)
	if v == nil || f.Geom == nil || f.Geom.Empty() {
		return
	}
	c, err := layer.Centroid(f.Geom)
	if err != nil {
		return
	}
	x, y := proj.xy(c.X(), c.Y())
	canvas.Text(round(x+style.Radius+2), round(y-style.Radius-2), fmt.Sprint(v),
		"font-family:sans-serif;font-size:11px;fill:#111111")
}

func drawLegend(canvas *svg.SVG, x, y int, ml *Layer) int {
	title := ml.Legend
	if title == "" {
		title = Heading(ml.Column)
	}
	canvas.Text(x, y+12, title, "font-family:sans-serif;font-size:12px;font-weight:bold")
	y += legendRow
	for i, label := range ml.Classification.Labels() {
		canvas.Rect(x, y, 14, 12, fmt.Sprintf("fill:%s;stroke:#333333;stroke-width:0.5", ml.Palette[i]))
		canvas.Text(x+20, y+10, fmt.Sprintf("%s (%d)", label, ml.Classification.Counts[i]),
			"font-family:sans-serif;font-size:11px")
		y += legendRow
	}
	return y + legendRow/2
}

// Heading turns a column name into a legend title: "deaths_n" -> "Deaths N".
func Heading(column string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(column, "_", " "))
}

func round(v float64) int { return int(math.Round(v)) }

// WriteFile renders the map to path, creating parent directories.
func (m *Map) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "plot: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "plot: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	bw := bufio.NewWriter(f)
	if err := m.Render(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return eris.Wrapf(err, "plot: write %s", path)
	}
	zap.L().Info("plot: wrote map", zap.String("path", path), zap.Int("layers", len(m.Layers)))
	return nil
}

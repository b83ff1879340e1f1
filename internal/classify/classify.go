// Package classify buckets numeric values into display bins for maps.
package classify

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolab/internal/layer"
)

// Method names a classification scheme.
type Method string

// Classification schemes.
const (
	EqualIntervalMethod Method = "equal_interval"
	QuantilesMethod     Method = "quantiles"
	UserDefinedMethod   Method = "user_defined"
)

// ParseMethod accepts a scheme name; dashes and case are ignored.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch m {
	case EqualIntervalMethod, QuantilesMethod, UserDefinedMethod:
		return m, nil
	}
	return "", eris.Errorf("classify: unknown method %q", s)
}

// Classification assigns every value to a bin. Bins holds the upper bound of
// each bin; bin 0 starts at Min. A value v belongs to the first bin with
// v <= bound.
type Classification struct {
	Method  Method    `json:"method"`
	Min     float64   `json:"min"`
	Bins    []float64 `json:"bins"`
	Counts  []int     `json:"counts"`
	Classes []int     `json:"classes"`
}

// K returns the number of bins.
func (c *Classification) K() int { return len(c.Bins) }

// Class returns the bin of v. Values above the last bound go to the last bin.
func (c *Classification) Class(v float64) int {
	i, _ := slices.BinarySearch(c.Bins, v)
	return min(i, len(c.Bins)-1)
}

// Labels returns one interval label per bin: "[min, b0]", "(b0, b1]", ...
func (c *Classification) Labels() []string {
	out := make([]string, len(c.Bins))
	lo := c.Min
	for i, hi := range c.Bins {
		open := "("
		if i == 0 {
			open = "["
		}
		out[i] = fmt.Sprintf("%s%s, %s]", open, format(lo), format(hi))
		lo = hi
	}
	return out
}

func format(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

func (c *Classification) assign(values []float64) {
	c.Classes = make([]int, len(values))
	c.Counts = make([]int, len(c.Bins))
	for i, v := range values {
		k := c.Class(v)
		c.Classes[i] = k
		c.Counts[k]++
	}
}

func check(values []float64) error {
	if len(values) == 0 {
		return eris.New("classify: no values")
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Errorf("classify: value %d is %v", i, v)
		}
	}
	return nil
}

// EqualInterval splits [min, max] into k bins of equal width.
func EqualInterval(values []float64, k int) (*Classification, error) {
	if err := check(values); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, eris.Errorf("classify: k must be positive, got %d", k)
	}
	lo, hi := slices.Min(values), slices.Max(values)
	width := (hi - lo) / float64(k)
	bins := make([]float64, k)
	for i := range bins {
		bins[i] = lo + width*float64(i+1)
	}
	bins[k-1] = hi
	c := &Classification{Method: EqualIntervalMethod, Min: lo, Bins: slices.Compact(bins)}
	c.assign(values)
	return c, nil
}

// Quantiles puts roughly the same number of values in each of k bins. Bin
// bounds are the i/k quantiles with linear interpolation between order
// statistics; repeated bounds collapse, so fewer than k bins may result.
func Quantiles(values []float64, k int) (*Classification, error) {
	if err := check(values); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, eris.Errorf("classify: k must be positive, got %d", k)
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	bins := make([]float64, k)
	for i := range bins {
		bins[i] = quantile(sorted, float64(i+1)/float64(k))
	}
	c := &Classification{Method: QuantilesMethod, Min: sorted[0], Bins: slices.Compact(bins)}
	c.assign(values)
	return c, nil
}

func quantile(sorted []float64, p float64) float64 {
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// UserDefined classifies values with caller-supplied upper bounds. When the
// largest value exceeds the last bound, the maximum is appended as a final
// bound.
func UserDefined(values []float64, bins []float64) (*Classification, error) {
	if err := check(values); err != nil {
		return nil, err
	}
	if len(bins) == 0 {
		return nil, eris.New("classify: no bins")
	}
	if !slices.IsSorted(bins) {
		return nil, eris.Errorf("classify: bins %v are not ascending", bins)
	}
	b := slices.Compact(slices.Clone(bins))
	if hi := slices.Max(values); hi > b[len(b)-1] {
		b = append(b, hi)
	}
	c := &Classification{Method: UserDefinedMethod, Min: slices.Min(values), Bins: b}
	c.assign(values)
	return c, nil
}

// Options select a scheme for a layer column.
type Options struct {
	Method Method    `yaml:"method"`
	K      int       `yaml:"k"`
	Bins   []float64 `yaml:"bins"`
}

// Run classifies values with the scheme in opts.
func Run(values []float64, opts Options) (*Classification, error) {
	switch opts.Method {
	case EqualIntervalMethod, "":
		return EqualInterval(values, kOrDefault(opts.K))
	case QuantilesMethod:
		return Quantiles(values, kOrDefault(opts.K))
	case UserDefinedMethod:
		return UserDefined(values, opts.Bins)
	}
	return nil, eris.Errorf("classify: unknown method %q", opts.Method)
}

func kOrDefault(k int) int {
	if k == 0 {
		return 5
	}
	return k
}

// Column classifies a numeric layer column and writes the bin index of each
// feature to column out when out is non-empty. Nil values count
// as 0.
func Column(l *layer.Layer, column, out string, opts Options) (*Classification, error) {
	values, err := l.Floats(column)
	if err != nil {
		return nil, eris.Wrap(err, "classify")
	}
	c, err := Run(values, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: %s.%s", l.Name, column)
	}
	if out != "" {
		class := make(map[*layer.Feature]int64, l.Len())
		for i, f := range l.Features {
			class[f] = int64(c.Classes[i])
		}
		l.AddColumn(out, layer.Int, func(f *layer.Feature) any { return class[f] })
	}
	return c, nil
}

package plot

import (
	"slices"
	"strings"
)

// DefaultPalette is used when a classified layer names no colours.
const DefaultPalette = "ylorrd"

// ColorBrewer sequential schemes, light to dark.
var palettes = map[string][]string{
	"ylorrd": {"#ffffcc", "#ffeda0", "#fed976", "#feb24c", "#fd8d3c", "#fc4e2a", "#e31a1c", "#bd0026", "#800026"},
	"blues":  {"#f7fbff", "#deebf7", "#c6dbef", "#9ecae1", "#6baed6", "#4292c6", "#2171b5", "#08519c", "#08306b"},
	"greens": {"#f7fcf5", "#e5f5e0", "#c7e9c0", "#a1d99b", "#74c476", "#41ab5d", "#238b45", "#006d2c", "#00441b"},
	"reds":   {"#fff5f0", "#fee0d2", "#fcbba1", "#fc9272", "#fb6a4a", "#ef3b2c", "#cb181d", "#a50f15", "#67000d"},
	"greys":  {"#ffffff", "#f0f0f0", "#d9d9d9", "#bdbdbd", "#969696", "#737373", "#525252", "#252525", "#000000"},
}

// Palettes lists the named palettes.
func Palettes() []string {
	names := make([]string, 0, len(palettes))
	for n := range palettes {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Palette returns k colours spread evenly over the named scheme. Unknown
// names fall back to DefaultPalette; k beyond the scheme length repeats the
// darkest colour.
func Palette(name string, k int) []string {
	scheme, ok := palettes[strings.ToLower(name)]
	if !ok {
		scheme = palettes[DefaultPalette]
	}
	if k <= 0 {
		return nil
	}
	if k == 1 {
		return []string{scheme[len(scheme)/2]}
	}
	out := make([]string, k)
	last := len(scheme) - 1
	for i := range out {
		out[i] = scheme[min(i*last/(k-1), last)]
	}
	return out
}

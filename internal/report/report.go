// Package report renders result tables as text, CSV and XLSX.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/sells-group/geolab/internal/layer"
)

// GeometryColumn holds feature geometries as WKT in tables built from layers.
const GeometryColumn = "geometry"

// Table is a titled grid of values.
type Table struct {
	Title   string   `json:"title"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// FromLayer tabulates a layer's attributes, followed by its geometry as WKT
// when withGeom is set.
func FromLayer(l *layer.Layer, withGeom bool) *Table {
	t := &Table{Title: l.Name, Columns: l.ColumnNames()}
	if withGeom {
		t.Columns = append(t.Columns, GeometryColumn)
	}
	for _, f := range l.Features {
		row := make([]any, 0, len(t.Columns))
		for _, fd := range l.Fields {
			row = append(row, f.Get(fd.Name))
		}
		if withGeom {
			row = append(row, f.Geom)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Format renders a cell value. Geometries render as WKT, floats in the
// shortest form that round-trips, nil as the empty string.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case geom.T:
		s, err := wkt.Marshal(x)
		if err != nil {
			return fmt.Sprintf("<%T>", x)
		}
		return s
	default:
		return fmt.Sprint(x)
	}
}

// WriteText writes t as aligned columns, preceded by its title.
func WriteText(w io.Writer, t *Table) error {
	if t.Title != "" {
		if _, err := fmt.Fprintf(w, "%s\n", t.Title); err != nil {
			return eris.Wrap(err, "report: write title")
		}
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t")) //nolint:errcheck
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = Format(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t")) //nolint:errcheck
	}
	return eris.Wrap(tw.Flush(), "report: write table")
}

// WriteCSV writes t as CSV with a header row.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for i, row := range t.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = Format(v)
		}
		if err := cw.Write(cells); err != nil {
			return eris.Wrapf(err, "report: write csv row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// maxSheetName is Excel's limit on sheet name length.
const maxSheetName = 31

// WriteXLSX saves the tables as sheets of one workbook.
func WriteXLSX(path string, tables ...*Table) error {
	if len(tables) == 0 {
		return eris.New("report: no tables")
	}
	f := xlsx.NewFile()
	used := make(map[string]bool, len(tables))
	for i, t := range tables {
		sheet, err := f.AddSheet(sheetName(t.Title, i, used))
		if err != nil {
			return eris.Wrapf(err, "report: add sheet %q", t.Title)
		}
		header := sheet.AddRow()
		for _, c := range t.Columns {
			header.AddCell().SetString(c)
		}
		for _, row := range t.Rows {
			r := sheet.AddRow()
			for _, v := range row {
				setCell(r.AddCell(), v)
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create directory for %s", path)
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func sheetName(title string, i int, used map[string]bool) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "?", "_", "*", "_", "[", "(", "]", ")", ":", "_").Replace(title)
	if name == "" {
		name = fmt.Sprintf("Sheet%d", i+1)
	}
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	for n := 2; used[name]; n++ {
		suffix := fmt.Sprintf("~%d", n)
		name = name[:min(len(name), maxSheetName-len(suffix))] + suffix
	}
	used[name] = true
	return name
}

func setCell(c *xlsx.Cell, v any) {
	switch x := v.(type) {
	case int64:
		c.SetInt64(x)
	case int:
		c.SetInt(x)
	case float64:
		c.SetFloat(x)
	case bool:
		c.SetBool(x)
	default:
		c.SetString(Format(v))
	}
}

// WriteFile writes t to path, choosing the format from the extension:
// .csv, .xlsx, or aligned text otherwise.
func WriteFile(path string, t *Table) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, t)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create directory for %s", path)
	}
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer out.Close() //nolint:errcheck

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return WriteCSV(out, t)
	}
	return WriteText(out, t)
}

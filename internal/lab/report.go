package lab

import (
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolab/internal/report"
)

// Entry is what one step reported.
type Entry struct {
	Step  int           `json:"step"`
	Kind  string        `json:"kind"`
	Title string        `json:"title"`
	Text  string        `json:"text,omitempty"`
	Table *report.Table `json:"table,omitempty"`
	Files []string      `json:"files,omitempty"`
}

// Report collects the step results of a recipe run.
type Report struct {
	Recipe  string   `json:"recipe"`
	Entries []Entry  `json:"entries"`
	Layers  []string `json:"layers"`
}

// Tables returns every table in the report, in step order.
func (r *Report) Tables() []*report.Table {
	var out []*report.Table
	for _, e := range r.Entries {
		if e.Table != nil {
			out = append(out, e.Table)
		}
	}
	return out
}

// Files returns every file written by the run.
func (r *Report) Files() []string {
	var out []string
	for _, e := range r.Entries {
		out = append(out, e.Files...)
	}
	return out
}

// WriteText prints the report for a terminal.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s\n", r.Recipe)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "\n[%d] %s: %s\n", e.Step, e.Kind, e.Title)
		if e.Text != "" {
			b.WriteString(strings.TrimRight(e.Text, "\n"))
			b.WriteByte('\n')
		}
		for _, f := range e.Files {
			fmt.Fprintf(&b, "wrote %s\n", f)
		}
		if e.Table == nil {
			continue
		}
		t := *e.Table
		t.Title = ""
		if err := report.WriteText(&b, &t); err != nil {
			return err
		}
	}
	if len(r.Layers) > 0 {
		fmt.Fprintf(&b, "\nlayers: %s\n", strings.Join(r.Layers, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return eris.Wrap(err, "lab: write report")
}

// File: internal/console/console.go
// Brief: Color palette and human-friendly dependency/run output.

package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/manifest"
	"github.com/example/stackctl/internal/run"
	"github.com/fatih/color"
)

// ColorMode selects whether ANSI colors are emitted.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode maps a flag value onto a ColorMode, falling back to auto.
func ParseColorMode(raw string) ColorMode {
	switch ColorMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ColorAlways:
		return ColorAlways
	case ColorNever:
		return ColorNever
	default:
		return ColorAuto
	}
}

// Palette carries the styled printers for summary output. In never mode (or
// auto mode without a TTY) every style degrades to plain text.
type Palette struct {
	Heading   *color.Color
	Root      *color.Color
	Dependent *color.Color
	Arrow     *color.Color
}

func NewPalette(mode ColorMode) *Palette {
	p := &Palette{
		Heading:   color.New(color.Bold),
		Root:      color.New(color.FgGreen),
		Dependent: color.New(color.FgCyan),
		Arrow:     color.New(color.FgHiBlack),
	}
	switch mode {
	case ColorAlways:
		for _, c := range p.all() {
			c.EnableColor()
		}
	case ColorNever:
		for _, c := range p.all() {
			c.DisableColor()
		}
	default:
		// Auto: the color package already disables itself for non-TTY
		// output and when NO_COLOR is set.
	}
	return p
}

func (p *Palette) all() []*color.Color {
	return []*color.Color{p.Heading, p.Root, p.Dependent, p.Arrow}
}

// PrintSummary renders the dependency map and execution order for the
// selected scope.
func PrintSummary(w io.Writer, all map[string]*manifest.Manifest, ordered []*manifest.Manifest, missing map[string][]string, pal *Palette) {
	if len(ordered) == 0 {
		fmt.Fprintln(w, "No stacks selected for deployment.")
		return
	}
	if pal == nil {
		pal = NewPalette(ColorNever)
	}

	index := make(map[string]int, len(ordered))
	for idx, m := range ordered {
		index[m.Name] = idx
	}

	type edges struct {
		internal []string
		external []string
	}
	dependencyMap := make(map[string]edges, len(ordered))
	for _, m := range ordered {
		var e edges
		for _, dep := range m.Dependencies {
			if _, ok := index[dep.StackName]; ok {
				e.internal = append(e.internal, dep.StackName)
			}
		}
		e.external = append(e.external, missing[m.Name]...)
		sort.Strings(e.external)
		dependencyMap[m.Name] = e
	}

	var roots, dependents []string
	for name, e := range dependencyMap {
		if len(e.internal) == 0 && len(e.external) == 0 {
			roots = append(roots, name)
		} else {
			dependents = append(dependents, name)
		}
	}
	byIndex := func(names []string) {
		sort.Slice(names, func(i, j int) bool { return index[names[i]] < index[names[j]] })
	}
	byIndex(roots)
	byIndex(dependents)

	fmt.Fprintln(w, pal.Heading.Sprint("Dependency map (selected scope):"))
	fmt.Fprintf(w, "  %s\n", pal.Heading.Sprint("Root stacks:"))
	if len(roots) == 0 {
		fmt.Fprintln(w, "    (none)")
	}
	for _, name := range roots {
		fmt.Fprintf(w, "    - %s\n", pal.Root.Sprint(name))
	}

	fmt.Fprintf(w, "  %s\n", pal.Heading.Sprint("Dependent stacks:"))
	if len(dependents) == 0 {
		fmt.Fprintln(w, "    (none)")
	}
	for _, name := range dependents {
		fmt.Fprintf(w, "    %s\n", pal.Dependent.Sprint(name))
		e := dependencyMap[name]
		for _, dep := range e.internal {
			fmt.Fprintf(w, "      %s%s\n", pal.Arrow.Sprint("-> "), pal.Root.Sprint(dep))
		}
		for _, dep := range e.external {
			fmt.Fprintf(w, "      %s%s %s\n", pal.Arrow.Sprint("-> "), pal.Root.Sprint(dep), pal.Arrow.Sprint("(external)"))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, pal.Heading.Sprint("Execution order:"))
	cwd, _ := os.Getwd()
	for position, m := range ordered {
		origin := m.Path
		if cwd != "" {
			if rel, err := filepath.Rel(cwd, m.Path); err == nil && !strings.HasPrefix(rel, "..") {
				origin = rel
			}
		}
		fmt.Fprintf(w, "  %d. %s (%s)\n", position+1, pal.Dependent.Sprint(m.Name), origin)
	}
	fmt.Fprintln(w)
}

// PrintPlanTable renders the resolved deployment plan as a table.
func PrintPlanTable(w io.Writer, ordered []*manifest.Manifest, missing map[string][]string, g *graph.ExecutionGraph) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "POS\tSTACK\tLOCATION\tDEPS\tEXTERNAL\tMANIFEST")
	for idx, m := range ordered {
		var deps []string
		for _, dep := range m.Dependencies {
			if _, ok := g.OrderIndex[dep.StackName]; ok {
				deps = append(deps, dep.StackName)
			}
		}
		location := m.Location
		if location == "" {
			location = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			idx, m.Name, location, joinOrDash(deps), joinOrDash(missing[m.Name]), m.Path)
	}
	return nil
}

// PrintRunTable renders one recorded run's per-stack outcome.
func PrintRunTable(w io.Writer, rec *run.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "RUN\t%s\n", rec.RunID)
	fmt.Fprintf(tw, "STATUS\t%s\n", rec.Status)
	fmt.Fprintf(tw, "ROOT\t%s\n", rec.Root)
	fmt.Fprintf(tw, "STARTED\t%s\n", rec.CreatedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(tw, "TOTALS\tplanned=%d succeeded=%d failed=%d skipped=%d\n",
		rec.Planned, rec.Succeeded, rec.Failed, rec.Skipped)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "STACK\tSTATUS\tERROR")
	for _, sr := range rec.Stacks {
		errText := sr.Error
		if len(errText) > 140 {
			errText = errText[:140] + "…"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", sr.Stack, strings.ToUpper(sr.Status), errText)
	}
	return nil
}

// PrintRunsTable renders the recent-run index.
func PrintRunsTable(w io.Writer, recs []run.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "RUN\tSTATUS\tPLANNED\tSUCCEEDED\tFAILED\tSKIPPED\tUPDATED")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			rec.RunID, rec.Status, rec.Planned, rec.Succeeded, rec.Failed, rec.Skipped,
			rec.UpdatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/timestamp"
	"github.com/spanlens/spanlens/pkg/types"
)

// printer writes reports, styled when the output is a terminal.
type printer struct {
	w      io.Writer
	styled bool

	title  lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	muted  lipgloss.Style
	warn   lipgloss.Style
	box    lipgloss.Style
	layers map[string]string
}

func newPrinter(w io.Writer, opts *options) *printer {
	p := &printer{w: w, styled: !opts.plain && isTerminal(w)}
	if !p.styled {
		return p
	}
	p.title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	p.label = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	p.value = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	p.muted = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	p.warn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	p.box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

func (p *printer) layerName(layer string, colors map[string]string) string {
	if layer == "" {
		layer = "(none)"
	}
	if !p.styled {
		return layer
	}
	if c, ok := colors[layer]; ok && c != "" {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Render(layer)
	}
	return layer
}

func (p *printer) json(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) heading(s string) {
	fmt.Fprintln(p.w, p.render(p.title, s))
}

func (p *printer) field(name string, format string, args ...interface{}) {
	fmt.Fprintf(p.w, "  %s %s\n", p.render(p.label, fmt.Sprintf("%-18s", name+":")), p.render(p.value, fmt.Sprintf(format, args...)))
}

// secs formats milliseconds as seconds.
func secs(ms float64) string {
	return fmt.Sprintf("%.3fs", timestamp.ToSeconds(ms))
}

func actorName(actor string) string {
	if actor == "" {
		return "(none)"
	}
	return actor
}

func (p *printer) summary(res engine.LoadResult, snap *engine.Snapshot) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s format, %d events, %d spans", res.DatasetID, res.Format, res.Events, res.Spans)
	if res.Unclosed > 0 || res.Skipped > 0 {
		fmt.Fprintf(&b, " (%d unclosed, %d skipped)", res.Unclosed, res.Skipped)
	}
	if f := snap.Filter; len(f.Layers) != len(snap.Layers) || len(f.Actors) != len(snap.Actors) || f.Search != "" {
		fmt.Fprintf(&b, "\nfilter: layers=%s actors=%s", strings.Join(f.Layers, ","), strings.Join(f.Actors, ","))
		if f.Search != "" {
			fmt.Fprintf(&b, " search=%q", f.Search)
		}
	}
	if p.styled {
		fmt.Fprintln(p.w, p.box.Render(b.String()))
		return
	}
	fmt.Fprintln(p.w, b.String())
}

func (p *printer) statistics(st analytics.Statistics, snap *engine.Snapshot) {
	p.heading("Statistics")
	p.field("Spans", "%d of %d visible", st.VisibleSpans, st.TotalSpans)
	p.field("Timeline", "%s", secs(st.TimelineDuration))
	p.field("Average duration", "%s", secs(st.AverageDuration))
	p.field("Quantiles", "p50 %s  p90 %s  p99 %s", secs(st.Quantiles.P50), secs(st.Quantiles.P90), secs(st.Quantiles.P99))
	p.field("Overlapping pairs", "%d", st.OverlapCount)
	p.field("Max concurrency", "%d at %s", st.Concurrency.Max, secs(st.Concurrency.At))

	if len(st.Layers) > 0 {
		fmt.Fprintln(p.w)
		p.heading("Layers")
		for _, l := range st.Layers {
			fmt.Fprintf(p.w, "  %-20s %5d spans  %s\n", p.layerName(l.Layer, snap.Colors), l.Count, secs(l.TotalDuration))
		}
	}

	if len(st.Longest) > 0 {
		fmt.Fprintln(p.w)
		p.heading("Longest spans")
		for _, s := range st.Longest {
			p.span(s, snap.Colors)
		}
	}

	if len(st.Gaps) > 0 {
		fmt.Fprintln(p.w)
		p.heading("Gaps")
		for _, g := range st.Gaps {
			fmt.Fprintf(p.w, "  %s idle at %s %s\n", p.render(p.warn, secs(g.Duration)), secs(g.Time),
				p.render(p.muted, fmt.Sprintf("(%s -> %s)", g.After, g.Before)))
		}
	}

	if len(st.Patterns) > 0 {
		fmt.Fprintln(p.w)
		p.heading("Patterns")
		for _, pat := range st.Patterns {
			fmt.Fprintf(p.w, "  %-40s x%d\n", pat.Sequence, pat.Count)
		}
	}

	if len(st.CriticalPaths) > 0 {
		fmt.Fprintln(p.w)
		p.heading("Critical paths")
		for _, path := range st.CriticalPaths {
			fmt.Fprintf(p.w, "  %s %s  %d spans\n", path.Name, secs(path.Duration), len(path.Spans))
		}
	}
}

func (p *printer) span(s types.Span, colors map[string]string) {
	name := s.DisplayName
	if name == "" {
		name = s.EventID
	}
	fmt.Fprintf(p.w, "  %-24s %-14s %-12s %s -> %s  %s\n",
		name, p.layerName(s.Layer, colors), actorName(s.Actor),
		secs(s.Start), secs(s.End), p.render(p.value, secs(s.Duration)))
}

func (p *printer) groups(groups []types.Group, colors map[string]string) {
	p.heading(fmt.Sprintf("%d groups", len(groups)))
	for _, g := range groups {
		fmt.Fprintf(p.w, "%s / %s  %s\n", actorName(g.Actor), p.layerName(g.Layer, colors),
			p.render(p.muted, fmt.Sprintf("(%d spans)", len(g.Spans))))
		for _, s := range g.Spans {
			p.span(s, colors)
		}
	}
}

func (p *printer) series(attribute string, byActor map[string][]types.SeriesPoint, actors []string) {
	p.heading(attribute)
	for _, actor := range actors {
		points := byActor[actor]
		fmt.Fprintf(p.w, "  %s %s\n", actorName(actor), p.render(p.muted, fmt.Sprintf("(%d points)", len(points))))
		for _, pt := range points {
			fmt.Fprintf(p.w, "    %s  %g\n", secs(pt.Time), pt.Value)
		}
	}
}

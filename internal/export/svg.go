package export

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/ingest"
	"github.com/spanlens/spanlens/pkg/types"
)

const (
	rowHeight     = 28
	chartPadding  = 80
	barWidth      = 10
	defaultHeight = 480
)

var hexColor = regexp.MustCompile(`^[0-9a-fA-F]{3}([0-9a-fA-F]{3})?$`)

var seriesColors = []drawing.Color{
	chart.ColorBlue,
	chart.ColorGreen,
	chart.ColorRed,
	chart.ColorOrange,
	chart.ColorCyan,
	chart.ColorAlternateGray,
}

// WriteTimelineSVG renders the filtered view of snap as a timeline: one row
// per group, one bar per span, colored by layer.
func WriteTimelineSVG(w io.Writer, snap *engine.Snapshot, opts Options) error {
	if len(snap.Filtered) == 0 || len(snap.Groups) == 0 {
		return errors.NewExportError(errors.CodeNothingToRender, "no visible spans to render", nil)
	}

	rows := len(snap.Groups)
	var series []chart.Series
	ticks := make([]chart.Tick, 0, rows)
	for i, g := range snap.Groups {
		y := float64(rows - 1 - i)
		ticks = append(ticks, chart.Tick{Value: y, Label: groupLabel(g)})

		style := chart.Style{
			StrokeColor: layerColor(snap.Colors, g.Layer),
			StrokeWidth: barWidth,
		}
		for _, s := range g.Spans {
			series = append(series, chart.ContinuousSeries{
				Name:    s.ID,
				XValues: []float64{s.Start, s.End},
				YValues: []float64{y, y},
				Style:   style,
			})
		}
	}

	tr := snap.TimeRange
	if tr.Width() <= 0 {
		tr = types.TimeRange{Start: tr.Start - 1, End: tr.End + 1}
	}

	height := opts.Height
	if height == 0 {
		height = rows*rowHeight + chartPadding
	}

	ch := chart.Chart{
		Title:      "Timeline",
		Width:      opts.Width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20}},
		XAxis: chart.XAxis{
			Name:           "seconds",
			Range:          &chart.ContinuousRange{Min: tr.Start, Max: tr.End},
			ValueFormatter: secondsFormatter,
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: -1, Max: float64(rows)},
			Ticks: ticks,
		},
		Series: series,
	}
	if err := ch.Render(chart.SVG, w); err != nil {
		return errors.NewExportError(errors.CodeRenderFailed, "failed to render timeline", err)
	}
	return nil
}

// WriteSeriesSVG renders one numeric attribute as a line chart with one line
// per actor.
func WriteSeriesSVG(w io.Writer, snap *engine.Snapshot, attribute string, opts Options) error {
	byActor, ok := snap.Series[attribute]
	if !ok {
		return errors.NewQueryError(errors.CodeUnknownAttribute,
			fmt.Sprintf("unknown numeric attribute %q", attribute))
	}

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	var series []chart.Series
	for i, actor := range snap.Series.Actors(attribute) {
		points := byActor[actor]
		if len(points) == 0 {
			continue
		}
		xs := make([]float64, 0, len(points)+1)
		ys := make([]float64, 0, len(points)+1)
		for _, p := range points {
			xs = append(xs, p.Time)
			ys = append(ys, p.Value)
			minX, maxX = math.Min(minX, p.Time), math.Max(maxX, p.Time)
			minY, maxY = math.Min(minY, p.Value), math.Max(maxY, p.Value)
		}
		// A single point has no line; stretch it over one millisecond.
		if len(xs) == 1 {
			xs = append(xs, xs[0]+1)
			ys = append(ys, ys[0])
			maxX = math.Max(maxX, xs[1])
		}
		color := seriesColors[i%len(seriesColors)]
		series = append(series, chart.ContinuousSeries{
			Name:    actorLabel(actor),
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: color,
				StrokeWidth: 2,
				DotWidth:    3,
				DotColor:    color,
			},
		})
	}
	if len(series) == 0 {
		return errors.NewExportError(errors.CodeNothingToRender,
			fmt.Sprintf("attribute %q has no points", attribute), nil)
	}
	if maxY <= minY {
		minY, maxY = minY-1, maxY+1
	}

	height := opts.Height
	if height == 0 {
		height = defaultHeight
	}

	ch := chart.Chart{
		Title:      attribute,
		Width:      opts.Width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20}},
		XAxis: chart.XAxis{
			Name:           "seconds",
			Range:          &chart.ContinuousRange{Min: minX, Max: maxX},
			ValueFormatter: secondsFormatter,
		},
		YAxis: chart.YAxis{
			Name:  attribute,
			Range: &chart.ContinuousRange{Min: minY, Max: maxY},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	if err := ch.Render(chart.SVG, w); err != nil {
		return errors.NewExportError(errors.CodeRenderFailed, "failed to render series chart", err)
	}
	return nil
}

func secondsFormatter(v interface{}) string {
	if ms, ok := v.(float64); ok {
		return fmt.Sprintf("%.3f", seconds(ms))
	}
	return ""
}

// layerColor resolves a "#rrggbb" or "#rgb" layer color, falling back to the
// default layer color for anything unparsable.
func layerColor(colors map[string]string, layer string) drawing.Color {
	hex := strings.TrimPrefix(colors[layer], "#")
	if !hexColor.MatchString(hex) {
		hex = strings.TrimPrefix(ingest.DefaultLayerColor, "#")
	}
	return drawing.ColorFromHex(hex)
}

func groupLabel(g types.Group) string {
	layer := g.Layer
	if layer == "" {
		layer = "(none)"
	}
	return actorLabel(g.Actor) + " / " + layer
}

func actorLabel(actor string) string {
	if actor == "" {
		return "(none)"
	}
	return actor
}

package render

import (
	"fmt"
	"math"
	"time"

	"github.com/waabox/pipegantt/internal/contention"
	"github.com/waabox/pipegantt/internal/rows"
)

const (
	classGroup    = "group"
	classPipeline = "pipeline"
	classJob      = "job"
	gridColor     = "#d0d7de"
	axisColor     = "#57606a"
	nowColor      = "#bc4c00"
	extentColor   = "#eaeef2"
	labelColor    = "#24292f"
)

func (e *Engine) build(id LayerID) []Shape {
	switch id {
	case LayerGrid:
		return e.buildGrid()
	case LayerContention:
		return e.buildContention()
	case LayerPipelineExtent:
		return e.buildExtents()
	case LayerClickTargets:
		return e.buildClickTargets()
	case LayerBars:
		return e.buildBars()
	case LayerAvatars:
		return e.buildAvatars()
	case LayerNow:
		return e.buildNow()
	case LayerAxis:
		return e.buildAxis()
	case LayerLabels:
		return e.buildLabels()
	default:
		return nil
	}
}

func (e *Engine) axisTicks() ([]time.Time, time.Duration) {
	visible := e.VisibleRange()
	maxTicks := int(e.chartWidth() / (e.measurer.Width("00:00") * 2.5))
	step := tickStep(visible.Duration(), maxTicks)
	return ticks(visible.Start, visible.End, step), step
}

func (e *Engine) buildGrid() []Shape {
	var out []Shape
	top, bottom := e.opts.AxisHeight, e.opts.Height
	ts, _ := e.axisTicks()
	for _, t := range ts {
		x := e.screenX(t)
		out = append(out, Shape{Kind: ShapeLine, X: x, Y: top, X2: x, Y2: bottom, Stroke: gridColor, Class: "grid"})
	}
	first, last := e.visibleRows()
	for i := first; i < last; i++ {
		if e.rows[i].Kind != rows.KindGroup || i == 0 {
			continue
		}
		y := e.rowY(i)
		out = append(out, Shape{Kind: ShapeLine, X: 0, Y: y, X2: e.opts.Width, Y2: y, Stroke: gridColor, Class: "grid"})
	}
	return out
}

func (e *Engine) buildContention() []Shape {
	var out []Shape
	left, right := e.opts.LabelWidth, e.opts.Width
	for _, p := range e.data.Periods {
		if p.Severity == contention.SeverityNone {
			continue
		}
		x0, x1 := math.Max(e.screenX(p.Start), left), math.Min(e.screenX(p.End), right)
		if x1 <= x0 {
			continue
		}
		out = append(out, Shape{
			Kind: ShapeRect, X: x0, Y: e.opts.AxisHeight, W: x1 - x0, H: e.chartHeight(),
			Fill:  SeverityColor(p.Severity),
			Class: "contention-" + p.Severity.String(),
			Title: fmt.Sprintf("%d concurrent (%s)", p.Count, p.Severity),
		})
	}
	return out
}

// span returns the clipped screen extent of row r, or false when it is off screen.
func (e *Engine) span(r rows.Row) (float64, float64, bool) {
	start, end, ok := r.Span(e.now)
	if !ok {
		return 0, 0, false
	}
	x0, x1 := e.screenX(start), e.screenX(end)
	left, right := e.opts.LabelWidth, e.opts.Width
	if x1 < left || x0 > right {
		return 0, 0, false
	}
	x0, x1 = math.Max(x0, left), math.Min(x1, right)
	if minWidth := e.opts.CellWidth; x1-x0 < minWidth {
		x1 = x0 + minWidth
	}
	return x0, x1, true
}

func (e *Engine) buildExtents() []Shape {
	var out []Shape
	first, last := e.visibleRows()
	// A pipeline above the first visible row may still cover visible job rows.
	for first > 0 && e.rows[first].Kind == rows.KindJob {
		first--
	}
	for i := first; i < last; i++ {
		r := e.rows[i]
		if r.Kind != rows.KindPipeline || e.extents[i] < 2 {
			continue
		}
		x0, x1, ok := e.span(r)
		if !ok {
			continue
		}
		y0, y1 := e.rowY(i), e.rowY(i+e.extents[i])
		y0 = math.Max(y0, e.opts.AxisHeight)
		if y1 <= y0 {
			continue
		}
		out = append(out, Shape{
			Kind: ShapeRect, X: x0, Y: y0, W: x1 - x0, H: y1 - y0,
			Fill: extentColor, Class: "extent", RowID: r.ID,
		})
	}
	return out
}

func (e *Engine) buildClickTargets() []Shape {
	var out []Shape
	first, last := e.visibleRows()
	for i := first; i < last; i++ {
		r := e.rows[i]
		if r.Kind == rows.KindGroup {
			continue
		}
		x0, x1, ok := e.span(r)
		if !ok {
			continue
		}
		out = append(out, Shape{
			Kind: ShapeRect, X: x0, Y: e.rowY(i), W: x1 - x0, H: e.opts.RowHeight,
			Hidden: true, Class: "target", RowID: r.ID, Link: r.WebURL,
		})
	}
	return out
}

func (e *Engine) buildBars() []Shape {
	var out []Shape
	first, last := e.visibleRows()
	for i := first; i < last; i++ {
		r := e.rows[i]
		if r.Kind == rows.KindGroup {
			continue
		}
		x0, x1, ok := e.span(r)
		if !ok {
			continue
		}
		h, class := e.opts.RowHeight*0.7, classPipeline
		if r.Kind == rows.KindJob {
			h, class = e.opts.RowHeight*0.5, classJob
		}
		if e.opts.RowHeight <= 1 {
			h = e.opts.RowHeight
		}
		out = append(out, Shape{
			Kind: ShapeRect, X: x0, Y: e.rowY(i) + (e.opts.RowHeight-h)/2, W: x1 - x0, H: h,
			Fill: StatusColor(r.Status), Class: class + " " + string(r.Status),
			RowID: r.ID, Link: r.WebURL, Title: e.barTitle(r),
		})
	}
	return out
}

func (e *Engine) barTitle(r rows.Row) string {
	title := r.Label + " " + string(r.Status)
	if r.StartedAt != nil && r.FinishedAt != nil {
		title += " " + r.FinishedAt.Sub(*r.StartedAt).Round(time.Second).String()
	}
	return title
}

func (e *Engine) buildAvatars() []Shape {
	var out []Shape
	first, last := e.visibleRows()
	radius := e.opts.RowHeight * 0.4
	for i := first; i < last; i++ {
		r := e.rows[i]
		if r.Kind != rows.KindPipeline || r.User == nil {
			continue
		}
		x0, _, ok := e.span(r)
		if !ok {
			continue
		}
		out = append(out, Shape{
			Kind: ShapeCircle, X: x0, Y: e.rowY(i) + e.opts.RowHeight/2, R: radius,
			Fill: e.palette.Color(r.User.ID), Text: Initials(r.User), Class: "avatar",
			RowID: r.ID, Title: r.User.Username,
		})
	}
	return out
}

func (e *Engine) buildNow() []Shape {
	if e.now.IsZero() {
		return nil
	}
	x := e.screenX(e.now)
	if x < e.opts.LabelWidth || x > e.opts.Width {
		return nil
	}
	return []Shape{{Kind: ShapeLine, X: x, Y: e.opts.AxisHeight, X2: x, Y2: e.opts.Height, Stroke: nowColor, Class: "now"}}
}

func (e *Engine) buildAxis() []Shape {
	y := e.opts.AxisHeight - 1
	out := []Shape{{Kind: ShapeLine, X: e.opts.LabelWidth, Y: y, X2: e.opts.Width, Y2: y, Stroke: axisColor, Class: "axis"}}
	ts, step := e.axisTicks()
	baseline := math.Max(e.opts.AxisHeight-e.opts.RowHeight, 0) + e.opts.RowHeight*0.75
	if e.opts.RowHeight <= 1 {
		baseline = 0
	}
	for _, t := range ts {
		x := e.screenX(t)
		label := tickLabel(t, step)
		if x+e.measurer.Width(label) > e.opts.Width {
			continue
		}
		out = append(out, Shape{Kind: ShapeText, X: x, Y: baseline, Text: label, Fill: axisColor, Class: "tick"})
	}
	return out
}

func (e *Engine) buildLabels() []Shape {
	var out []Shape
	first, last := e.visibleRows()
	baseline := e.opts.RowHeight * 0.75
	if e.opts.RowHeight <= 1 {
		baseline = 0
	}
	for i := first; i < last; i++ {
		r := e.rows[i]
		x := float64(r.Level) * e.opts.Indent
		text := r.Label
		if r.Kind != rows.KindJob && r.Children > 0 {
			marker := "▾ "
			if r.Collapsed {
				marker = "▸ "
			}
			text = marker + text
		}
		text = e.measurer.Truncate(text, e.opts.LabelWidth-x-e.opts.CellWidth)
		if text == "" {
			continue
		}
		class := classJob
		switch r.Kind {
		case rows.KindGroup:
			class = classGroup
		case rows.KindPipeline:
			class = classPipeline
		}
		fill := labelColor
		if r.Kind == rows.KindGroup {
			fill = e.palette.Color(r.ID)
		}
		out = append(out, Shape{
			Kind: ShapeText, X: x, Y: e.rowY(i) + baseline, Text: text,
			Fill: fill, Class: "label " + class, RowID: r.ID,
		})
	}
	return out
}

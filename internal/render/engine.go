// Package render draws the timeline as a stack of scene layers. An Engine
// owns the zoom/pan transform and the caches, and rebuilds only the layers a
// change affects. Scenes encode to SVG or to terminal cells.
package render

import (
	"errors"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/waabox/pipegantt/internal/contention"
	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/model"
	"github.com/waabox/pipegantt/internal/rows"
	"github.com/waabox/pipegantt/internal/viewport"
)

// Options configures an Engine. Sizes are in the unit of the target encoder:
// pixels for SVG, cells for the terminal.
type Options struct {
	Width      float64
	Height     float64
	LabelWidth float64
	AxisHeight float64
	RowHeight  float64
	// Indent is the label offset per row level.
	Indent float64
	// CellWidth is the width of one text cell, used to measure labels.
	CellWidth float64
	// MaxZoom bounds the scale relative to the whole fetched range.
	MaxZoom float64
	Logger  *slog.Logger
}

// SVGOptions are defaults for pixel output.
func SVGOptions(logger *slog.Logger) Options {
	return Options{
		Width: 1200, Height: 720, LabelWidth: 260, AxisHeight: 28, RowHeight: 18,
		Indent: 14, CellWidth: 7, MaxZoom: 2000, Logger: logger,
	}
}

// TerminalOptions are defaults for cell output.
func TerminalOptions(width, height int, logger *slog.Logger) Options {
	return Options{
		Width: float64(width), Height: float64(height), LabelWidth: 32, AxisHeight: 2, RowHeight: 1,
		Indent: 2, CellWidth: 1, MaxZoom: 2000, Logger: logger,
	}
}

// Data is one refresh result as the engine consumes it.
type Data struct {
	Model   model.Model
	Periods []contention.Period
	Fetch   viewport.Range
}

// View is the user-controlled selection applied on top of Data.
type View struct {
	Collapse rows.CollapseState
	Statuses []domain.Status
	Search   string
}

func (v View) equal(o View) bool {
	return v.Search == o.Search && slices.Equal(v.Statuses, o.Statuses) && v.Collapse.Equal(o.Collapse)
}

// Stats counts engine work.
type Stats struct {
	Frames         int
	RowProjections int
	LayerBuilds    [layerCount]int
	// Interactions counts Zoom and Pan calls; Coalesced those that joined an
	// already pending frame.
	Interactions int
	Coalesced    int
	MeasureHits  int
	ColorHits    int
}

type dirty uint8

const (
	dirtyX dirty = 1 << iota
	dirtyY
	dirtyRows
	dirtyData
	dirtyNow
	dirtyAll = dirtyX | dirtyY | dirtyRows | dirtyData | dirtyNow
)

// affects lists which changes each layer depends on.
var affects = [layerCount]dirty{
	LayerGrid:           dirtyX | dirtyY | dirtyRows,
	LayerContention:     dirtyX | dirtyData,
	LayerPipelineExtent: dirtyX | dirtyY | dirtyRows | dirtyNow,
	LayerClickTargets:   dirtyX | dirtyY | dirtyRows | dirtyNow,
	LayerBars:           dirtyX | dirtyY | dirtyRows | dirtyNow,
	LayerAvatars:        dirtyX | dirtyY | dirtyRows,
	LayerNow:            dirtyX | dirtyNow,
	LayerAxis:           dirtyX,
	LayerLabels:         dirtyY | dirtyRows,
}

// Engine renders Data under a View. It is not safe for concurrent use.
type Engine struct {
	opts     Options
	logger   *slog.Logger
	measurer *Measurer
	palette  *Palette

	data        Data
	dataVersion int
	view        View
	now         time.Time

	rows        []rows.Row
	extents     []int
	index       map[string]int
	rowsVersion int
	rowsView    View
	rowsValid   bool

	transform    Transform
	pending      Transform
	framePending bool
	fitted       bool

	layers [layerCount]Layer
	dirty  dirty
	stats  Stats
}

// NewEngine creates an Engine. A logger is required.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		return nil, errors.New("render: logger is required")
	}
	if opts.Width <= opts.LabelWidth || opts.Height <= opts.AxisHeight {
		return nil, errors.New("render: canvas is smaller than its margins")
	}
	if opts.RowHeight <= 0 {
		return nil, errors.New("render: row height must be positive")
	}
	if opts.MaxZoom < 1 {
		opts.MaxZoom = 1
	}
	e := &Engine{
		opts:      opts,
		logger:    opts.Logger,
		measurer:  NewMeasurer(opts.CellWidth),
		palette:   NewPalette(),
		transform: Identity,
		dirty:     dirtyAll,
	}
	e.pending = e.transform
	for _, id := range Layers {
		e.layers[id] = Layer{ID: id}
	}
	return e, nil
}

// SetData replaces the rendered data. The visible time window is preserved
// across changes of the fetched range.
func (e *Engine) SetData(d Data, now time.Time) {
	var visible viewport.Range
	if e.fitted {
		visible = e.VisibleRange()
	}
	e.data = d
	e.dataVersion++
	e.now = now
	e.dirty |= dirtyData | dirtyRows | dirtyNow
	if e.fitted && d.Fetch != (viewport.Range{}) {
		e.FitViewport(visible)
	}
}

// SetView changes the collapse, filter and search selection.
func (e *Engine) SetView(v View) {
	if e.view.equal(v) {
		return
	}
	e.view = v
	e.dirty |= dirtyRows
}

// Tick advances the current time.
func (e *Engine) Tick(now time.Time) {
	if now.Equal(e.now) {
		return
	}
	e.now = now
	e.dirty |= dirtyNow
}

// Resize changes the canvas size.
func (e *Engine) Resize(width, height float64) error {
	if width <= e.opts.LabelWidth || height <= e.opts.AxisHeight {
		return errors.New("render: canvas is smaller than its margins")
	}
	if width == e.opts.Width && height == e.opts.Height {
		return nil
	}
	visible := e.VisibleRange()
	e.opts.Width, e.opts.Height = width, height
	e.dirty = dirtyAll
	if e.fitted {
		e.FitViewport(visible)
	}
	return nil
}

// FitViewport sets the transform so that v fills the chart width while the
// base scale keeps spanning the whole fetched range.
func (e *Engine) FitViewport(v viewport.Range) {
	w := e.chartWidth()
	b0, b1 := e.base(v.Start), e.base(v.End)
	if b1 <= b0 {
		return
	}
	k := clamp(w/(b1-b0), 1, e.opts.MaxZoom)
	t := Transform{K: k, X: -k * b0, Y: e.transform.Y}
	e.setTransform(t.Clamp(w, e.contentHeight(), e.chartHeight()))
	e.pending = e.transform
	e.framePending = false
	e.fitted = true
}

// Zoom scales the time axis by factor around the screen x coordinate anchor.
// Calls between two frames coalesce into one pending transform; the result
// reports whether the caller must schedule a frame.
func (e *Engine) Zoom(anchor, factor float64) bool {
	a := anchor - e.opts.LabelWidth
	next := e.pending.ZoomAt(a, factor, 1, e.opts.MaxZoom)
	e.pending = next.Clamp(e.chartWidth(), e.contentHeight(), e.chartHeight())
	return e.schedule()
}

// Pan moves the view by dx along time and dy along rows, in screen units.
func (e *Engine) Pan(dx, dy float64) bool {
	e.pending = e.pending.Translate(dx, dy).Clamp(e.chartWidth(), e.contentHeight(), e.chartHeight())
	return e.schedule()
}

// EnsureVisible pans vertically so the row at index is inside the chart.
func (e *Engine) EnsureVisible(index int) bool {
	e.ensureRows()
	top := float64(index)*e.opts.RowHeight + e.pending.Y
	switch {
	case top < 0:
		e.pending.Y -= top
	case top+e.opts.RowHeight > e.chartHeight():
		e.pending.Y -= top + e.opts.RowHeight - e.chartHeight()
	default:
		return false
	}
	e.pending = e.pending.Clamp(e.chartWidth(), e.contentHeight(), e.chartHeight())
	return e.schedule()
}

func (e *Engine) schedule() bool {
	e.stats.Interactions++
	if e.framePending {
		e.stats.Coalesced++
		return false
	}
	e.framePending = true
	return true
}

// FramePending reports whether interactions are waiting for Frame.
func (e *Engine) FramePending() bool { return e.framePending }

// Frame applies the pending transform, rebuilds the layers affected since the
// previous frame and returns the scene.
func (e *Engine) Frame() Scene {
	e.framePending = false
	e.setTransform(e.pending)
	if e.ensureRows() {
		e.setTransform(e.transform.Clamp(e.chartWidth(), e.contentHeight(), e.chartHeight()))
	}
	e.pending = e.transform

	for _, id := range Layers {
		if e.dirty&affects[id] != 0 {
			e.layers[id] = Layer{ID: id, Shapes: e.build(id)}
			e.stats.LayerBuilds[id]++
		}
	}
	e.dirty = 0
	e.stats.Frames++
	e.stats.MeasureHits = e.measurer.hits
	e.stats.ColorHits = e.palette.hits

	scene := Scene{Width: e.opts.Width, Height: e.opts.Height, Layers: make([]Layer, len(Layers))}
	for i, id := range Layers {
		scene.Layers[i] = e.layers[id]
	}
	return scene
}

// Render is Frame for one-shot output: it fits v when the engine has not
// been fitted yet.
func (e *Engine) Render(v viewport.Range) Scene {
	if !e.fitted {
		e.FitViewport(v)
	}
	return e.Frame()
}

func (e *Engine) setTransform(t Transform) {
	var changed dirty
	if t.K != e.transform.K || t.X != e.transform.X {
		changed |= dirtyX
	}
	if t.Y != e.transform.Y {
		changed |= dirtyY
	}
	e.transform = t
	e.dirty |= changed
}

// ensureRows recomputes the row projection when the data or view changed.
// It reports whether the rows were recomputed.
func (e *Engine) ensureRows() bool {
	if e.rowsValid && e.rowsVersion == e.dataVersion && e.rowsView.equal(e.view) {
		return false
	}
	filtered := model.Filter(e.data.Model, e.view.Statuses, e.view.Search)
	e.rows = rows.Project(filtered, e.view.Collapse)
	e.extents = extents(e.rows)
	e.index = make(map[string]int, len(e.rows))
	for i, r := range e.rows {
		e.index[r.ID] = i
	}
	e.rowsVersion = e.dataVersion
	e.rowsView = e.view
	e.rowsValid = true
	e.dirty |= dirtyRows
	e.stats.RowProjections++
	e.logger.Debug("rows projected", "rows", len(e.rows))
	return true
}

// extents returns, for each pipeline row, the number of rows its background
// covers: itself and the job rows that follow it.
func extents(rs []rows.Row) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		if r.Kind != rows.KindPipeline {
			continue
		}
		n := 1
		for j := i + 1; j < len(rs) && rs[j].Kind == rows.KindJob; j++ {
			n++
		}
		out[i] = n
	}
	return out
}

// RowIndex returns the position of the row with the given ID in Rows.
func (e *Engine) RowIndex(id string) (int, bool) {
	e.ensureRows()
	i, ok := e.index[id]
	return i, ok
}

// Rows returns the current row projection.
func (e *Engine) Rows() []rows.Row {
	e.ensureRows()
	return e.rows
}

// Transform returns the applied transform.
func (e *Engine) Transform() Transform { return e.transform }

// Stats returns the work counters.
func (e *Engine) Stats() Stats { return e.stats }

// VisibleRange returns the time window shown by the applied transform.
func (e *Engine) VisibleRange() viewport.Range {
	w := e.chartWidth()
	return viewport.Range{
		Start: e.timeAt(e.transform.InvertX(0)),
		End:   e.timeAt(e.transform.InvertX(w)),
	}
}

// TimeAt returns the instant under the screen x coordinate.
func (e *Engine) TimeAt(x float64) time.Time {
	return e.timeAt(e.transform.InvertX(x - e.opts.LabelWidth))
}

// RowAt returns the index of the row under the screen y coordinate.
func (e *Engine) RowAt(y float64) (int, bool) {
	e.ensureRows()
	if y < e.opts.AxisHeight || y >= e.opts.Height {
		return 0, false
	}
	i := int(math.Floor((y - e.opts.AxisHeight - e.transform.Y) / e.opts.RowHeight))
	if i < 0 || i >= len(e.rows) {
		return 0, false
	}
	return i, true
}

// HitTest returns the row under a screen point of the last frame. Points in
// the label column select their row; points in the chart only hit click
// targets, whatever is painted above them.
func (e *Engine) HitTest(x, y float64) (rows.Row, bool) {
	if x < e.opts.LabelWidth {
		i, ok := e.RowAt(y)
		if !ok {
			return rows.Row{}, false
		}
		return e.rows[i], true
	}
	targets := e.layers[LayerClickTargets].Shapes
	for i := len(targets) - 1; i >= 0; i-- {
		if targets[i].Contains(x, y) {
			if idx, ok := e.index[targets[i].RowID]; ok {
				return e.rows[idx], true
			}
		}
	}
	return rows.Row{}, false
}

func (e *Engine) chartWidth() float64  { return e.opts.Width - e.opts.LabelWidth }
func (e *Engine) chartHeight() float64 { return e.opts.Height - e.opts.AxisHeight }

func (e *Engine) contentHeight() float64 {
	return float64(len(e.rows)) * e.opts.RowHeight
}

// base maps t onto the base scale, where the fetched range spans [0, chart width].
func (e *Engine) base(t time.Time) float64 {
	span := e.data.Fetch.Duration()
	if span <= 0 {
		return 0
	}
	return float64(t.Sub(e.data.Fetch.Start)) / float64(span) * e.chartWidth()
}

func (e *Engine) timeAt(b float64) time.Time {
	span := e.data.Fetch.Duration()
	return e.data.Fetch.Start.Add(time.Duration(b / e.chartWidth() * float64(span)))
}

// screenX maps t to the screen.
func (e *Engine) screenX(t time.Time) float64 {
	return e.opts.LabelWidth + e.transform.ApplyX(e.base(t))
}

// visibleRows returns the index range [first, last) of rows inside the chart.
func (e *Engine) visibleRows() (int, int) {
	first := int(math.Floor(-e.transform.Y / e.opts.RowHeight))
	last := int(math.Ceil((e.chartHeight() - e.transform.Y) / e.opts.RowHeight))
	if first < 0 {
		first = 0
	}
	if last > len(e.rows) {
		last = len(e.rows)
	}
	return first, last
}

func (e *Engine) rowY(i int) float64 {
	return e.opts.AxisHeight + float64(i)*e.opts.RowHeight + e.transform.Y
}

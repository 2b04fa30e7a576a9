package render

// LayerID names a scene layer. Layers paint in ascending order.
type LayerID int

const (
	LayerGrid LayerID = iota
	LayerContention
	LayerPipelineExtent
	LayerClickTargets
	LayerBars
	LayerAvatars
	LayerNow
	LayerAxis
	LayerLabels
	layerCount
)

// Layers lists every layer bottom to top.
var Layers = []LayerID{
	LayerGrid, LayerContention, LayerPipelineExtent, LayerClickTargets,
	LayerBars, LayerAvatars, LayerNow, LayerAxis, LayerLabels,
}

func (l LayerID) String() string {
	switch l {
	case LayerGrid:
		return "grid"
	case LayerContention:
		return "contention"
	case LayerPipelineExtent:
		return "pipeline-extent"
	case LayerClickTargets:
		return "click-targets"
	case LayerBars:
		return "bars"
	case LayerAvatars:
		return "avatars"
	case LayerNow:
		return "now"
	case LayerAxis:
		return "axis"
	case LayerLabels:
		return "labels"
	default:
		return "unknown"
	}
}

// ShapeKind tells how a Shape is drawn.
type ShapeKind int

const (
	ShapeRect ShapeKind = iota
	ShapeLine
	ShapeText
	ShapeCircle
)

// Shape is one drawable element in screen coordinates.
//
// Rect uses X, Y, W, H. Line runs from (X, Y) to (X2, Y2). Text is anchored at
// its left baseline (X, Y). Circle is centered on (X, Y) with radius R.
type Shape struct {
	Kind   ShapeKind
	X, Y   float64
	W, H   float64
	X2, Y2 float64
	R      float64
	Text   string
	Fill   string
	Stroke string
	// Hidden shapes take part in hit testing but are never painted.
	Hidden bool
	Class  string
	RowID  string
	Link   string
	Title  string
}

// Contains reports whether the point lies inside a rect or circle shape.
func (s Shape) Contains(x, y float64) bool {
	switch s.Kind {
	case ShapeRect:
		return x >= s.X && x < s.X+s.W && y >= s.Y && y < s.Y+s.H
	case ShapeCircle:
		dx, dy := x-s.X, y-s.Y
		return dx*dx+dy*dy <= s.R*s.R
	default:
		return false
	}
}

// Layer is the shapes of one layer.
type Layer struct {
	ID     LayerID
	Shapes []Shape
}

// Scene is one rendered frame.
type Scene struct {
	Width  float64
	Height float64
	Layers []Layer
}

// Layer returns the layer with id.
func (s Scene) Layer(id LayerID) Layer {
	for _, l := range s.Layers {
		if l.ID == id {
			return l
		}
	}
	return Layer{ID: id}
}

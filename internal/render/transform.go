package render

import "math"

// Transform maps base chart coordinates to screen coordinates. K scales and
// X translates the time axis; Y translates the row axis, which is never scaled.
type Transform struct {
	K float64
	X float64
	Y float64
}

// Identity is the transform that leaves coordinates unchanged.
var Identity = Transform{K: 1}

// ApplyX maps a base time-axis coordinate to the screen.
func (t Transform) ApplyX(x float64) float64 { return x*t.K + t.X }

// InvertX maps a screen time-axis coordinate back to the base scale.
func (t Transform) InvertX(x float64) float64 { return (x - t.X) / t.K }

// ZoomAt scales by factor around the screen coordinate anchor, which keeps
// its base position. The resulting scale is clamped to [min, max].
func (t Transform) ZoomAt(anchor, factor, min, max float64) Transform {
	k := clamp(t.K*factor, min, max)
	return Transform{
		K: k,
		X: anchor - (anchor-t.X)*k/t.K,
		Y: t.Y,
	}
}

// Translate moves the transform by dx along time and dy along rows.
func (t Transform) Translate(dx, dy float64) Transform {
	return Transform{K: t.K, X: t.X + dx, Y: t.Y + dy}
}

// Clamp keeps the base range [0, width] covering the screen range [0, width]
// and limits the vertical offset to content taller than the view.
func (t Transform) Clamp(width, contentHeight, viewHeight float64) Transform {
	t.X = clamp(t.X, width-width*t.K, 0)
	minY := math.Min(0, viewHeight-contentHeight)
	t.Y = clamp(t.Y, minY, 0)
	return t
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

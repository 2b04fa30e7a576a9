package render

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

type cell struct {
	ch   rune
	fg   string
	bg   string
	wide bool
}

type styleKey struct{ fg, bg string }

// Terminal rasterizes a scene whose unit is one terminal cell.
type Terminal struct {
	styles map[styleKey]lipgloss.Style
}

// NewTerminal returns a Terminal encoder.
func NewTerminal() *Terminal {
	return &Terminal{styles: map[styleKey]lipgloss.Style{}}
}

// Highlight marks a row whose cells are drawn reversed, such as the cursor.
type Highlight struct {
	Y     int
	Width int
}

// Encode returns the scene as styled text, one line per cell row.
func (t *Terminal) Encode(s Scene, highlight *Highlight) string {
	w, h := int(s.Width), int(s.Height)
	if w <= 0 || h <= 0 {
		return ""
	}
	grid := make([][]cell, h)
	for y := range grid {
		grid[y] = make([]cell, w)
		for x := range grid[y] {
			grid[y][x].ch = ' '
		}
	}
	for _, l := range s.Layers {
		for _, sh := range l.Shapes {
			paint(grid, sh)
		}
	}

	var b strings.Builder
	for y, row := range grid {
		if y > 0 {
			b.WriteByte('\n')
		}
		reverse := highlight != nil && highlight.Y == y
		t.writeRow(&b, row, reverse, highlight)
	}
	return b.String()
}

func (t *Terminal) writeRow(b *strings.Builder, row []cell, reverse bool, hl *Highlight) {
	var (
		run     strings.Builder
		current styleKey
		started bool
		runRev  bool
	)
	flush := func() {
		if run.Len() == 0 {
			return
		}
		style := t.style(current)
		if runRev {
			style = style.Reverse(true)
		}
		b.WriteString(style.Render(run.String()))
		run.Reset()
	}
	for x, c := range row {
		if c.wide {
			continue
		}
		rev := reverse && x < hl.Width
		key := styleKey{fg: c.fg, bg: c.bg}
		if !started || key != current || rev != runRev {
			flush()
			current, runRev, started = key, rev, true
		}
		run.WriteRune(c.ch)
	}
	flush()
}

func (t *Terminal) style(k styleKey) lipgloss.Style {
	if s, ok := t.styles[k]; ok {
		return s
	}
	s := lipgloss.NewStyle()
	if k.fg != "" {
		s = s.Foreground(lipgloss.Color(k.fg))
	}
	if k.bg != "" {
		s = s.Background(lipgloss.Color(k.bg))
	}
	t.styles[k] = s
	return s
}

func paint(grid [][]cell, sh Shape) {
	if sh.Hidden {
		return
	}
	h, w := len(grid), len(grid[0])
	set := func(x, y int, fn func(*cell)) {
		if x >= 0 && x < w && y >= 0 && y < h {
			fn(&grid[y][x])
		}
	}
	switch sh.Kind {
	case ShapeRect:
		x0, x1 := cellRange(sh.X, sh.W)
		y0, y1 := cellRange(sh.Y, sh.H)
		background := strings.HasPrefix(sh.Class, "contention") || sh.Class == "extent"
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				set(x, y, func(c *cell) {
					if background {
						c.bg = sh.Fill
						return
					}
					c.ch, c.fg, c.wide = '█', sh.Fill, false
				})
			}
		}
	case ShapeLine:
		switch {
		case sh.X == sh.X2:
			x := int(math.Floor(sh.X))
			for y := int(math.Floor(sh.Y)); y < int(math.Ceil(sh.Y2)); y++ {
				set(x, y, func(c *cell) { c.ch, c.fg, c.wide = '│', sh.Stroke, false })
			}
		case sh.Y == sh.Y2:
			y := int(math.Floor(sh.Y))
			for x := int(math.Floor(sh.X)); x < int(math.Ceil(sh.X2)); x++ {
				set(x, y, func(c *cell) {
					if c.ch == ' ' || c.ch == '│' {
						c.ch, c.fg = '─', sh.Stroke
					}
				})
			}
		}
	case ShapeText:
		x, y := int(math.Floor(sh.X)), int(math.Floor(sh.Y))
		for _, r := range sh.Text {
			rw := runewidth.RuneWidth(r)
			if rw == 0 {
				continue
			}
			set(x, y, func(c *cell) { c.ch, c.fg, c.wide = r, sh.Fill, false })
			for i := 1; i < rw; i++ {
				set(x+i, y, func(c *cell) { c.wide = true })
			}
			x += rw
		}
	case ShapeCircle:
		ch := '●'
		if sh.Text != "" {
			ch = []rune(sh.Text)[0]
		}
		set(int(math.Floor(sh.X)), int(math.Floor(sh.Y)), func(c *cell) { c.ch, c.fg, c.wide = ch, sh.Fill, false })
	}
}

// cellRange returns the cells [from, to) covered by [pos, pos+size), at least one.
func cellRange(pos, size float64) (int, int) {
	from := int(math.Floor(pos))
	to := int(math.Ceil(pos + size))
	if to <= from {
		to = from + 1
	}
	return from, to
}

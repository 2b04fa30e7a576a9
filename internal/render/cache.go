package render

import (
	"hash/fnv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/mattn/go-runewidth"

	"github.com/waabox/pipegantt/internal/contention"
	"github.com/waabox/pipegantt/internal/domain"
)

// Measurer memoizes display-width measurements of label text. Widths are
// terminal cells times CellWidth.
type Measurer struct {
	CellWidth float64

	widths map[string]float64
	hits   int
	misses int
}

// NewMeasurer returns a Measurer for cells of the given width.
func NewMeasurer(cellWidth float64) *Measurer {
	if cellWidth <= 0 {
		cellWidth = 1
	}
	return &Measurer{CellWidth: cellWidth, widths: map[string]float64{}}
}

// Width returns the display width of s.
func (m *Measurer) Width(s string) float64 {
	if w, ok := m.widths[s]; ok {
		m.hits++
		return w
	}
	m.misses++
	w := float64(runewidth.StringWidth(s)) * m.CellWidth
	m.widths[s] = w
	return w
}

// Truncate shortens s with an ellipsis so it fits max.
func (m *Measurer) Truncate(s string, max float64) string {
	if m.Width(s) <= max {
		return s
	}
	cells := int(max / m.CellWidth)
	if cells <= 1 {
		return ""
	}
	return runewidth.Truncate(s, cells, "…")
}

// Palette assigns each identifier a stable color derived from its hash, so
// the same user or project keeps its color across runs.
type Palette struct {
	colors map[string]string
	hits   int
	misses int
}

// NewPalette returns an empty Palette.
func NewPalette() *Palette {
	return &Palette{colors: map[string]string{}}
}

// Color returns the hex color of id.
func (p *Palette) Color(id string) string {
	if c, ok := p.colors[id]; ok {
		p.hits++
		return c
	}
	p.misses++
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum32()
	hue := float64(sum%360) + float64(sum>>24)/256
	c := colorful.Hcl(hue, 0.45, 0.62).Clamped().Hex()
	p.colors[id] = c
	return c
}

// StatusColor returns the bar color of a status.
func StatusColor(s domain.Status) string {
	switch s {
	case domain.StatusSuccess:
		return "#2da44e"
	case domain.StatusFailed:
		return "#cf222e"
	case domain.StatusRunning:
		return "#0969da"
	case domain.StatusPending:
		return "#bf8700"
	case domain.StatusCanceled:
		return "#6e7781"
	default:
		return "#8c959f"
	}
}

// SeverityColor returns the backdrop color of a contention severity.
func SeverityColor(s contention.Severity) string {
	switch s {
	case contention.SeverityLow:
		return "#fff1b8"
	case contention.SeverityMedium:
		return "#ffd591"
	case contention.SeverityHigh:
		return "#ffa39e"
	case contention.SeverityCritical:
		return "#ff7875"
	default:
		return ""
	}
}

// Initials returns up to two initials of a user for avatar badges.
func Initials(u *domain.User) string {
	if u == nil {
		return ""
	}
	name := u.Name
	if name == "" {
		name = u.Username
	}
	var out []rune
	for _, f := range strings.Fields(name) {
		out = append(out, []rune(strings.ToUpper(f))[0])
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}

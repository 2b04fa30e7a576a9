package render

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// WriteSVG encodes s as a standalone SVG document. Hidden click targets are
// emitted as transparent links so the document stays clickable.
func WriteSVG(w io.Writer, s Scene) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s" font-family="monospace" font-size="11">`+"\n",
		num(s.Width), num(s.Height), num(s.Width), num(s.Height))
	fmt.Fprintf(bw, `<rect width="100%%" height="100%%" fill="#ffffff"/>`+"\n")
	for _, l := range s.Layers {
		fmt.Fprintf(bw, `<g class="layer-%s">`+"\n", l.ID)
		for _, sh := range l.Shapes {
			writeShape(bw, sh)
		}
		fmt.Fprintln(bw, `</g>`)
	}
	fmt.Fprintln(bw, `</svg>`)
	return bw.Flush()
}

func writeShape(w *bufio.Writer, sh Shape) {
	if sh.Link != "" {
		fmt.Fprintf(w, `<a href="%s">`, esc(sh.Link))
	}
	attrs := classAttrs(sh)
	switch sh.Kind {
	case ShapeRect:
		fill := sh.Fill
		if sh.Hidden || fill == "" {
			fill = "transparent"
		}
		fmt.Fprintf(w, `<rect x="%s" y="%s" width="%s" height="%s" fill="%s"%s>`,
			num(sh.X), num(sh.Y), num(sh.W), num(sh.H), esc(fill), attrs)
		writeTitle(w, sh.Title)
		fmt.Fprint(w, `</rect>`)
	case ShapeLine:
		fmt.Fprintf(w, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s"%s/>`,
			num(sh.X), num(sh.Y), num(sh.X2), num(sh.Y2), esc(sh.Stroke), attrs)
	case ShapeText:
		fmt.Fprintf(w, `<text x="%s" y="%s" fill="%s"%s>%s</text>`,
			num(sh.X), num(sh.Y), esc(sh.Fill), attrs, esc(sh.Text))
	case ShapeCircle:
		fmt.Fprintf(w, `<circle cx="%s" cy="%s" r="%s" fill="%s"%s>`,
			num(sh.X), num(sh.Y), num(sh.R), esc(sh.Fill), attrs)
		writeTitle(w, sh.Title)
		fmt.Fprint(w, `</circle>`)
	}
	if sh.Link != "" {
		fmt.Fprint(w, `</a>`)
	}
	fmt.Fprintln(w)
}

func classAttrs(sh Shape) string {
	var b strings.Builder
	if sh.Class != "" {
		fmt.Fprintf(&b, ` class="%s"`, esc(sh.Class))
	}
	if sh.RowID != "" {
		fmt.Fprintf(&b, ` data-row="%s"`, esc(sh.RowID))
	}
	return b.String()
}

func writeTitle(w *bufio.Writer, title string) {
	if title != "" {
		fmt.Fprintf(w, `<title>%s</title>`, esc(title))
	}
}

func esc(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func num(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

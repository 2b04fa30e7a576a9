package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds the bindings of normal mode.
type keyMap struct {
	Quit     key.Binding
	Refresh  key.Binding
	Down     key.Binding
	Up       key.Binding
	Top      key.Binding
	Bottom   key.Binding
	PanBack  key.Binding
	PanFwd   key.Binding
	ZoomIn   key.Binding
	ZoomOut  key.Binding
	Fit      key.Binding
	Fold     key.Binding
	Open     key.Binding
	Search   key.Binding
	Clear    key.Binding
	Range    key.Binding
	Back     key.Binding
	Forward  key.Binding
	Statuses key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
	Refresh:  key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "refresh")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Top:      key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("g", "top")),
	Bottom:   key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("G", "bottom")),
	PanBack:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "earlier")),
	PanFwd:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "later")),
	ZoomIn:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
	ZoomOut:  key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "zoom out")),
	Fit:      key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "fit")),
	Fold:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "fold")),
	Open:     key.NewBinding(key.WithKeys("enter", "o"), key.WithHelp("enter", "open")),
	Search:   key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	Clear:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear search")),
	Range:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "range")),
	Back:     key.NewBinding(key.WithKeys("["), key.WithHelp("[", "back")),
	Forward:  key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "forward")),
	Statuses: key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6"), key.WithHelp("1-6", "status")),
}

// ShortHelp is the footer line.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Down, k.PanBack, k.ZoomIn, k.ZoomOut, k.Fit, k.Fold, k.Open, k.Search, k.Statuses, k.Range, k.Back, k.Forward, k.Quit}
}

// FullHelp groups every binding by concern.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom, k.Fold, k.Open},
		{k.PanBack, k.PanFwd, k.ZoomIn, k.ZoomOut, k.Fit, k.Range},
		{k.Search, k.Clear, k.Statuses, k.Back, k.Forward, k.Refresh, k.Quit},
	}
}

var _ help.KeyMap = keyMap{}

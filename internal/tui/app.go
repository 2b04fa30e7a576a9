// Package tui is the interactive terminal front end: a Gantt chart of the
// fetched pipelines with zoom, pan, filters and location history.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/render"
	"github.com/waabox/pipegantt/internal/rows"
	"github.com/waabox/pipegantt/internal/timeline"
	"github.com/waabox/pipegantt/internal/urlstate"
	"github.com/waabox/pipegantt/internal/viewport"
)

// Refresher runs one refresh cycle over a fetch range.
type Refresher interface {
	Refresh(ctx context.Context, fetch viewport.Range) (timeline.Result, error)
}

var _ Refresher = (*timeline.Service)(nil)

// Options wires an AppModel. Refresher and Logger are required.
type Options struct {
	Context     context.Context
	Refresher   Refresher
	Coordinator viewport.Coordinator
	// Location is the initial state location; Defaults fill what it omits.
	Location string
	Defaults urlstate.State
	Debounce time.Duration
	// RefreshInterval enables polling when positive.
	RefreshInterval time.Duration
	// JobsExpanded shows job rows under every pipeline from the start.
	JobsExpanded bool
	Title        string
	Logger       *slog.Logger
	// Open opens a row's web page.
	Open func(url string) error
	// Notify delivers messages from other goroutines, such as location commits.
	Notify func(tea.Msg)
	Now    func() time.Time
}

// ResultMsg carries the outcome of a refresh.
// It is exported so that tests can inject it directly into AppModel.Update.
type ResultMsg struct {
	Result timeline.Result
	Err    error
}

// LocationMsg reports a location committed to the history.
type LocationMsg struct {
	Location string
}

// FrameMsg applies pending interactions and redraws the chart.
// It is exported so that tests can inject it directly into AppModel.Update.
type FrameMsg struct{}

// ClockMsg advances the current time. It slides the viewport but never
// fetches; fetching is left to polling and manual refresh.
// It is exported so that tests can inject it directly into AppModel.Update.
type ClockMsg time.Time

// pollMsg triggers a scheduled refresh.
type pollMsg struct{}

// openedMsg is sent when opening a link completes.
type openedMsg struct {
	url string
	err error
}

type inputMode int

const (
	modeNormal inputMode = iota
	modeSearch
)

const (
	frameInterval = time.Second / 60
	clockInterval = time.Second
	zoomStep      = 1.5
	wheelZoomStep = 1.2
	wheelRows     = 3
	// chromeLines are the lines around the chart: header, separator,
	// detail panel and footer.
	chromeLines = 3 + detailLines
	headerLines = 1
)

// AppModel is the root Bubbletea model for pipegantt.
type AppModel struct {
	ctx       context.Context
	refresher Refresher
	persister *urlstate.Persister
	logger    *slog.Logger
	open      func(string) error
	now       func() time.Time
	poll      time.Duration
	title     string

	coord    viewport.Coordinator
	state    urlstate.State
	collapse rows.CollapseState

	engine   *render.Engine
	opts     render.Options
	terminal *render.Terminal
	result   *timeline.Result
	cursor   CursorModel
	screen   string

	framePending bool
	tooSmall     bool
	fitted       bool
	refit        bool
	loading      bool
	err          error
	notice       string
	mode         inputMode
	width        int
	height       int
	location     string
}

// NewAppModel creates the root application model.
func NewAppModel(opts Options) (AppModel, error) {
	if opts.Refresher == nil {
		return AppModel{}, &domain.ConfigurationError{Field: "tui", Reason: "refresher is required"}
	}
	if opts.Logger == nil {
		return AppModel{}, &domain.ConfigurationError{Field: "tui", Reason: "logger is required"}
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Debounce <= 0 {
		opts.Debounce = urlstate.DefaultDelay
	}
	notify := opts.Notify
	persister, err := urlstate.NewPersister(opts.Location, opts.Defaults, opts.Debounce, opts.Logger, func(loc string) {
		if notify != nil {
			notify(LocationMsg{Location: loc})
		}
	})
	if err != nil {
		return AppModel{}, err
	}

	state := persister.Load()
	coord := opts.Coordinator
	if state.Duration > 0 && state.Duration != coord.Viewport().Duration() {
		next, _, err := coord.SetDuration(state.Duration)
		if err != nil {
			return AppModel{}, &domain.ConfigurationError{Field: "d", Reason: err.Error()}
		}
		coord = next
	}
	return AppModel{
		ctx:       opts.Context,
		refresher: opts.Refresher,
		persister: persister,
		logger:    opts.Logger,
		open:      opts.Open,
		now:       opts.Now,
		poll:      opts.RefreshInterval,
		title:     opts.Title,
		coord:     coord,
		state:     state,
		collapse:  rows.NewCollapseState(!opts.JobsExpanded),
		terminal:  render.NewTerminal(),
		loading:   true,
		location:  persister.Location(),
	}, nil
}

// Init triggers the initial load and starts the clocks.
func (m AppModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refresh(), clockEvery(clockInterval)}
	if m.poll > 0 {
		cmds = append(cmds, pollEvery(m.poll))
	}
	return tea.Batch(cmds...)
}

// Location returns the current state location.
func (m AppModel) Location() string {
	return m.persister.Location()
}

// State returns the current view state.
func (m AppModel) State() urlstate.State {
	return m.state
}

// Engine returns the chart engine, or nil before the first window size.
func (m AppModel) Engine() *render.Engine {
	return m.engine
}

// Close drops pending location updates.
func (m AppModel) Close() {
	m.persister.Close()
}

func (m AppModel) refresh() tea.Cmd {
	fetch := m.coord.FetchRange()
	return func() tea.Msg {
		res, err := m.refresher.Refresh(m.ctx, fetch)
		return ResultMsg{Result: res, Err: err}
	}
}

func (m AppModel) openURL(url string) tea.Cmd {
	open := m.open
	return func() tea.Msg {
		return openedMsg{url: url, err: open(url)}
	}
}

func clockEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return ClockMsg(t)
	})
}

func pollEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(_ time.Time) tea.Msg {
		return pollMsg{}
	})
}

// schedule requests one frame for every change made before it is drawn.
func (m *AppModel) schedule() tea.Cmd {
	if m.framePending || m.engine == nil {
		return nil
	}
	m.framePending = true
	return tea.Tick(frameInterval, func(_ time.Time) tea.Msg {
		return FrameMsg{}
	})
}

func (m AppModel) view() render.View {
	return render.View{Collapse: m.collapse, Statuses: m.state.Statuses, Search: m.state.Search}
}

// Update handles all incoming messages and key events.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd := m.update(msg)
	return m, cmd
}

func (m *AppModel) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m.resize()

	case ResultMsg:
		if msg.Err != nil {
			if errors.Is(msg.Err, context.Canceled) {
				return nil
			}
			m.loading = false
			m.err = msg.Err
			return nil
		}
		m.loading = false
		m.err = nil
		res := msg.Result
		m.result = &res
		return m.applyResult()

	case FrameMsg:
		m.framePending = false
		m.draw()
		return nil

	case ClockMsg:
		now := time.Time(msg)
		cmds := []tea.Cmd{clockEvery(clockInterval)}
		next, fetch := m.coord.Advance(now)
		m.coord = next
		if fetch {
			cmds = append(cmds, m.refresh())
		}
		if m.engine != nil {
			m.engine.Tick(now)
			cmds = append(cmds, m.schedule())
		}
		return tea.Batch(cmds...)

	case pollMsg:
		m.coord = m.coord.Rebase()
		return tea.Batch(m.refresh(), pollEvery(m.poll))

	case LocationMsg:
		m.location = msg.Location
		return nil

	case openedMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("could not open %s: %v", msg.url, msg.err)
		} else {
			m.notice = "opened " + msg.url
		}
		return nil

	case tea.MouseMsg:
		return m.updateMouse(msg)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		if m.mode == modeSearch {
			return m.updateSearch(msg)
		}
		return m.updateNormal(msg)
	}
	return nil
}

func (m *AppModel) resize() tea.Cmd {
	w, h := m.width, m.height-chromeLines
	if m.engine == nil {
		opts := render.TerminalOptions(w, h, m.logger)
		engine, err := render.NewEngine(opts)
		if err != nil {
			m.tooSmall = true
			return nil
		}
		m.engine, m.opts, m.tooSmall = engine, opts, false
		m.engine.SetView(m.view())
		if m.result != nil {
			return m.applyResult()
		}
		return nil
	}
	if err := m.engine.Resize(float64(w), float64(h)); err != nil {
		m.tooSmall = true
		return nil
	}
	m.tooSmall = false
	m.opts.Width, m.opts.Height = float64(w), float64(h)
	return m.schedule()
}

// applyResult hands the last result to the engine. The visible window is
// kept unless the viewport duration changed since the previous result.
func (m *AppModel) applyResult() tea.Cmd {
	if m.engine == nil || m.result == nil {
		return nil
	}
	res := m.result
	m.engine.SetData(render.Data{Model: res.Model, Periods: res.Periods, Fetch: res.Fetch}, res.At)
	if !m.fitted || m.refit {
		m.engine.FitViewport(m.coord.Viewport())
		m.fitted, m.refit = true, false
	}
	m.engine.SetView(m.view())
	m.cursor = m.cursor.Follow(m.engine.Rows())
	return m.schedule()
}

func (m *AppModel) draw() {
	if m.engine == nil {
		return
	}
	scene := m.engine.Frame()
	var hl *render.Highlight
	if m.cursor.Len() > 0 {
		y := m.opts.AxisHeight + float64(m.cursor.SelectedIndex())*m.opts.RowHeight + m.engine.Transform().Y
		if y >= m.opts.AxisHeight && y < m.opts.Height {
			hl = &render.Highlight{Y: int(y), Width: int(m.opts.LabelWidth)}
		}
	}
	m.screen = m.terminal.Encode(scene, hl)
}

func (m *AppModel) quit() tea.Cmd {
	m.persister.Flush()
	return tea.Quit
}

func (m *AppModel) updateNormal(msg tea.KeyMsg) tea.Cmd {
	m.notice = ""
	switch {
	case key.Matches(msg, keys.Quit):
		return m.quit()
	case key.Matches(msg, keys.Refresh):
		m.loading = true
		m.coord = m.coord.Rebase()
		return m.refresh()
	case key.Matches(msg, keys.Down):
		m.cursor = m.cursor.MoveDown()
		return m.follow()
	case key.Matches(msg, keys.Up):
		m.cursor = m.cursor.MoveUp()
		return m.follow()
	case key.Matches(msg, keys.Top):
		m.cursor = m.cursor.Top()
		return m.follow()
	case key.Matches(msg, keys.Bottom):
		m.cursor = m.cursor.Bottom()
		return m.follow()
	case key.Matches(msg, keys.PanBack):
		return m.pan(1)
	case key.Matches(msg, keys.PanFwd):
		return m.pan(-1)
	case key.Matches(msg, keys.ZoomIn):
		return m.zoom(m.chartCenter(), zoomStep)
	case key.Matches(msg, keys.ZoomOut):
		return m.zoom(m.chartCenter(), 1/zoomStep)
	case key.Matches(msg, keys.Fit):
		if m.engine == nil {
			return nil
		}
		m.engine.FitViewport(m.coord.Viewport())
		return m.schedule()
	case key.Matches(msg, keys.Fold):
		return m.toggleSelected()
	case key.Matches(msg, keys.Open):
		return m.openSelected()
	case key.Matches(msg, keys.Search):
		m.mode = modeSearch
	case key.Matches(msg, keys.Clear):
		if m.state.Search != "" {
			next := m.state
			next.Search = ""
			return m.setState(next, true)
		}
	case key.Matches(msg, keys.Range):
		next := m.state
		next.Duration = viewport.Next(m.coord.Viewport().Duration())
		return m.setState(next, true)
	case key.Matches(msg, keys.Back):
		if s, ok := m.persister.Back(); ok {
			m.location = m.persister.Location()
			return m.setState(s, false)
		}
	case key.Matches(msg, keys.Forward):
		if s, ok := m.persister.Forward(); ok {
			m.location = m.persister.Location()
			return m.setState(s, false)
		}
	case key.Matches(msg, keys.Statuses):
		if i := int(msg.String()[0] - '1'); i < len(domain.Statuses) {
			return m.setState(m.state.Toggle(domain.Statuses[i]), true)
		}
	}
	return nil
}

func (m *AppModel) updateSearch(msg tea.KeyMsg) tea.Cmd {
	next := m.state
	switch msg.Type {
	case tea.KeyEnter:
		m.mode = modeNormal
		return nil
	case tea.KeyEsc:
		m.mode = modeNormal
		next.Search = ""
	case tea.KeyBackspace:
		r := []rune(next.Search)
		if len(r) == 0 {
			return nil
		}
		next.Search = string(r[:len(r)-1])
	case tea.KeySpace:
		next.Search += " "
	case tea.KeyRunes:
		next.Search += string(msg.Runes)
	default:
		return nil
	}
	return m.setState(next, true)
}

func (m *AppModel) updateMouse(msg tea.MouseMsg) tea.Cmd {
	if m.engine == nil {
		return nil
	}
	x, y := float64(msg.X), float64(msg.Y-headerLines)
	inChart := x >= m.opts.LabelWidth
	switch msg.Button {
	case tea.MouseButtonWheelUp, tea.MouseButtonWheelDown:
		dir := 1.0
		if msg.Button == tea.MouseButtonWheelDown {
			dir = -1
		}
		switch {
		case msg.Shift:
			return m.pan(dir)
		case inChart:
			factor := wheelZoomStep
			if dir < 0 {
				factor = 1 / wheelZoomStep
			}
			return m.zoom(x, factor)
		default:
			m.engine.Pan(0, dir*wheelRows*m.opts.RowHeight)
			return m.schedule()
		}
	case tea.MouseButtonWheelLeft:
		return m.pan(1)
	case tea.MouseButtonWheelRight:
		return m.pan(-1)
	case tea.MouseButtonLeft:
		if msg.Action != tea.MouseActionPress {
			return nil
		}
		row, ok := m.engine.HitTest(x, y)
		if !ok {
			return nil
		}
		prev, had := m.cursor.Selected()
		m.cursor = m.cursor.Select(row.ID)
		switch {
		case !inChart && row.Children > 0:
			return m.toggleSelected()
		case inChart && had && prev.ID == row.ID:
			return m.openSelected()
		}
		return m.schedule()
	}
	return nil
}

func (m *AppModel) chartCenter() float64 {
	return m.opts.LabelWidth + (m.opts.Width-m.opts.LabelWidth)/2
}

// pan moves the time axis by an eighth of the chart; dir 1 shows earlier times.
func (m *AppModel) pan(dir float64) tea.Cmd {
	if m.engine == nil {
		return nil
	}
	m.engine.Pan(dir*(m.opts.Width-m.opts.LabelWidth)/8, 0)
	return m.schedule()
}

func (m *AppModel) zoom(anchor, factor float64) tea.Cmd {
	if m.engine == nil {
		return nil
	}
	m.engine.Zoom(anchor, factor)
	return m.schedule()
}

// follow scrolls the chart to the cursor.
func (m *AppModel) follow() tea.Cmd {
	if m.engine == nil {
		return nil
	}
	m.engine.EnsureVisible(m.cursor.SelectedIndex())
	return m.schedule()
}

func (m *AppModel) toggleSelected() tea.Cmd {
	row, ok := m.cursor.Selected()
	if !ok {
		return nil
	}
	id := row.ID
	if row.Kind == rows.KindJob {
		id = rows.PipelineID(row.PipelineID)
	}
	m.collapse = m.collapse.Toggle(id)
	return m.applyView()
}

func (m *AppModel) openSelected() tea.Cmd {
	row, ok := m.cursor.Selected()
	if !ok || row.WebURL == "" {
		return nil
	}
	if m.open == nil {
		m.notice = row.WebURL
		return nil
	}
	return m.openURL(row.WebURL)
}

func (m *AppModel) applyView() tea.Cmd {
	if m.engine == nil {
		return nil
	}
	m.engine.SetView(m.view())
	m.cursor = m.cursor.Follow(m.engine.Rows())
	m.engine.EnsureVisible(m.cursor.SelectedIndex())
	return m.schedule()
}

// setState applies s and, when persist is set, schedules it into the history.
// A duration change refetches when the fetched range no longer covers the
// viewport and refits the chart.
func (m *AppModel) setState(s urlstate.State, persist bool) tea.Cmd {
	prevDuration := m.coord.Viewport().Duration()
	m.state = s
	if persist {
		m.persister.Update(s)
	}
	cmds := []tea.Cmd{m.applyView()}
	if s.Duration > 0 && s.Duration != prevDuration {
		next, fetch, err := m.coord.SetDuration(s.Duration)
		if err != nil {
			m.err = err
			return tea.Batch(cmds...)
		}
		m.coord = next
		if fetch {
			m.refit = true
			m.loading = true
			cmds = append(cmds, m.refresh())
		} else if m.engine != nil {
			m.engine.FitViewport(next.Viewport())
			cmds = append(cmds, m.schedule())
		}
	}
	return tea.Batch(cmds...)
}

// View renders the full TUI.
func (m AppModel) View() string {
	if m.width == 0 {
		return "Loading pipelines...\n"
	}
	if m.tooSmall {
		return "Terminal too small.\n"
	}
	if m.result == nil {
		if m.err != nil {
			return fmt.Sprintf("Error: %s\n\nPress 'ctrl+r' to retry or 'q' to quit.\n", domain.UserMessage(m.err))
		}
		return "Loading pipelines...\n"
	}

	separator := strings.Repeat("─", m.width)
	row, ok := m.cursor.Selected()
	detail := NewDetailModel(row, ok, m.result.Model, m.now())
	return strings.Join([]string{
		m.header(),
		m.screen,
		separator,
		detail.View(m.width),
		m.footer(),
	}, "\n")
}

func (m AppModel) header() string {
	var sb strings.Builder
	sb.WriteString(" pipegantt")
	if m.title != "" {
		sb.WriteString(" | " + m.title)
	}
	sb.WriteString(" | " + viewport.Code(m.coord.Viewport().Duration()))
	for i, st := range domain.Statuses {
		mark := " "
		if m.state.Has(st) {
			mark = "x"
		}
		sb.WriteString(fmt.Sprintf(" %d[%s]%s", i+1, mark, st))
	}
	if m.state.Search != "" {
		sb.WriteString(" | /" + m.state.Search)
	}
	if m.loading {
		sb.WriteString(" | loading…")
	} else if m.result != nil {
		sb.WriteString(" | " + m.result.At.Local().Format("15:04:05"))
	}
	if m.result != nil && len(m.result.Warnings) > 0 {
		n := len(m.result.Warnings)
		sb.WriteString(fmt.Sprintf(" | %d warnings", n))
	}
	if m.location != "" {
		sb.WriteString(" | ?" + m.location)
	}
	return truncate(sb.String(), m.width)
}

func (m AppModel) footer() string {
	var s string
	switch {
	case m.mode == modeSearch:
		s = " /" + m.state.Search + "█   enter: apply   esc: clear"
	case m.err != nil:
		s = " Error: " + domain.UserMessage(m.err) + "   ctrl+r: retry"
	case m.notice != "":
		s = " " + m.notice
	default:
		h := help.New()
		h.Width = m.width - 1
		return " " + h.View(keys)
	}
	return truncate(s, m.width)
}

// Run starts the Bubbletea program and returns the final location.
func Run(opts Options) (string, error) {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	var program *tea.Program
	opts.Notify = func(msg tea.Msg) {
		// Commits may run inside Update; Send must not block it.
		go program.Send(msg)
	}
	m, err := NewAppModel(opts)
	if err != nil {
		return "", err
	}
	program = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(opts.Context))
	final, err := program.Run()
	m.Close()
	if fm, ok := final.(AppModel); ok {
		return fm.Location(), err
	}
	return m.Location(), err
}

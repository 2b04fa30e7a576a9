package urlstate

import (
	"errors"
	"log/slog"
	"time"
)

// Persister debounces state updates into history entries. Rapid Updates
// within the delay coalesce into a single entry. Commit is called, on the
// debouncer's goroutine, with every location that enters the history.
type Persister struct {
	def      State
	debounce *Debouncer
	history  *History
	logger   *slog.Logger
	commit   func(loc string)
}

// NewPersister creates a Persister starting at the location initial.
// def supplies the values of fields the location omits.
func NewPersister(initial string, def State, delay time.Duration, logger *slog.Logger, commit func(loc string)) (*Persister, error) {
	if logger == nil {
		return nil, errors.New("urlstate: logger is required")
	}
	if commit == nil {
		commit = func(string) {}
	}
	return &Persister{
		def:      def,
		debounce: NewDebouncer(delay),
		history:  NewHistory(initial),
		logger:   logger,
		commit:   commit,
	}, nil
}

// Load decodes the current location. Invalid locations fall back to the
// defaults and are logged.
func (p *Persister) Load() State {
	return p.decode(p.history.Current())
}

// Update schedules s to be committed once edits pause.
func (p *Persister) Update(s State) {
	loc := s.Encode()
	p.debounce.Trigger(func() {
		if p.history.Push(loc) {
			p.logger.Debug("location committed", "location", loc)
			p.commit(loc)
		}
	})
}

// Flush commits a pending update immediately.
func (p *Persister) Flush() { p.debounce.Flush() }

// Close drops a pending update.
func (p *Persister) Close() { p.debounce.Stop() }

// Back navigates to the previous location and returns its state. A pending
// update is dropped so it cannot overwrite the navigation.
func (p *Persister) Back() (State, bool) {
	p.debounce.Stop()
	loc, ok := p.history.Back()
	return p.decode(loc), ok
}

// Forward navigates to the next location and returns its state.
func (p *Persister) Forward() (State, bool) {
	p.debounce.Stop()
	loc, ok := p.history.Forward()
	return p.decode(loc), ok
}

// Location returns the current location.
func (p *Persister) Location() string { return p.history.Current() }

func (p *Persister) decode(loc string) State {
	s, err := Decode(loc, p.def)
	if err != nil {
		p.logger.Warn("ignoring invalid location", "location", loc, "err", err)
		return p.def
	}
	return s
}

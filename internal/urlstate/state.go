// Package urlstate persists the user-facing view state (status filters, search
// text and viewport duration) in a location query string, with debounced
// commits and back/forward history.
package urlstate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/viewport"
)

const (
	keyStatus   = "status"
	keySearch   = "q"
	keyDuration = "d"
)

// State is the persisted view state. Zoom and pan are not part of it.
type State struct {
	Statuses []domain.Status
	Search   string
	Duration time.Duration
}

// Equal reports whether both states encode to the same location.
func (s State) Equal(o State) bool {
	return s.Encode() == o.Encode()
}

// Toggle returns a copy of s with status added to or removed from the filter set.
func (s State) Toggle(status domain.Status) State {
	next := s
	next.Statuses = nil
	found := false
	for _, st := range s.Statuses {
		if st == status {
			found = true
			continue
		}
		next.Statuses = append(next.Statuses, st)
	}
	if !found {
		next.Statuses = append(next.Statuses, status)
	}
	return next
}

// Has reports whether status is in the filter set.
func (s State) Has(status domain.Status) bool {
	for _, st := range s.Statuses {
		if st == status {
			return true
		}
	}
	return false
}

// Encode serializes s as a query string. Statuses are comma-separated in
// canonical order and empty fields are omitted.
func (s State) Encode() string {
	v := url.Values{}
	if len(s.Statuses) > 0 {
		v.Set(keyStatus, strings.Join(canonical(s.Statuses), ","))
	}
	if s.Search != "" {
		v.Set(keySearch, s.Search)
	}
	if s.Duration > 0 {
		v.Set(keyDuration, viewport.Code(s.Duration))
	}
	return v.Encode()
}

// Decode parses a query string produced by Encode. Fields that are absent keep
// the values of def. A leading "?" is ignored.
func Decode(query string, def State) (State, error) {
	v, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return def, fmt.Errorf("urlstate: %w", err)
	}
	return FromValues(v, def)
}

// FromValues is Decode for already parsed values.
func FromValues(v url.Values, def State) (State, error) {
	s := def
	if raw, ok := v[keyStatus]; ok {
		s.Statuses = nil
		for _, part := range strings.Split(strings.Join(raw, ","), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			st, known := domain.ParseStatus(part)
			if !known {
				return def, fmt.Errorf("urlstate: unknown status %q", part)
			}
			if !s.Has(st) {
				s.Statuses = append(s.Statuses, st)
			}
		}
	}
	if _, ok := v[keySearch]; ok {
		s.Search = v.Get(keySearch)
	}
	if code := v.Get(keyDuration); code != "" {
		d, err := viewport.ParseCode(code)
		if err != nil {
			return def, fmt.Errorf("urlstate: %w", err)
		}
		s.Duration = d
	}
	return s, nil
}

func canonical(statuses []domain.Status) []string {
	rank := make(map[domain.Status]int, len(domain.Statuses))
	for i, st := range domain.Statuses {
		rank[st] = i
	}
	out := make([]string, 0, len(statuses))
	seen := map[domain.Status]bool{}
	sorted := append([]domain.Status(nil), statuses...)
	sort.SliceStable(sorted, func(i, j int) bool { return rank[sorted[i]] < rank[sorted[j]] })
	for _, st := range sorted {
		if !seen[st] {
			seen[st] = true
			out = append(out, string(st))
		}
	}
	return out
}

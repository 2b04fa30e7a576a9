package model

import (
	"strings"

	"github.com/waabox/pipegantt/internal/domain"
)

// Filter returns a new Model holding the pipelines whose status is in statuses
// (all statuses when empty) and that match search. A pipeline matches when its
// id, ref, user, group label or any job name or stage contains search,
// case-insensitively. Groups left without pipelines are dropped.
// With no status set and no search text, m is returned as is.
func Filter(m Model, statuses []domain.Status, search string) Model {
	search = strings.ToLower(strings.TrimSpace(search))
	if len(statuses) == 0 && search == "" {
		return m
	}
	allowed := make(map[domain.Status]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}

	out := Model{Mode: m.Mode}
	for _, g := range m.Groups {
		var kept []domain.Pipeline
		for _, p := range g.Pipelines {
			if len(allowed) > 0 && !allowed[p.Status] {
				continue
			}
			if search != "" && !matches(g.Key, p, search) {
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) > 0 {
			out.Groups = append(out.Groups, domain.Group{Key: g.Key, Pipelines: kept})
		}
	}
	return out
}

func matches(key domain.GroupKey, p domain.Pipeline, search string) bool {
	fields := []string{p.ID, p.Ref, key.Label}
	if p.User != nil {
		fields = append(fields, p.User.Username, p.User.Name)
	}
	for _, j := range p.Jobs {
		fields = append(fields, j.Name, j.Stage)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

package tui

import "github.com/waabox/pipegantt/internal/rows"

// CursorModel is an immutable cursor over the projected rows.
type CursorModel struct {
	rows   []rows.Row
	cursor int
}

// NewCursorModel creates a cursor on the first of rs.
func NewCursorModel(rs []rows.Row) CursorModel {
	return CursorModel{rows: rs, cursor: 0}
}

// MoveDown returns a new model with the cursor moved down by one.
func (m CursorModel) MoveDown() CursorModel {
	if m.cursor < len(m.rows)-1 {
		m.cursor++
	}
	return m
}

// MoveUp returns a new model with the cursor moved up by one.
func (m CursorModel) MoveUp() CursorModel {
	if m.cursor > 0 {
		m.cursor--
	}
	return m
}

// Top returns a new model with the cursor on the first row.
func (m CursorModel) Top() CursorModel {
	m.cursor = 0
	return m
}

// Bottom returns a new model with the cursor on the last row.
func (m CursorModel) Bottom() CursorModel {
	if len(m.rows) > 0 {
		m.cursor = len(m.rows) - 1
	}
	return m
}

// SelectedIndex returns the current cursor position.
func (m CursorModel) SelectedIndex() int {
	return m.cursor
}

// Selected returns the highlighted row, or false when there are no rows.
func (m CursorModel) Selected() (rows.Row, bool) {
	if len(m.rows) == 0 {
		return rows.Row{}, false
	}
	return m.rows[m.cursor], true
}

// Len returns the number of rows.
func (m CursorModel) Len() int {
	return len(m.rows)
}

// Select returns a new model with the cursor on the row with id. The cursor
// stays put when id is unknown.
func (m CursorModel) Select(id string) CursorModel {
	if i := rows.Find(m.rows, id); i >= 0 {
		m.cursor = i
	}
	return m
}

// Follow returns a model over rs that keeps the cursor on the same row.
// When that row disappeared, the cursor moves to its pipeline, then to its
// group, and otherwise keeps its index within bounds.
func (m CursorModel) Follow(rs []rows.Row) CursorModel {
	next := CursorModel{rows: rs, cursor: m.cursor}
	if sel, ok := m.Selected(); ok {
		candidates := []string{sel.ID}
		if sel.PipelineID != "" {
			candidates = append(candidates, rows.PipelineID(sel.PipelineID))
		}
		candidates = append(candidates, rows.GroupID(sel.Group))
		for _, id := range candidates {
			if i := rows.Find(rs, id); i >= 0 {
				next.cursor = i
				return next
			}
		}
	}
	if next.cursor >= len(rs) {
		next.cursor = len(rs) - 1
	}
	if next.cursor < 0 {
		next.cursor = 0
	}
	return next
}

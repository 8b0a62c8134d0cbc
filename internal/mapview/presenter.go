package mapview

// LayerRow is one entry of the layer list, top of the stack first.
type LayerRow struct {
	ID          LayerID
	Label       string
	Count       *int64
	Synthetic   bool
	Checked     bool
	Disabled    bool
	Active      bool
	CanMoveUp   bool
	CanMoveDown bool
}

// Present renders registry state as layer list rows. Layers missing from the
// order are listed last in catalog order without move controls.
func Present(s State) []LayerRow {
	byID := make(map[LayerID]*Layer, len(s.Layers))
	for _, l := range s.Layers {
		byID[l.ID] = l
	}

	rows := make([]LayerRow, 0, len(s.Order)+len(s.Layers))
	inOrder := make(map[LayerID]bool, len(s.Order))
	for i := len(s.Order) - 1; i >= 0; i-- {
		id := s.Order[i]
		inOrder[id] = true
		row := LayerRow{
			ID:          id,
			Label:       string(id),
			Synthetic:   s.Synthetic[id],
			Checked:     s.Visible[id],
			Active:      s.Active == id,
			CanMoveUp:   i < len(s.Order)-1,
			CanMoveDown: i > 0,
		}
		if l, ok := byID[id]; ok {
			row.Label = l.Name()
			row.Count = l.Count
			row.Disabled = l.KnownEmpty()
		}
		rows = append(rows, row)
	}

	for _, l := range s.Layers {
		if inOrder[l.ID] {
			continue
		}
		rows = append(rows, LayerRow{
			ID:       l.ID,
			Label:    l.Name(),
			Count:    l.Count,
			Checked:  s.Visible[l.ID],
			Disabled: l.KnownEmpty(),
			Active:   s.Active == l.ID,
		})
	}
	return rows
}

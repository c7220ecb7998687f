package verifier

import "github.com/puzzle-records/internal/domain"

// Rectangle verifies Shikaku-style games where the grid is partitioned into
// rectangles.
type Rectangle struct{}

func (Rectangle) Kind() Kind { return KindRectangle }

func (Rectangle) Verify(p *domain.Payload) bool {
	if !validShape(p) {
		return false
	}
	if len(p.Answers) == 0 {
		return false
	}
	for _, a := range p.Answers {
		switch {
		case a.Rect != nil:
			if !validRect(*a.Rect) {
				return false
			}
		case a.Cells.Present:
			if !validCellList(a.Cells) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func validRect(r domain.Rect) bool {
	if !r.Object || !r.X.Valid || !r.Y.Valid || !r.Width.Valid || !r.Height.Valid {
		return false
	}
	return r.X.Value >= 0 && r.Y.Value >= 0 && r.Width.Value > 0 && r.Height.Value > 0
}

func validCellList(l domain.CellList) bool {
	if !l.Valid || len(l.Items) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(l.Items))
	for _, c := range l.Items {
		key, ok := CellKey(c)
		if !ok {
			return false
		}
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}

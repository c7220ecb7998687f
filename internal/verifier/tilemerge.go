package verifier

import "github.com/puzzle-records/internal/domain"

var moveDirections = map[string]bool{
	"up":    true,
	"down":  true,
	"left":  true,
	"right": true,
}

// TileMerge verifies 2048-style games. Every reported board is checked, so a
// lone max_tile claim is only accepted when it is a power of two.
type TileMerge struct{}

func (TileMerge) Kind() Kind { return KindTileMerge }

func (TileMerge) Verify(p *domain.Payload) bool {
	if !validShape(p) {
		return false
	}
	if !hasAction(p.ActionLog, "move") {
		return false
	}
	if len(p.Answers) == 0 {
		return false
	}
	for _, a := range p.Answers {
		if !validTileAnswer(a) {
			return false
		}
	}
	// Tile games have no notion of mistakes or hints.
	if len(p.WrongAnswers) > 0 || len(p.HintEvents) > 0 {
		return false
	}
	for _, entry := range p.ActionLog {
		if entry.Action != "move" || entry.Payload == nil {
			continue
		}
		dir := entry.Payload.Direction
		if dir.Present && !(dir.Valid && moveDirections[dir.Value]) {
			return false
		}
	}
	return true
}

func validTileAnswer(a domain.Answer) bool {
	board, hasBoard := boardOf(a)
	if hasBoard && !validTileBoard(board) {
		return false
	}
	if a.MaxTile.Present && !(a.MaxTile.Valid && isPowerOfTwo(a.MaxTile.Value)) {
		return false
	}
	if a.Score.Present && !(a.Score.Valid && a.Score.Value >= 0) {
		return false
	}
	return hasBoard || a.MaxTile.Present || a.Score.Present
}

// validTileBoard accepts a non-empty square board, nested or flat, whose
// cells are 0 or powers of two.
func validTileBoard(m domain.Matrix) bool {
	if !m.Valid {
		return false
	}
	if m.Nested {
		size := len(m.Rows)
		for _, row := range m.Rows {
			if len(row) != size {
				return false
			}
		}
	} else if !isSquare(len(m.Values)) {
		return false
	}
	if len(m.Values) == 0 {
		return false
	}
	for _, v := range m.Values {
		if !v.Valid {
			return false
		}
		if v.Value != 0 && !isPowerOfTwo(v.Value) {
			return false
		}
	}
	return true
}

func isPowerOfTwo(v int64) bool {
	return v >= 2 && v&(v-1) == 0
}

func isSquare(n int) bool {
	for side := 1; side*side <= n; side++ {
		if side*side == n {
			return true
		}
	}
	return false
}

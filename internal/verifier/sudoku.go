package verifier

import "github.com/puzzle-records/internal/domain"

const (
	sudokuSide  = 9
	sudokuCells = sudokuSide * sudokuSide
)

// ConstraintSum verifies sudoku and killer-sudoku. Each entry is either a
// complete board or a single cell assignment.
type ConstraintSum struct{}

func (ConstraintSum) Kind() Kind { return KindConstraintSum }

func (ConstraintSum) Verify(p *domain.Payload) bool {
	if !validShape(p) {
		return false
	}
	if len(p.Answers) == 0 {
		return false
	}
	return validSudokuList(p.Answers) &&
		validSudokuList(p.WrongAnswers) &&
		validSudokuList(p.HintEvents)
}

func validSudokuList(list []domain.Answer) bool {
	seen := make(map[string]struct{}, len(list))
	for _, a := range list {
		if board, ok := boardOf(a); ok {
			if !validSudokuBoard(board) {
				return false
			}
			continue
		}
		v := valueOf(a)
		if !v.Valid || v.Value < 1 || v.Value > 9 {
			return false
		}
		key, ok := EntryCellKey(a)
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

// validSudokuBoard accepts 81 digits, flat or as 9 rows, where every row,
// column and 3x3 block holds each digit once.
func validSudokuBoard(m domain.Matrix) bool {
	if !m.Valid {
		return false
	}
	if m.Nested {
		if len(m.Rows) != sudokuSide {
			return false
		}
		for _, row := range m.Rows {
			if len(row) != sudokuSide {
				return false
			}
		}
	}
	if len(m.Values) != sudokuCells {
		return false
	}
	var cells [sudokuCells]int64
	for i, v := range m.Values {
		if !v.Valid || v.Value < 1 || v.Value > 9 {
			return false
		}
		cells[i] = v.Value
	}

	for i := 0; i < sudokuSide; i++ {
		var row, col, block [sudokuSide + 1]bool
		for j := 0; j < sudokuSide; j++ {
			r := cells[i*sudokuSide+j]
			c := cells[j*sudokuSide+i]
			b := cells[((i/3)*3+j/3)*sudokuSide+(i%3)*3+j%3]
			if row[r] || col[c] || block[b] {
				return false
			}
			row[r], col[c], block[b] = true, true, true
		}
	}
	return true
}

package verifier

import (
	"strconv"

	"github.com/puzzle-records/internal/domain"
)

// Base only checks the shape shared by every game.
type Base struct{}

func (Base) Kind() Kind { return KindBase }

func (Base) Verify(p *domain.Payload) bool {
	return validShape(p)
}

// validShape requires a non-empty action log that contains a submit action.
// The answer lists are typed, so being lists of objects is already enforced
// by decoding.
func validShape(p *domain.Payload) bool {
	if p == nil || len(p.ActionLog) == 0 {
		return false
	}
	return hasAction(p.ActionLog, "submit")
}

func hasAction(log []domain.ActionEntry, name string) bool {
	for _, entry := range log {
		if entry.Action == name {
			return true
		}
	}
	return false
}

// CellKey normalizes a cell reference: an index becomes "idx:<n>", a row/col
// or x/y pair becomes "<a>,<b>" and a string passes through. ok is false when
// no key can be derived, including for any negative coordinate or index.
func CellKey(c domain.CellRef) (string, bool) {
	switch {
	case c.Index.Valid:
		return indexKey(c.Index.Value)
	case c.Text.Valid:
		return c.Text.Value, c.Text.Value != ""
	case c.Row.Valid && c.Col.Valid:
		return pairKey(c.Row.Value, c.Col.Value)
	case c.X.Valid && c.Y.Valid:
		return pairKey(c.X.Value, c.Y.Value)
	}
	return "", false
}

// EntryCellKey derives the cell key of an answer from its cell field, falling
// back to row/col, then x/y, then index on the answer itself.
func EntryCellKey(a domain.Answer) (string, bool) {
	if a.Cell.Present {
		if key, ok := CellKey(a.Cell); ok {
			return key, true
		}
	}
	switch {
	case a.Row.Valid && a.Col.Valid:
		return pairKey(a.Row.Value, a.Col.Value)
	case a.X.Valid && a.Y.Valid:
		return pairKey(a.X.Value, a.Y.Value)
	case a.Index.Valid:
		return indexKey(a.Index.Value)
	}
	return "", false
}

func indexKey(n int64) (string, bool) {
	if n < 0 {
		return "", false
	}
	return "idx:" + strconv.FormatInt(n, 10), true
}

func pairKey(a, b int64) (string, bool) {
	if a < 0 || b < 0 {
		return "", false
	}
	return strconv.FormatInt(a, 10) + "," + strconv.FormatInt(b, 10), true
}

// valueOf returns the numeric value of an answer, accepting "number" as an
// alias when "value" is absent.
func valueOf(a domain.Answer) domain.Int {
	if a.Value.Present {
		return a.Value
	}
	return a.Number
}

// boardOf returns the board of an answer and whether either key was given.
func boardOf(a domain.Answer) (domain.Matrix, bool) {
	if a.Board.Present {
		return a.Board, true
	}
	return a.Grid, a.Grid.Present
}

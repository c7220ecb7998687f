package verifier

import "github.com/puzzle-records/internal/domain"

// NumberPath verifies Hidato-style games where each cell holds one number of
// a continuous path.
type NumberPath struct{}

func (NumberPath) Kind() Kind { return KindNumberPath }

func (NumberPath) Verify(p *domain.Payload) bool {
	if !validShape(p) {
		return false
	}
	if len(p.Answers) == 0 {
		return false
	}
	return validNumberList(p.Answers, true) &&
		validNumberList(p.WrongAnswers, false) &&
		validNumberList(p.HintEvents, false)
}

// validNumberList rejects entries without a cell key and lists repeating a
// cell or a value. Values are mandatory only when requireValue is set.
func validNumberList(list []domain.Answer, requireValue bool) bool {
	cells := make(map[string]struct{}, len(list))
	values := make(map[int64]struct{}, len(list))
	for _, a := range list {
		key, ok := EntryCellKey(a)
		if !ok {
			return false
		}
		if _, dup := cells[key]; dup {
			return false
		}
		cells[key] = struct{}{}

		v := valueOf(a)
		if !v.Present {
			if requireValue {
				return false
			}
			continue
		}
		if !v.Valid || v.Value < 0 {
			return false
		}
		if _, dup := values[v.Value]; dup {
			return false
		}
		values[v.Value] = struct{}{}
	}
	return true
}

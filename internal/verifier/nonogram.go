package verifier

import "github.com/puzzle-records/internal/domain"

var nonogramStates = map[string]bool{
	"filled": true,
	"marked": true,
	"empty":  true,
	"clear":  true,
}

// Nonogram verifies picture-cross games where each answer marks one grid
// cell.
type Nonogram struct{}

func (Nonogram) Kind() Kind { return KindNonogram }

func (Nonogram) Verify(p *domain.Payload) bool {
	if !validShape(p) {
		return false
	}
	if len(p.Answers) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(p.Answers))
	for _, a := range p.Answers {
		if !a.Row.Valid || !a.Col.Valid {
			return false
		}
		key, ok := pairKey(a.Row.Value, a.Col.Value)
		if !ok {
			return false
		}
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}

		if a.Filled.Valid {
			continue
		}
		if !a.State.Valid || !nonogramStates[a.State.Value] {
			return false
		}
	}
	return true
}

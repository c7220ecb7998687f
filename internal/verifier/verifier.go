// Package verifier judges whether the telemetry attached to a submission is
// consistent with a genuine play-through of the puzzle. Verifiers are pure:
// the same payload always yields the same verdict.
package verifier

import "github.com/puzzle-records/internal/domain"

// Kind tags the strategy a verifier implements.
type Kind string

const (
	KindBase          Kind = "base"
	KindTileMerge     Kind = "tile-merge"
	KindNumberPath    Kind = "number-path"
	KindConstraintSum Kind = "constraint-sum"
	KindNonogram      Kind = "nonogram"
	KindRectangle     Kind = "rectangle"
)

// Verifier validates the shape and internal consistency of a payload.
type Verifier interface {
	Kind() Kind
	Verify(p *domain.Payload) bool
}

// Registry maps game names to their verifier.
type Registry struct {
	verifiers map[string]Verifier
	fallback  Verifier
}

// NewRegistry builds the registry of every game with a dedicated verifier.
// Other games are checked by the base verifier only.
func NewRegistry() *Registry {
	return &Registry{
		verifiers: map[string]Verifier{
			"sudoku":        ConstraintSum{},
			"killer-sudoku": ConstraintSum{},
			"2048":          TileMerge{},
			"nonogram":      Nonogram{},
			"hidato":        NumberPath{},
			"shikaku":       Rectangle{},
		},
		fallback: Base{},
	}
}

// Get returns the verifier for game, or the base verifier when the game has
// no dedicated one.
func (r *Registry) Get(game string) Verifier {
	if v, ok := r.verifiers[game]; ok {
		return v
	}
	return r.fallback
}

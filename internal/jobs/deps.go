package jobs

import (
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/candidates"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/internal/tsreader"
)

// Deps are the collaborators shared by every algorithm.
type Deps struct {
	Store      store.Store
	Reader     tsreader.Reader
	Candidates *candidates.Generator
	Policy     analysis.Policy
}

// DefaultAlgorithms returns every built-in job type.
func DefaultAlgorithms(d Deps) []Algorithm {
	return []Algorithm{
		&RelatedSignals{deps: d},
		&CorrelationMatrix{deps: d},
		&CooccurrenceScan{deps: d},
		&ShapeProfile{deps: d},
		&EventMatch{deps: d},
		&Noop{},
	}
}

// Package guardrail makes the document-level accept/reject decision over the
// complete set of chunk audit results.
//
// Clinical documents routinely bundle statutory or legal boilerplate with real
// patient data. Chunks rejected only for that reason are ignored; any other
// INVALID chunk rejects the whole document.
package guardrail

import (
	"slices"

	"github.com/ehr/intake/internal/domain/auditor"
)

// EmptyInputReason is reported when a document produced no chunks.
const EmptyInputReason = "empty input: no chunks were produced"

// Decision is the guardrail verdict for one document.
type Decision struct {
	Accepted bool
	// Reason explains a rejection. Empty when accepted.
	Reason string
	// Valid holds the accepted chunks in ascending chunk order.
	Valid []auditor.ChunkResult
	// IgnoredLegal counts INVALID chunks excluded as legal appendix text.
	IgnoredLegal int
}

// Engine applies the decision rules with a fixed set of markers.
type Engine struct {
	markers Markers
}

// NewEngine creates an engine for the given markers.
func NewEngine(markers Markers) *Engine {
	return &Engine{markers: markers}
}

// Decide evaluates every chunk result of one document. Results may arrive in
// any order; they are sorted by chunk id before evaluation.
func (e *Engine) Decide(results []auditor.ChunkResult) Decision {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b auditor.ChunkResult) int {
		return a.ChunkID - b.ChunkID
	})

	var valid, invalid []auditor.ChunkResult
	for _, r := range sorted {
		if r.Valid() {
			valid = append(valid, r)
		} else {
			invalid = append(invalid, r)
		}
	}

	if len(valid) == 0 {
		if len(invalid) == 0 {
			return Decision{Reason: EmptyInputReason}
		}
		return Decision{Reason: invalid[0].Reason}
	}

	ignored := 0
	for _, r := range invalid {
		if e.markers.IsLegalAppendix(r.Reason) {
			ignored++
			continue
		}
		return Decision{Reason: r.Reason, IgnoredLegal: ignored}
	}

	return Decision{
		Accepted:     true,
		Valid:        valid,
		IgnoredLegal: ignored,
	}
}

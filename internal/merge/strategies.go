// Package merge reduces branch outputs collected at a fan-in into a single
// context value. Every strategy is a pure function over a sorted slice of
// BranchResult — no I/O, no store access.
package merge

import (
	"sort"
	"strconv"

	"github.com/lyzr/flowcore/internal/werrors"
)

// BranchResult is one sibling's contribution to a merge. Siblings whose
// branch table was dropped (e.g. a failed sibling) are simply absent from
// the slice passed to Apply.
type BranchResult struct {
	TokenID     string
	BranchIndex int
	Output      interface{}
}

// Strategy names.
const (
	Append        = "append"
	Collect       = "collect"
	MergeObject   = "merge_object"
	KeyedByBranch = "keyed_by_branch"
	LastWins      = "last_wins"
)

// Apply sorts results by BranchIndex (stable tie-break by TokenID) and
// reduces them per strategy. Unknown strategy returns a *werrors.MergeError.
func Apply(strategy string, results []BranchResult) (interface{}, error) {
	sorted := make([]BranchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BranchIndex != sorted[j].BranchIndex {
			return sorted[i].BranchIndex < sorted[j].BranchIndex
		}
		return sorted[i].TokenID < sorted[j].TokenID
	})

	switch strategy {
	case Append, Collect:
		out := make([]interface{}, len(sorted))
		for i, r := range sorted {
			out[i] = r.Output
		}
		return out, nil

	case MergeObject:
		out := make(map[string]interface{})
		for _, r := range sorted {
			obj, ok := r.Output.(map[string]interface{})
			if !ok {
				continue
			}
			for k, v := range obj {
				out[k] = v
			}
		}
		return out, nil

	case KeyedByBranch:
		out := make(map[string]interface{}, len(sorted))
		for _, r := range sorted {
			out[strconv.Itoa(r.BranchIndex)] = r.Output
		}
		return out, nil

	case LastWins:
		if len(sorted) == 0 {
			return map[string]interface{}{}, nil
		}
		return sorted[len(sorted)-1].Output, nil

	default:
		return nil, &werrors.MergeError{Strategy: strategy}
	}
}

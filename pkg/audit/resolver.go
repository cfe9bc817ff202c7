package audit

import "sort"

// Resolve selects exactly one candidate to report: the most severe, ties
// broken by the fixed precedence wc > ui > hc > lc > cc. The winner keeps only
// its own items. An empty candidate set resolves to cc.
func Resolve(cands []Candidate) Candidate {
	if len(cands) == 0 {
		return Candidate{Code: CodeCC, Items: []string{}}
	}

	ranked := make([]Candidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, k int) bool {
		ri, rk := ranked[i].Code.Severity().Rank(), ranked[k].Code.Severity().Rank()
		if ri != rk {
			return ri > rk
		}
		return ranked[i].Code.precedence() < ranked[k].Code.precedence()
	})

	top := ranked[0]
	items := make([]string, len(top.Items))
	copy(items, top.Items)
	return Candidate{Code: top.Code, Items: items}
}

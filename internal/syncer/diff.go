package syncer

import "slices"

// Pair couples the matched elements of a partition, one from each side.
type Pair[A, B any] struct {
	Local  A
	Remote B
}

// Partition is the 3-way decomposition of two collections under an
// identity predicate.
type Partition[A, B any] struct {
	// ToAdd holds remote elements with no local match.
	ToAdd []B
	// ToDelete holds local elements with no remote match.
	ToDelete []A
	// Union holds the matched pairs, in the locals' relative order.
	Union []Pair[A, B]
}

// partition computes the symmetric set difference of locals and remotes
// with a custom equality, by repeated linear scan-and-remove. Quadratic,
// which is fine at per-sync-batch cardinalities.
func partition[A, B any](locals []A, remotes []B, same func(A, B) bool) Partition[A, B] {
	remaining := slices.Clone(remotes)
	var out Partition[A, B]
	for _, a := range locals {
		matched := false
		for j, b := range remaining {
			if same(a, b) {
				out.Union = append(out.Union, Pair[A, B]{Local: a, Remote: b})
				remaining = slices.Delete(remaining, j, j+1)
				matched = true
				break
			}
		}
		if !matched {
			out.ToDelete = append(out.ToDelete, a)
		}
	}
	out.ToAdd = remaining
	return out
}

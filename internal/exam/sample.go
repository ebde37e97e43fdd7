package exam

import "math/rand"

// PermFunc returns a permutation of [0, n).
type PermFunc func(n int) []int

// sampleQuestions draws k distinct questions uniformly without replacement.
// When the pool holds exactly k questions all of them are taken.
func sampleQuestions(pool []Question, k int, perm PermFunc) []Question {
	if k >= len(pool) {
		out := make([]Question, len(pool))
		copy(out, pool)
		return out
	}
	if perm == nil {
		perm = rand.Perm
	}
	idx := perm(len(pool))
	out := make([]Question, 0, k)
	for _, i := range idx[:k] {
		out = append(out, pool[i])
	}
	return out
}

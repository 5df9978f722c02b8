package ranking

import "sort"

// Top returns the n largest counts in descending order. The input is not modified.
func Top(counts []uint64, n int) []uint64 {
	if n <= 0 {
		return nil
	}
	sorted := append([]uint64(nil), counts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// Score is the product of the two largest counts ("monkey business").
// It depends only on the multiset of counts; with fewer than two counts it is 0.
func Score(counts []uint64) uint64 {
	var first, second uint64
	if len(counts) < 2 {
		return 0
	}
	for _, c := range counts {
		switch {
		case c > first:
			first, second = c, first
		case c > second:
			second = c
		}
	}
	return first * second
}

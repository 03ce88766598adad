// Package util holds small generic helpers shared across forge packages.
package util

import (
	"cmp"
	"maps"
	"slices"
)

// SortedKeys returns the keys of a map in sorted order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

// SortedUnion returns the distinct elements of every list, sorted.
func SortedUnion[T cmp.Ordered](lists ...[]T) []T {
	var out []T
	for _, l := range lists {
		out = append(out, l...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

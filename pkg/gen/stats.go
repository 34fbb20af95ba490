package gen

import (
	"cmp"
	"slices"
)

// SortedKeys returns the keys of the map in ascending order
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Sum of the values of a map
func SumValues[K comparable, V Integer | Float](m map[K]V) V {
	var sum V
	for _, v := range m {
		sum += v
	}
	return sum
}

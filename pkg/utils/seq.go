// Package utils holds small generic helpers shared by the generators.
package utils

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// Map applies fn to every element of input and collects the results.
func Map[T any, U any](input []T, fn func(T) U) []U {
	output := make([]U, len(input))
	for i := range input {
		output[i] = fn(input[i])
	}
	return output
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

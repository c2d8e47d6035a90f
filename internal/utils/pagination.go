// Package utils holds small helpers with no domain knowledge, currently
// the numeric parsing and bounding used for pagination query params.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int and returns def when s is empty
// or not a valid integer.
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ClampInt bounds n to the inclusive range [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Package util contains misc internal utilities.
package util

import "time"

// Clamp returns v bounded to low <= v <= high.
func Clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// SecsToDuration converts a floating point number of seconds to a Duration.
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

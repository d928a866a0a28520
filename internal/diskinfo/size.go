package diskinfo

import "math"

// BytesFromFloat truncates f to whole bytes. Values past the int64 range
// saturate at math.MaxInt64 so they can never fit; NaN and non-positive
// values yield 0, meaning unknown.
func BytesFromFloat(f float64) int64 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= 1<<63:
		return math.MaxInt64
	}
	return int64(f)
}

// BytesFromUint64 saturates n at math.MaxInt64
func BytesFromUint64(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

// requiredSpace is size plus reserve, saturating at math.MaxInt64
func requiredSpace(size, reserve int64) int64 {
	if size > math.MaxInt64-reserve {
		return math.MaxInt64
	}
	return size + reserve
}

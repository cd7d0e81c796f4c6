// Package partition maps a file size to the number of TUS parts the client
// scheduler should split it into.
package partition

// Thresholds as encoded in the source this system was distilled from. The
// README of that source advertises different numbers (50 MiB / 500 MiB /
// 2 GiB -> 1/4/8/16); the thresholds below are the ones its getPartCount
// actually used, and are kept as the source of truth here.
const (
	maxSizeSingle = 512 << 20  // 512 MiB: at or below this, one part
	maxSizeClamp  = 4096 << 20 // 4096 MiB: at or above this, clamp to maxParts
	maxParts      = 8
)

// Count returns the number of parts a file of the given size should be
// split into.
func Count(size int64) int {
	switch {
	case size <= maxSizeSingle:
		return 1
	case size > maxSizeClamp:
		return maxParts
	default:
		parts := size / maxSizeSingle
		if size%maxSizeSingle != 0 {
			parts++
		}
		return int(parts)
	}
}

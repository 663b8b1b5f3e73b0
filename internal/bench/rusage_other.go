//go:build !linux

package bench

// peakRSSKB is unavailable on this platform.
func peakRSSKB() int64 { return 0 }

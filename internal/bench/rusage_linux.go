//go:build linux

package bench

import "golang.org/x/sys/unix"

// peakRSSKB returns the process peak resident set size in kilobytes, or 0 if
// the query fails.
func peakRSSKB() int64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return ru.Maxrss
}

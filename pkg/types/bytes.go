package types

import "fmt"

// Bytes wraps the raw byte count reported by an LLC occupancy counter
// (CMT's L3OCC, read in bytes) so callers can't log it unscaled.
type Bytes uint64

// Humanized renders the occupancy in the largest 1024-based unit (B, KB, MB,
// GB, TB) in which the value is at least 1, with two decimals above bytes,
// for contention log lines where a raw byte count is unreadable.
func (b Bytes) Humanized() string {
	v := float64(b)
	switch {
	case b >= 1<<40:
		return fmt.Sprintf("%.2f TB", v/(1<<40))
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GB", v/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MB", v/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.2f KB", v/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

//go:build unix

package preflight

import "golang.org/x/sys/unix"

// openFileLimit returns the soft RLIMIT_NOFILE.
func openFileLimit() (int, bool) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, false
	}
	if limit.Cur > 1<<30 {
		return 1 << 30, true
	}
	return int(limit.Cur), true
}

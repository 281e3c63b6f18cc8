//go:build linux || darwin

package recorder

import "golang.org/x/sys/unix"

// freeBytes returns the space available to unprivileged users under dir.
func freeBytes(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

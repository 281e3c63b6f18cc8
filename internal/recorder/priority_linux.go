//go:build linux

package recorder

import "golang.org/x/sys/unix"

// captureNice is the niceness requested for the capture thread.
const captureNice = -10

// raiseThreadPriority lowers the niceness of the calling OS thread. The
// caller must have locked itself to that thread.
func raiseThreadPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), captureNice)
}

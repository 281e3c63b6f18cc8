//go:build !linux

package recorder

import "errors"

func raiseThreadPriority() error {
	return errors.New("thread priority not supported on this platform")
}

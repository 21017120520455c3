package cli

import (
	"errors"
	"syscall"
)

// isAddrInUseError reports whether a listen failure was caused by the
// port already being bound.
func isAddrInUseError(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

package toolservice

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrNotConnected wraps every failure to establish a session.
var ErrNotConnected = errors.New("tool service not connected")

// connectionPatterns are message fragments that mark a dead session when
// the underlying error type has been lost in wrapping.
var connectionPatterns = []string{
	"closed",
	"closing",
	"broken pipe",
	"connection reset",
	"connection refused",
	"eof",
	"session not found",
}

// IsConnectionError reports whether err indicates the session itself is
// broken, as opposed to a tool rejecting its input. Cancellation and
// deadlines are never connection errors.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, target := range []error{
		ErrNotConnected, io.EOF, io.ErrUnexpectedEOF, net.ErrClosed,
		syscall.ECONNRESET, syscall.EPIPE, syscall.ECONNREFUSED,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range connectionPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

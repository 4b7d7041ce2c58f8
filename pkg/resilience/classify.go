package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// transportSignatures are the known transport-level failure markers. Only
// errors matching one of these (or a typed equivalent below) trigger the
// reconnect path; everything else is a backend error and must not — a
// misclassified query error would cause needless reconnect storms.
var transportSignatures = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"connection lost",
	"broken pipe",
	"i/o timeout",
	"no such host",
	"network is unreachable",
	"host is unreachable",
	"server closed the connection",
	"unexpected eof",
}

// IsTransient classifies an error as connection loss.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Caller-imposed deadlines are not a connection failure.
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transportSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

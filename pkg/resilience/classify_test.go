package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped cancellation", fmt.Errorf("query: %w", context.Canceled), false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"connection refused errno", syscall.ECONNREFUSED, true},
		{"connection reset errno", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"broken pipe errno", syscall.EPIPE, true},
		{"net timeout", &net.DNSError{Err: "lookup timeout", IsTimeout: true}, true},
		{"refused by message", errors.New("dial tcp 10.0.0.1:5432: connection refused"), true},
		{"server closed by message", errors.New("FATAL: server closed the connection unexpectedly"), true},
		{"i/o timeout by message", errors.New("read tcp: i/o timeout"), true},
		{"constraint violation", errors.New("duplicate key value violates unique constraint"), false},
		{"syntax error", errors.New("syntax error at or near SELECT"), false},
		{"permission denied", errors.New("permission denied for table users"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

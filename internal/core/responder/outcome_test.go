package responder

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminationKeyword(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
	}{
		{"quit", true},
		{"exit", true},
		{"QUIT", true},
		{"Exit", true},
		{"  quit  ", true},
		{"quit\r\n", true},
		{"\texit\n", true},
		{"quit now", false},
		{"qui", false},
		{"exits", false},
		{"", false},
		{"ping", false},
		{"\vquit\f", true},
		{"quit\u00a0", false},
		{"\u0085exit", false},
		{"\u3000quit", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.payload), func(t *testing.T) {
			assert.Equal(t, tt.want, IsTerminationKeyword([]byte(tt.payload)))
		})
	}
}

func TestClassify(t *testing.T) {
	reset := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
	pipe := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}
	closed := &net.OpError{Op: "read", Net: "tcp", Err: net.ErrClosed}

	tests := []struct {
		name      string
		err       error
		cancelled bool
		want      Outcome
	}{
		{"nil", nil, false, OutcomeOK},
		{"eof", io.EOF, false, OutcomePeerClosed},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), false, OutcomePeerClosed},
		{"reset", reset, false, OutcomeReset},
		{"broken pipe", pipe, false, OutcomeReset},
		{"closed", closed, false, OutcomeCancelled},
		{"deadline", os.ErrDeadlineExceeded, false, OutcomeTimeout},
		{"forced close wins", reset, true, OutcomeCancelled},
		{"unknown", errors.New("boom"), false, OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err, tt.cancelled))
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "peer_closed", OutcomePeerClosed.String())
	assert.Equal(t, "terminated", OutcomeTerminated.String())
	assert.Equal(t, "unknown", Outcome(42).String())

	text, err := OutcomeTimeout.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "timeout", string(text))
}

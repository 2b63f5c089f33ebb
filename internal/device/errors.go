// Package device talks to relay controllers over their HTTP status/toggle interface.
package device

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrProbeTimeout means the controller did not answer a status probe in time.
	ErrProbeTimeout = errors.New("timeout")
	// ErrProbeTransport covers connection failures and non-200 answers to a probe.
	ErrProbeTransport = errors.New("unreachable")
	// ErrProbeMalformed means the controller answered 200 with an undecodable body.
	ErrProbeMalformed = errors.New("malformed status payload")
	// ErrCommandTransport means a toggle command was not acknowledged.
	ErrCommandTransport = errors.New("command not delivered")
)

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

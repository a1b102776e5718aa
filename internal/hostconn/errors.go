package hostconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error kinds surfaced to callers and translated into API error codes.
var (
	ErrHostUnknown = errors.New("host not configured")
	ErrAuthFailed  = errors.New("authentication failed")
	ErrNetwork     = errors.New("network error")
	ErrJumpHost    = errors.New("jump host connection failed")
	ErrTimeout     = errors.New("connection timed out")
)

// classifyConnectError wraps a raw dial/handshake error with the matching
// sentinel so callers can errors.Is against the kind.
func classifyConnectError(err error, viaJump bool) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case strings.Contains(err.Error(), "unable to authenticate"),
		strings.Contains(err.Error(), "no supported methods remain"),
		strings.Contains(err.Error(), "permission denied"):
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	case viaJump:
		return fmt.Errorf("%w: %v", ErrJumpHost, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

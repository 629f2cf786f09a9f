package email

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrFolderNotFound is returned when no server mailbox matches a folder name
var ErrFolderNotFound = errors.New("folder not found")

// ErrStartTLSUnavailable is returned when a plaintext connection cannot be
// upgraded and the account does not allow unencrypted logins
var ErrStartTLSUnavailable = errors.New("server does not offer STARTTLS")

// NetworkError wraps transport failures: dial errors, timeouts and dropped
// connections. The operation can be retried on the next cycle.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError means the server rejected the credentials
type AuthError struct {
	Account string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Account, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is, or wraps, an AuthError
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNetworkError reports whether err is, or wraps, a NetworkError
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// ItemError is a failure confined to one message; the batch carries on
type ItemError struct {
	UID uint32
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("message uid %d: %v", e.UID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// transportFailure reports whether err came from the connection rather than
// from a tagged server response
func transportFailure(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection closed") || strings.Contains(msg, "connection reset")
}

// wrapNetwork turns transport failures into NetworkError and leaves the rest alone
func wrapNetwork(op string, err error) error {
	if err == nil {
		return nil
	}
	if transportFailure(err) {
		return &NetworkError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

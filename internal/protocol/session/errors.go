package session

import (
	"errors"
	"fmt"
)

var (
	ErrIO               = errors.New("session: io failure")
	ErrKindMismatch     = errors.New("session: response kind mismatch")
	ErrDeserialization  = errors.New("session: response body does not parse")
	ErrTimeout          = errors.New("session: heartbeat timeout")
	ErrConnectionClosed = errors.New("session: connection closed")
	ErrChannelClosed    = errors.New("session: channel closed")
	ErrRemote           = errors.New("session: remote error")
)

// RemoteError carries the error string a peer returned in a result/<kind> frame.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("session: remote error on %s: %s", e.Kind, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// IsFatal reports whether err leaves the connection unusable.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRemote), errors.Is(err, ErrDeserialization):
		return false
	default:
		return true
	}
}

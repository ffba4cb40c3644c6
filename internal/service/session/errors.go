package session

import (
	"errors"
	"fmt"
)

var (
	ErrUsernameRequired  = errors.New("session: username is required")
	ErrTransportRequired = errors.New("session: transport is required")

	// ErrGuardRejected is wrapped by every refusal of an outbound request.
	ErrGuardRejected          = errors.New("session: request rejected")
	ErrNotConnected           = fmt.Errorf("%w: not connected", ErrGuardRejected)
	ErrEmptyText              = fmt.Errorf("%w: empty text", ErrGuardRejected)
	ErrInvalidTranslationMode = fmt.Errorf("%w: invalid translation mode", ErrGuardRejected)

	// ErrDisconnected is the cause recorded when the transport closes cleanly.
	ErrDisconnected = errors.New("session: transport disconnected")
	// ErrAbandoned is the cause recorded when Close runs before the transport connected.
	ErrAbandoned = errors.New("session: closed before connecting")

	ErrInvalidTransition = errors.New("session: invalid state transition")
	ErrNotAccepting      = errors.New("session: not accepting deliveries")
	ErrUnknownRoute      = errors.New("session: unknown route")
)

// ConnectError reports a transport-level connection failure.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("session: transport connection error: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
